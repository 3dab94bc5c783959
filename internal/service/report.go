package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
)

func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.DailyReport{}, err
	}

	from, err := parseDay(date)
	if err != nil {
		return domain.DailyReport{}, err
	}
	to := from.Add(24 * time.Hour)

	report, err := s.repo.GetDailyReport(ctx, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.Date = from.Format("2006-01-02")
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}
