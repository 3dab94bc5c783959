package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/xid"
)

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return compareNewest(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetDailyReport counts sales created in [from, to) and refunds written in
// the same window, so a refund of an older sale lowers the day it happened.
func (s *Store) GetDailyReport(_ context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inWindow := func(t time.Time) bool {
		return !t.Before(from) && t.Before(to)
	}

	report := domain.DailyReport{
		GrossSales:           decimal.Zero,
		Discount:             decimal.Zero,
		Tax:                  decimal.Zero,
		Refunds:              decimal.Zero,
		NetSales:             decimal.Zero,
		RepairPayments:       decimal.Zero,
		RepairPaymentRefunds: decimal.Zero,
		ByPayment:            make([]domain.DailyReportPayment, 0, 2),
	}
	byPayment := map[string]*domain.DailyReportPayment{}
	collected := decimal.Zero

	for _, sale := range s.salesByID {
		for _, refund := range sale.Refunds {
			if inWindow(refund.CreatedAt) {
				report.Refunds = report.Refunds.Add(refund.Amount)
			}
		}
		if !inWindow(sale.CreatedAt) {
			continue
		}
		report.Sales++
		report.GrossSales = report.GrossSales.Add(sale.Subtotal)
		report.Discount = report.Discount.Add(sale.Discount)
		report.Tax = report.Tax.Add(sale.Tax)
		collected = collected.Add(sale.Total)

		entry := byPayment[sale.PaymentMethod]
		if entry == nil {
			entry = &domain.DailyReportPayment{PaymentMethod: sale.PaymentMethod, Total: decimal.Zero}
			byPayment[sale.PaymentMethod] = entry
		}
		entry.Sales++
		entry.Total = entry.Total.Add(sale.Total)
	}
	report.NetSales = collected.Sub(report.Refunds)

	for _, payment := range s.paymentsByID {
		if payment.Status != domain.PaymentStatusPending && inWindow(payment.CreatedAt) {
			report.RepairPayments = report.RepairPayments.Add(payment.Amount)
		}
		if payment.RefundedAt != nil && inWindow(*payment.RefundedAt) {
			report.RepairPaymentRefunds = report.RepairPaymentRefunds.Add(payment.RefundAmount)
		}
	}

	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.DailyReportPayment) int {
		return strings.Compare(a.PaymentMethod, b.PaymentMethod)
	})
	return report, nil
}
