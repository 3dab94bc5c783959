package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"repairpos/backend/internal/service"
	"repairpos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	pinLimiter    *limiter.Limiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, pinAttemptsPerMinute int) *API {
	if pinAttemptsPerMinute < 1 {
		pinAttemptsPerMinute = 8
	}
	rate := limiter.Rate{Period: time.Minute, Limit: int64(pinAttemptsPerMinute)}

	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		pinLimiter:    limiter.New(memory.NewStore(), rate),
	}
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

var (
	staff     = []string{"admin", "cashier", "technician"}
	frontDesk = []string{"admin", "cashier"}
	workshop  = []string{"admin", "technician"}
	adminOnly = []string{"admin"}
)

var errInvalidCustomerID = errors.New("customer_id must be a positive integer")

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)

	mux.HandleFunc("GET /api/v1/categories", a.requireAuth(a.handleListCategories, staff...))
	mux.HandleFunc("POST /api/v1/categories", a.requireAuth(a.handleCreateCategory, adminOnly...))

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, staff...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, adminOnly...))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, staff...))
	mux.HandleFunc("PATCH /api/v1/products/{id}", a.requireAuth(a.handleUpdateProduct, adminOnly...))
	mux.HandleFunc("POST /api/v1/products/{id}/stock", a.requireAuth(a.handleAdjustProductStock, adminOnly...))

	mux.HandleFunc("GET /api/v1/spare-parts", a.requireAuth(a.handleListSpareParts, staff...))
	mux.HandleFunc("POST /api/v1/spare-parts", a.requireAuth(a.handleCreateSparePart, adminOnly...))
	mux.HandleFunc("GET /api/v1/spare-parts/{id}", a.requireAuth(a.handleGetSparePart, staff...))
	mux.HandleFunc("PATCH /api/v1/spare-parts/{id}", a.requireAuth(a.handleUpdateSparePart, adminOnly...))
	mux.HandleFunc("POST /api/v1/spare-parts/{id}/stock", a.requireAuth(a.handleAdjustSparePartStock, workshop...))

	mux.HandleFunc("GET /api/v1/repair-services", a.requireAuth(a.handleListRepairServices, staff...))
	mux.HandleFunc("POST /api/v1/repair-services", a.requireAuth(a.handleCreateRepairService, adminOnly...))
	mux.HandleFunc("PATCH /api/v1/repair-services/{id}", a.requireAuth(a.handleUpdateRepairService, adminOnly...))

	mux.HandleFunc("GET /api/v1/customers", a.requireAuth(a.handleListCustomers, staff...))
	mux.HandleFunc("POST /api/v1/customers", a.requireAuth(a.handleCreateCustomer, staff...))
	mux.HandleFunc("GET /api/v1/customers/{id}", a.requireAuth(a.handleGetCustomer, staff...))

	mux.HandleFunc("POST /api/v1/checkout", a.requireAuth(a.handleCheckout, frontDesk...))
	mux.HandleFunc("GET /api/v1/checkout/idempotency/{key}", a.requireAuth(a.handleCheckoutLookup, frontDesk...))
	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleListSales, frontDesk...))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, frontDesk...))
	mux.HandleFunc("POST /api/v1/sales/{id}/refunds", a.requireAuth(a.handleRefund, adminOnly...))

	mux.HandleFunc("GET /api/v1/repair-orders", a.requireAuth(a.handleListRepairOrders, staff...))
	mux.HandleFunc("POST /api/v1/repair-orders", a.requireAuth(a.handleCreateRepairOrder, staff...))
	mux.HandleFunc("GET /api/v1/repair-orders/{id}", a.requireAuth(a.handleGetRepairOrder, staff...))
	mux.HandleFunc("POST /api/v1/repair-orders/{id}/services", a.requireAuth(a.handleAddRepairService, staff...))
	mux.HandleFunc("POST /api/v1/repair-orders/{id}/services/{serviceId}/parts", a.requireAuth(a.handleAddRepairPart, staff...))
	mux.HandleFunc("DELETE /api/v1/repair-orders/{id}/parts/{partId}", a.requireAuth(a.handleRemoveRepairPart, staff...))
	mux.HandleFunc("POST /api/v1/repair-orders/{id}/recalculate", a.requireAuth(a.handleRecalculateRepairOrder, staff...))
	mux.HandleFunc("PATCH /api/v1/repair-orders/{id}/status", a.requireAuth(a.handleRepairOrderStatus, staff...))
	mux.HandleFunc("POST /api/v1/repair-orders/{id}/payments", a.requireAuth(a.handleRecordPayment, frontDesk...))

	mux.HandleFunc("GET /api/v1/payments/{id}", a.requireAuth(a.handleGetPayment, frontDesk...))
	mux.HandleFunc("PATCH /api/v1/payments/{id}/status", a.requireAuth(a.handlePaymentStatus, frontDesk...))
	mux.HandleFunc("POST /api/v1/payments/{id}/refund", a.requireAuth(a.handlePaymentRefund, adminOnly...))

	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, adminOnly...))
	mux.HandleFunc("GET /api/v1/reports/daily", a.requireAuth(a.handleDailyReport, adminOnly...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// checkManagerPIN counts every attempt, valid or not, against the caller's
// per-minute budget before comparing the PIN.
func (a *API) checkManagerPIN(w http.ResponseWriter, r *http.Request, scope string, pin string) bool {
	limit, err := a.pinLimiter.Get(r.Context(), "pin:"+scope+":"+clientKey(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return false
	}
	if limit.Reached {
		writeFailure(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return false
	}
	if !a.auth.ValidateManagerPIN(pin) {
		writeFailure(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return false
	}
	return true
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case service.IsRoleError(err):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrRefundExceedsQuantity),
		errors.Is(err, store.ErrAlreadyRefunded),
		errors.Is(err, store.ErrInvalidStatusTransition),
		errors.Is(err, store.ErrOrderClosed),
		errors.Is(err, store.ErrDuplicateReference),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnknownLineItem):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func parseID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue(name)), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return id, nil
}

// parseTimeParam accepts either a calendar day or an RFC 3339 instant.
func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New("time must be YYYY-MM-DD or RFC 3339")
	}
	t = t.UTC()
	return &t, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeFailure is writeError for the checkout and refund endpoints, whose
// clients read success and message on every response.
func writeFailure(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": msg,
		"error":   msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
