package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ealtrack/internal/apperr"
	"ealtrack/internal/domain"
	"ealtrack/internal/ledger"
	"ealtrack/internal/logging"
	"ealtrack/internal/metrics"
	"ealtrack/internal/service"
	"ealtrack/internal/store"
)

type Options struct {
	AllowedOrigin string
	// Repository names the backing store in /healthz.
	Repository    string
	Logger        *logrus.Logger
	Metrics       *metrics.Metrics
	ExposeMetrics bool
}

type API struct {
	service      *service.Service
	auth         *AuthManager
	opts         Options
	logger       *logrus.Logger
	loginLimiter *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Repository == "" {
		opts.Repository = "memory"
	}
	return &API{
		service:      svc,
		auth:         auth,
		opts:         opts,
		logger:       opts.Logger,
		loginLimiter: newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
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

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	both := []string{domain.RoleOperator, domain.RoleAdmin}

	mux.HandleFunc("/healthz", a.handleHealth)
	if a.opts.ExposeMetrics && a.opts.Metrics != nil {
		mux.Handle("/metrics", a.opts.Metrics.Handler())
	}
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/eal_issuance", a.requireAuth(a.handleIssuances, both...))
	mux.HandleFunc("/api/v1/eal_usage", a.requireAuth(a.handleUsages, both...))
	mux.HandleFunc("/api/v1/eal_usage/find", a.requireAuth(a.handleFindByEALNumber, both...))
	mux.HandleFunc("/api/v1/dispatch", a.requireAuth(a.handleDispatches, both...))
	mux.HandleFunc("/api/v1/dispatch/", a.requireAuth(a.handleDispatchActions, both...))
	mux.HandleFunc("/api/v1/eal_dispatch/add_eal_link", a.requireAuth(a.handleLink, both...))
	mux.HandleFunc("/api/v1/eal_dispatch/remove_eal_link", a.requireAuth(a.handleUnlink, both...))

	mux.HandleFunc("/api/v1/companies", a.requireAuth(a.handleCompanies, both...))
	mux.HandleFunc("/api/v1/packs", a.requireAuth(a.handlePacks, both...))
	mux.HandleFunc("/api/v1/items", a.requireAuth(a.handleItems, both...))
	mux.HandleFunc("/api/v1/delivery", a.requireAuth(a.handleDeliveryLocations, both...))

	mux.HandleFunc("/api/v1/stock/eal", a.requireAuth(a.handleEALStock, both...))
	mux.HandleFunc("/api/v1/stock/finished", a.requireAuth(a.handleFinishedStock, both...))
	mux.HandleFunc("/api/v1/dashboard", a.requireAuth(a.handleDashboard, both...))
	mux.HandleFunc("/api/v1/settings", a.requireAuth(a.handleSettings, both...))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleAdmin))

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

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"at":         time.Now().UTC().Format(time.RFC3339),
		"repository": a.opts.Repository,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleIssuances(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter, err := parseListFilter(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		records, err := a.service.ListIssuances(r.Context(), filter)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": records})
	case http.MethodPost:
		var req domain.IssuanceCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
		rec, duplicate, err := a.service.CreateIssuance(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeCreated(w, rec, duplicate)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleUsages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter, err := parseListFilter(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		records, err := a.service.ListUsages(r.Context(), filter)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": records})
	case http.MethodPost:
		var req domain.UsageCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
		rec, duplicate, err := a.service.CreateUsage(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeCreated(w, rec, duplicate)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleFindByEALNumber(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	results, err := a.service.FindByEALNumber(r.Context(), domain.EALLookupRequest{
		EALNumber: q.Get("ealNumber"),
		Company:   q.Get("company"),
		Market:    q.Get("market"),
		Pack:      q.Get("pack"),
		UsedDate:  q.Get("usedDate"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": results})
}

func (a *API) handleDispatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter, err := parseListFilter(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		records, err := a.service.ListDispatches(r.Context(), filter)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": records})
	case http.MethodPost:
		var req domain.DispatchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
		rec, duplicate, err := a.service.CreateDispatch(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeCreated(w, rec, duplicate)
	default:
		writeMethodNotAllowed(w)
	}
}

// handleDispatchActions serves /dispatch/{id}, /dispatch/{id}/status and
// /dispatch/{id}/vehicle, plus the link endpoints under /dispatch/.
func (a *API) handleDispatchActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/dispatch/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("dispatch id required"))
		return
	}

	switch {
	case action == "" && id == "add_eal_link":
		a.handleLink(w, r)
	case action == "" && id == "remove_eal_link":
		a.handleUnlink(w, r)
	case action == "":
		a.handleDispatch(w, r, id)
	case action == "status":
		if r.Method != http.MethodPut {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.DispatchStatusRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rec, err := a.service.UpdateDispatchStatus(r.Context(), id, req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case action == "vehicle":
		if r.Method != http.MethodPut {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.VehicleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rec, err := a.service.AttachVehicle(r.Context(), id, req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown dispatch action"))
	}
}

func (a *API) handleDispatch(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		rec, err := a.service.GetDispatch(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut:
		var req domain.DispatchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rec, err := a.service.UpdateDispatch(r.Context(), id, req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		if err := a.service.DeleteDispatch(r.Context(), id); err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Dispatch deleted"})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.EALLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.LinkEAL(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleUnlink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.EALLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.UnlinkEAL(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCompanies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		companies, err := a.service.ListCompanies(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": companies})
	case http.MethodPost:
		var req domain.CompanyCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateCompany(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePacks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		packs, err := a.service.ListPacks(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": packs})
	case http.MethodPost:
		var req domain.PackCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreatePack(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		items, err := a.service.ListItems(r.Context(), domain.ListFilter{
			Company: strings.TrimSpace(q.Get("company")),
			Market:  domain.Market(strings.TrimSpace(q.Get("market"))),
			Pack:    strings.TrimSpace(q.Get("pack")),
		})
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": items})
	case http.MethodPost:
		var req domain.ItemCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateItem(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleDeliveryLocations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		locations, err := a.service.ListDeliveryLocations(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": locations})
	case http.MethodPost:
		var req domain.DeliveryLocationCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateDeliveryLocation(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleEALStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	stock, err := a.service.EALStock(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": stock})
}

func (a *API) handleFinishedStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	stock, err := a.service.FinishedStock(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": stock})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	dash, err := a.service.Dashboard(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.service.Settings())
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": logs})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"data": a.auth.ListUsers(r.Context())})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.auth.CreateUser(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	default:
		writeMethodNotAllowed(w)
	}
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, errInvalidUser):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrInvariant):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Validation and invariant errors
// carry the offending field or rule.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.LogError(a.logger, "httpapi", r.Method+" "+r.URL.Path, "request failed", nil, err)
		writeError(w, status, err)
		return
	}

	body := map[string]any{"error": err.Error()}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
		body["error"] = ve.Message
	}
	if rule := apperr.RuleOf(err); rule != "" {
		body["rule"] = rule
	}
	writeJSON(w, status, body)
}

func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	q := r.URL.Query()
	filter := domain.ListFilter{
		BalanceOnly: strings.EqualFold(strings.TrimSpace(q.Get("type")), "balance"),
		Company:     strings.TrimSpace(q.Get("company")),
		Market:      domain.Market(strings.TrimSpace(q.Get("market"))),
		Pack:        strings.TrimSpace(q.Get("pack")),
		Item:        strings.TrimSpace(q.Get("item")),
		Status:      domain.DispatchStatus(strings.TrimSpace(q.Get("status"))),
	}
	if filter.Market != "" && !filter.Market.Valid() {
		return filter, apperr.Invalid("market", "market must be one of: local, export")
	}
	switch filter.Status {
	case "", domain.DispatchDraft, domain.DispatchFinal, domain.DispatchLoaded:
	default:
		return filter, apperr.Invalid("status", "status must be one of: draft, final, loaded")
	}
	if raw := q.Get("startDate"); strings.TrimSpace(raw) != "" {
		t, err := ledger.ParseDate("startDate", raw)
		if err != nil {
			return filter, err
		}
		filter.StartDate = &t
	}
	if raw := q.Get("endDate"); strings.TrimSpace(raw) != "" {
		t, err := ledger.ParseDate("endDate", raw)
		if err != nil {
			return filter, err
		}
		filter.EndDate = &t
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return filter, apperr.Invalid("endDate", "end date must not be before start date")
	}
	return filter, nil
}

// statusRecorder captures the response code for metrics and request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.opts.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		a.opts.Metrics.ObserveRequest(r.Method, rec.status)
		a.logger.WithFields(logrus.Fields{
			"module":  "httpapi",
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  rec.status,
			"latency": time.Since(startedAt).String(),
		}).Info("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
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

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx detail stays in the server log.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeCreated answers a create call. A replayed idempotency key returns
// the original record with 200 and "duplicate": true.
func writeCreated(w http.ResponseWriter, record any, duplicate bool) {
	if !duplicate {
		writeJSON(w, http.StatusCreated, record)
		return
	}
	raw, err := json.Marshal(record)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var fields map[string]any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&fields); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	fields["duplicate"] = true
	writeJSON(w, http.StatusOK, fields)
}
