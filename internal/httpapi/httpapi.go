package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"sewainaja/backend/internal/domain"
	"sewainaja/backend/internal/pricing"
	"sewainaja/backend/internal/service"
	"sewainaja/backend/internal/settlement"
	"sewainaja/backend/internal/store"
)

// maxUploadBytes bounds settlement file uploads.
const maxUploadBytes = 16 << 20

// SyncRunner triggers a feed sync across all listings.
type SyncRunner interface {
	RunAll(ctx context.Context) ([]domain.SyncResult, error)
}

type API struct {
	service       *service.Service
	reconciler    *settlement.Reconciler
	syncer        SyncRunner
	auth          *AuthManager
	logger        *log.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, reconciler *settlement.Reconciler, syncer SyncRunner, auth *AuthManager, logger *log.Logger, allowedOrigin string) *API {
	if logger == nil {
		logger = log.Default()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		reconciler:    reconciler,
		syncer:        syncer,
		auth:          auth,
		logger:        logger.With("component", "httpapi"),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current or previous hour bucket, giving
// tokens a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(currentBucket - 3600)
	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
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
	kept = append(kept, now)
	l.entries[key] = kept
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

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	// Public booking surface.
	mux.HandleFunc("/api/v1/listings", a.handleListings)
	mux.HandleFunc("/api/v1/listings/", a.handleListingActions)
	mux.HandleFunc("/api/v1/quotes", a.handleQuote)
	mux.HandleFunc("/api/v1/bookings", a.handleBookings)
	mux.HandleFunc("/api/v1/bookings/", a.requireAuth(a.handleBookingActions, "staff", "operator"))

	// Operator calendar management.
	mux.HandleFunc("/api/v1/calendar/block", a.requireAuth(a.handleBlock, "staff", "operator"))
	mux.HandleFunc("/api/v1/calendar/unblock", a.requireAuth(a.handleUnblock, "staff", "operator"))
	mux.HandleFunc("/api/v1/calendar/overrides", a.requireAuth(a.handleOverrides, "staff", "operator"))

	mux.HandleFunc("/api/v1/rules", a.requireAuth(a.handleRules, "operator"))
	mux.HandleFunc("/api/v1/rules/", a.requireAuth(a.handleRuleActions, "operator"))
	mux.HandleFunc("/api/v1/promos", a.requireAuth(a.handlePromos, "staff", "operator"))
	mux.HandleFunc("/api/v1/promos/", a.requireAuth(a.handlePromoActions, "operator"))

	mux.HandleFunc("/api/v1/settlements/preview", a.requireAuth(a.handleSettlementPreview, "operator"))
	mux.HandleFunc("/api/v1/settlements/commit", a.requireAuth(a.handleSettlementCommit, "operator"))

	mux.HandleFunc("/api/v1/sync/run", a.requireAuth(a.handleSyncRun, "operator"))
	mux.HandleFunc("/api/v1/sync/logs", a.requireAuth(a.handleSyncLogs, "staff", "operator"))

	mux.HandleFunc("/api/v1/finance/entries", a.requireAuth(a.handleFinanceEntries, "operator"))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, "operator"))
	mux.HandleFunc("/api/v1/users/staff", a.requireAuth(a.handleStaff, "operator"))

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
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
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

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths lists paths exempt from CSRF validation. Login is
// called before any token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch && method != http.MethodDelete {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleListings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		activeOnly := true
		if strings.EqualFold(r.URL.Query().Get("include_inactive"), "true") {
			// Only signed-in users may see inactive listings.
			if _, ok := service.ActorFromContext(a.actorContext(r)); ok {
				activeOnly = false
			}
		}
		listings, err := a.service.ListListings(a.actorContext(r), activeOnly)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
	case http.MethodPost:
		ctx, ok := a.authedContext(w, r, "operator")
		if !ok {
			return
		}
		var req domain.ListingCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		listing, err := a.service.CreateListing(ctx, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"listing": listing})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleListingActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/listings/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("listing id required"))
		return
	}

	if strings.HasSuffix(tail, "/calendar") {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		listingID := strings.Trim(strings.TrimSuffix(tail, "/calendar"), "/")
		entries, err := a.service.Calendar(r.Context(), listingID,
			r.URL.Query().Get("start"), r.URL.Query().Get("end"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		return
	}

	switch r.Method {
	case http.MethodGet:
		listing, err := a.service.GetListing(r.Context(), tail)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"listing": listing})
	case http.MethodPatch:
		ctx, ok := a.authedContext(w, r, "operator")
		if !ok {
			return
		}
		var req domain.ListingUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		listing, err := a.service.UpdateListing(ctx, tail, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"listing": listing})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.QuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	breakdown, err := a.service.Quote(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quote": breakdown})
}

func (a *API) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ctx, ok := a.authedContext(w, r, "staff", "operator")
		if !ok {
			return
		}
		listingID := r.URL.Query().Get("listing_id")
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
		bookings, err := a.service.ListBookings(ctx, listingID, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
	case http.MethodPost:
		var req domain.BookingCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		// Guests cannot choose an origin; operators may book manually.
		// Anything outside direct/manual is rejected before it reaches
		// the service layer.
		switch req.Origin {
		case "", domain.OriginDirect:
		case domain.OriginManual:
			if _, ok := service.ActorFromContext(a.actorContext(r)); !ok {
				writeError(w, http.StatusForbidden, errors.New("manual bookings require a signed-in user"))
				return
			}
		default:
			writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported booking origin %q", req.Origin))
			return
		}
		booking, err := a.service.CreateBooking(a.actorContext(r), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, domain.BookingResponse{Booking: booking})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleBookingActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/bookings/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("booking id required"))
		return
	}

	if strings.HasSuffix(tail, "/cancel") {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		bookingID := strings.Trim(strings.TrimSuffix(tail, "/cancel"), "/")
		booking, err := a.service.CancelBooking(r.Context(), bookingID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.BookingResponse{Booking: booking})
		return
	}

	if strings.HasSuffix(tail, "/status") {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		bookingID := strings.Trim(strings.TrimSuffix(tail, "/status"), "/")
		var req struct {
			Status string `json:"status"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		booking, err := a.service.UpdateBookingStatus(r.Context(), bookingID, req.Status)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.BookingResponse{Booking: booking})
		return
	}

	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	booking, err := a.service.GetBooking(r.Context(), tail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.BookingResponse{Booking: booking})
}

func (a *API) handleBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.BlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	written, skipped, err := a.service.Block(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"written": written, "skipped": skipped})
}

func (a *API) handleUnblock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.BlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	released, err := a.service.Unblock(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": released})
}

func (a *API) handleOverrides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.BlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	written, skipped, err := a.service.SetOverrides(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"written": written, "skipped": skipped})
}

func (a *API) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rules, err := a.service.ListSeasonalRules(r.Context(), r.URL.Query().Get("listing_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
	case http.MethodPost:
		var req domain.SeasonalRuleCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rule, err := a.service.CreateSeasonalRule(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"rule": rule})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleRuleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/rules/"
	ruleID := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if ruleID == "" {
		writeError(w, http.StatusBadRequest, errors.New("rule id required"))
		return
	}

	if err := a.service.DeleteSeasonalRule(r.Context(), ruleID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handlePromos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		promos, err := a.service.ListPromos(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"promos": promos})
	case http.MethodPost:
		var req domain.PromoCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		promo, err := a.service.CreatePromo(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"promo": promo})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePromoActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/promos/"
	if !strings.HasSuffix(r.URL.Path, "/toggle") {
		writeError(w, http.StatusBadRequest, errors.New("unknown promo action"))
		return
	}
	code := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/toggle")
	code = strings.TrimSpace(strings.Trim(code, "/"))
	if code == "" {
		writeError(w, http.StatusBadRequest, errors.New("promo code required"))
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	promo, err := a.service.SetPromoActive(r.Context(), code, req.Active)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"promo": promo})
}

func (a *API) handleSettlementPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	data, filename, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	preview, err := a.reconciler.Preview(r.Context(), data, filename)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (a *API) handleSettlementCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	data, filename, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.reconciler.Commit(r.Context(), data, filename)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func readUpload(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", fmt.Errorf("invalid upload: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", errors.New("file field required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, "", err
	}
	return data, header.Filename, nil
}

func (a *API) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	results, err := a.syncer.RunAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *API) handleSyncLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	listingID := r.URL.Query().Get("listing_id")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
	logs, err := a.service.ListSyncLogs(r.Context(), listingID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleFinanceEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	listingID := r.URL.Query().Get("listing_id")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	entries, err := a.service.ListFinanceEntries(r.Context(), listingID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	var from, to time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from date %q", raw))
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to date %q", raw))
			return
		}
		to = parsed.AddDate(0, 0, 1)
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), from, to, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleStaff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListStaff()})
	case http.MethodPost:
		var req StaffCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.auth.CreateStaff(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}

// actorContext resolves an optional bearer token so public endpoints can
// recognize signed-in operators without requiring auth.
func (a *API) actorContext(r *http.Request) context.Context {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return r.Context()
	}
	actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
	if err != nil {
		return r.Context()
	}
	return service.WithActor(r.Context(), actor)
}

// authedContext is like requireAuth for handlers that mix public and
// protected methods on one route.
func (a *API) authedContext(w http.ResponseWriter, r *http.Request, roles ...string) (context.Context, bool) {
	ctx := a.actorContext(r)
	actor, ok := service.ActorFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
		return nil, false
	}
	if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
		writeError(w, http.StatusForbidden, errors.New("forbidden role"))
		return nil, false
	}
	return ctx, true
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(startedAt).Round(time.Microsecond))
	})
}

// writeServiceError maps domain errors onto HTTP statuses. Anything
// unrecognized is treated as a validation failure, matching the
// user-facing nature of service errors.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, pricing.ErrInvalidRange):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrConflict), errors.Is(err, pricing.ErrDatesUnavailable):
		status = http.StatusConflict
	}
	writeError(w, status, err)
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

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay out of responses; 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
