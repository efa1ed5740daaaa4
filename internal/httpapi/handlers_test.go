package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sewainaja/backend/internal/domain"
	"sewainaja/backend/internal/pricing"
	"sewainaja/backend/internal/service"
	"sewainaja/backend/internal/settlement"
	"sewainaja/backend/internal/store/memory"
)

type stubSyncRunner struct {
	runs int
}

func (s *stubSyncRunner) RunAll(context.Context) ([]domain.SyncResult, error) {
	s.runs++
	return []domain.SyncResult{}, nil
}

// newTestAPI builds a full API with a seeded in-memory store, real
// AuthManager and real Service so handler tests exercise the complete
// request path.
func newTestAPI(t *testing.T) (*API, *stubSyncRunner) {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, time.Minute, "IDR", pricing.Policy{TouristTaxAllGuests: true})
	reconciler := settlement.NewReconciler(repo, nil, 15, "IDR")
	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	runner := &stubSyncRunner{}

	return New(svc, reconciler, runner, auth, nil, "*"), runner
}

func csrfToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf body: %v", err)
	}
	return body["csrf_token"]
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func postJSON(t *testing.T, handler http.Handler, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", csrfToken(t, handler))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "operator",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "operator",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestQuoteEndpointIsPublic(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	rec := postJSON(t, handler, "/api/v1/quotes", "", domain.QuoteRequest{
		ListingID:   "lst_studio_kota",
		CheckIn:     "2030-06-03",
		CheckOut:    "2030-06-05",
		GuestsCount: 2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Quote domain.PricingBreakdown `json:"quote"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Quote.TotalCents <= 0 || body.Quote.Nights != 2 {
		t.Fatalf("unexpected quote: %+v", body.Quote)
	}
}

func TestBookingConflictMapsTo409(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := domain.BookingCreateRequest{
		ListingID: "lst_studio_kota",
		CheckIn:   "2030-06-10",
		CheckOut:  "2030-06-12",
		GuestName: "Maria Oliveira",
	}
	if rec := postJSON(t, handler, "/api/v1/bookings", "", req); rec.Code != http.StatusCreated {
		t.Fatalf("first booking: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	req.GuestName = "Jan Kowalski"
	if rec := postJSON(t, handler, "/api/v1/bookings", "", req); rec.Code != http.StatusConflict {
		t.Fatalf("overlapping booking: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestBookingRejectsUnsupportedOrigin(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "operator", "operator123")

	req := domain.BookingCreateRequest{
		ListingID: "lst_studio_kota",
		CheckIn:   "2030-07-01",
		CheckOut:  "2030-07-03",
		GuestName: "Maria Oliveira",
		Origin:    domain.OriginExternalFeed,
	}
	// Even a signed-in operator cannot smuggle an import origin through
	// the public path.
	if rec := postJSON(t, handler, "/api/v1/bookings", token, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("feed origin: expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	req.Origin = domain.OriginManual
	if rec := postJSON(t, handler, "/api/v1/bookings", "", req); rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous manual booking: expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestBookingsListRequiresAuth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	token := login(t, handler, "staff", "staff123")
	authed := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	authed.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authed)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestBlockEndpointRoles(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	block := domain.BlockRequest{
		ListingID: "lst_studio_kota",
		Start:     "2030-07-01",
		End:       "2030-07-04",
	}
	if rec := postJSON(t, handler, "/api/v1/calendar/block", "", block); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous block: expected 401, got %d", rec.Code)
	}

	token := login(t, handler, "staff", "staff123")
	rec := postJSON(t, handler, "/api/v1/calendar/block", token, block)
	if rec.Code != http.StatusOK {
		t.Fatalf("staff block: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["written"] != 3 {
		t.Fatalf("expected 3 written nights, got %v", body)
	}
}

func TestRulesRequireOperator(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	rule := domain.SeasonalRuleCreateRequest{
		ListingID:        "lst_villa_cempaka",
		Start:            "2030-07-01",
		End:              "2030-08-31",
		NightlyRateCents: 12000000,
	}

	staffToken := login(t, handler, "staff", "staff123")
	if rec := postJSON(t, handler, "/api/v1/rules", staffToken, rule); rec.Code != http.StatusForbidden {
		t.Fatalf("staff rule create: expected 403, got %d", rec.Code)
	}

	operatorToken := login(t, handler, "operator", "operator123")
	if rec := postJSON(t, handler, "/api/v1/rules", operatorToken, rule); rec.Code != http.StatusCreated {
		t.Fatalf("operator rule create: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCSRFRequiredOnMutations(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(domain.QuoteRequest{
		ListingID: "lst_studio_kota", CheckIn: "2030-06-03", CheckOut: "2030-06-05",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

func TestSettlementPreviewUpload(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "operator", "operator123")

	csv := "Confirmation code,Listing,Guest,Start date,End date,Earnings,Status\n" +
		"HMAAA111,Villa Cempaka,Maria Oliveira,2030-03-06,2030-03-09,\"Rp 2.550.000\",Confirmed\n"

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "earnings.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(csv)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements/preview", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-CSRF-Token", csrfToken(t, handler))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var preview settlement.Preview
	if err := json.NewDecoder(rec.Body).Decode(&preview); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if preview.Creates != 1 || len(preview.Decisions) != 1 {
		t.Fatalf("unexpected preview: %+v", preview)
	}
}

func TestSyncRunTriggersRunner(t *testing.T) {
	api, runner := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "operator", "operator123")

	rec := postJSON(t, handler, "/api/v1/sync/run", token, map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if runner.runs != 1 {
		t.Fatalf("sync runner not invoked: %d", runner.runs)
	}
}
