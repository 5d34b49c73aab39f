package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ealtrack/internal/domain"
	"ealtrack/internal/service"
	"ealtrack/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, nil, domain.Settings{UnlinkConfirmationPhrase: "unlink"})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, repo)

	return New(svc, auth, Options{AllowedOrigin: "*"})
}

func login(t *testing.T, api *API, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

// call sends an authenticated JSON request and returns the recorder.
func call(t *testing.T, api *API, token, method, path string, payload any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (raw %s)", err, res.Body.String())
	}
	return out
}

func issuancePayload(from, to string, qty int64) map[string]any {
	return map[string]any{
		"company": "cmp_acme", "market": "local", "pack": "pck_650", "dateIssued": "2026-01-10",
		"prefix": "ABC", "serialFrom": from, "serialTo": to, "issuedQuantity": qty,
	}
}

func usagePayload(from, to string, qty, cases int64) map[string]any {
	return map[string]any{
		"company": "cmp_acme", "market": "local", "item": "itm_acme_lager_650", "pack": "pck_650",
		"dateUsed": "2026-01-12", "usedQuantityInCases": cases,
		"prefix": "ABC", "serialFrom": from, "serialTo": to, "usedQuantity": qty,
	}
}

// finalDispatchID creates a dispatch over HTTP and moves it to final.
func finalDispatchID(t *testing.T, api *API, token string, cases int64) string {
	t.Helper()
	res := call(t, api, token, http.MethodPost, "/api/v1/dispatch", map[string]any{
		"company": "cmp_acme", "market": "local", "dateDispatched": "2026-01-15", "deliveryTo": "dlv_central",
		"items": []map[string]any{{"item": "itm_acme_lager_650", "quantityInCases": cases}},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("create dispatch: %d %s", res.Code, res.Body.String())
	}
	d := decodeBody[domain.DispatchRecord](t, res)

	res = call(t, api, token, http.MethodPut, "/api/v1/dispatch/"+d.ID+"/status", map[string]any{"status": "final"})
	if res.Code != http.StatusOK {
		t.Fatalf("finalize dispatch: %d %s", res.Code, res.Body.String())
	}
	return d.ID
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true || body["repository"] != "memory" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "operator", "operator123")

	actor, err := api.auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Role != domain.RoleOperator {
		t.Fatalf("expected operator role, got %q", actor.Role)
	}
}

func TestLedgerFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "operator", "operator123")

	res := call(t, api, token, http.MethodPost, "/api/v1/eal_issuance", issuancePayload("0000000001", "0000000120", 120))
	if res.Code != http.StatusCreated {
		t.Fatalf("create issuance: %d %s", res.Code, res.Body.String())
	}
	res = call(t, api, token, http.MethodPost, "/api/v1/eal_usage", usagePayload("0000000001", "0000000060", 60, 5))
	if res.Code != http.StatusCreated {
		t.Fatalf("create usage: %d %s", res.Code, res.Body.String())
	}

	dispatchID := finalDispatchID(t, api, token, 5)
	res = call(t, api, token, http.MethodPost, "/api/v1/eal_dispatch/add_eal_link", map[string]any{
		"dispatchId": dispatchID, "itemId": "itm_acme_lager_650",
		"prefix": "ABC", "serialFrom": "0000000001", "serialTo": "0000000060",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("link: %d %s", res.Code, res.Body.String())
	}
	linked := decodeBody[domain.EALLinkResponse](t, res)
	if linked.Message != "EAL linked successfully" || linked.UpdatedDispatch.EALIssuedTotalQuantity != 5 {
		t.Fatalf("unexpected link response %+v", linked)
	}

	res = call(t, api, token, http.MethodGet, "/api/v1/eal_usage/find?ealNumber=ABC0000000030", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("find: %d %s", res.Code, res.Body.String())
	}
	found := decodeBody[struct {
		Data []domain.EALLookupResult `json:"data"`
	}](t, res)
	if len(found.Data) != 1 || found.Data[0].Dispatch == nil || found.Data[0].Dispatch.ID != dispatchID {
		t.Fatalf("expected lookup to reach the dispatch, got %+v", found.Data)
	}

	res = call(t, api, token, http.MethodPut, "/api/v1/dispatch/"+dispatchID+"/vehicle", map[string]any{
		"vehicleNumber": "KA-01-1234", "driverName": "Ravi", "driverContact": "9000000000", "status": "loaded",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("attach vehicle: %d %s", res.Code, res.Body.String())
	}
	if d := decodeBody[domain.DispatchRecord](t, res); d.Status != domain.DispatchLoaded {
		t.Fatalf("expected loaded dispatch, got %s", d.Status)
	}

	res = call(t, api, token, http.MethodGet, "/api/v1/dispatch?status=loaded", nil)
	list := decodeBody[struct {
		Data []domain.DispatchRecord `json:"data"`
	}](t, res)
	if len(list.Data) != 1 {
		t.Fatalf("expected one loaded dispatch, got %d", len(list.Data))
	}

	res = call(t, api, token, http.MethodGet, "/api/v1/dashboard", nil)
	dash := decodeBody[domain.Dashboard](t, res)
	if dash.LabelsIssued != 120 || dash.LabelsUsed != 60 || dash.CasesEALLinked != 5 {
		t.Fatalf("unexpected dashboard %+v", dash)
	}
}

func TestUnlinkRequiresConfirmation(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "operator", "operator123")

	call(t, api, token, http.MethodPost, "/api/v1/eal_issuance", issuancePayload("0000000001", "0000000024", 24))
	call(t, api, token, http.MethodPost, "/api/v1/eal_usage", usagePayload("0000000001", "0000000024", 24, 2))
	dispatchID := finalDispatchID(t, api, token, 2)

	link := map[string]any{
		"dispatchId": dispatchID, "itemId": "itm_acme_lager_650",
		"prefix": "ABC", "serialFrom": "0000000001", "serialTo": "0000000024",
	}
	if res := call(t, api, token, http.MethodPost, "/api/v1/dispatch/add_eal_link", link); res.Code != http.StatusOK {
		t.Fatalf("link: %d %s", res.Code, res.Body.String())
	}

	res := call(t, api, token, http.MethodPost, "/api/v1/eal_dispatch/remove_eal_link", link)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without confirmation, got %d", res.Code)
	}
	if body := decodeBody[map[string]any](t, res); body["field"] != "confirmation" {
		t.Fatalf("expected confirmation field error, got %v", body)
	}

	link["confirmation"] = "unlink"
	res = call(t, api, token, http.MethodPost, "/api/v1/dispatch/remove_eal_link", link)
	if res.Code != http.StatusOK {
		t.Fatalf("unlink: %d %s", res.Code, res.Body.String())
	}
	if resp := decodeBody[domain.EALLinkResponse](t, res); resp.UpdatedDispatch.EALIssuedTotalQuantity != 0 {
		t.Fatalf("expected links cleared, got %+v", resp.UpdatedDispatch)
	}
}

func TestLinkBeyondDispatchedCasesReturns422(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "operator", "operator123")

	call(t, api, token, http.MethodPost, "/api/v1/eal_issuance", issuancePayload("0000000001", "0000000036", 36))
	call(t, api, token, http.MethodPost, "/api/v1/eal_usage", usagePayload("0000000001", "0000000036", 36, 3))
	dispatchID := finalDispatchID(t, api, token, 2)

	res := call(t, api, token, http.MethodPost, "/api/v1/eal_dispatch/add_eal_link", map[string]any{
		"dispatchId": dispatchID, "itemId": "itm_acme_lager_650",
		"prefix": "ABC", "serialFrom": "0000000001", "serialTo": "0000000036",
	})
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.Code, res.Body.String())
	}
	if body := decodeBody[map[string]any](t, res); body["rule"] != "link_ceiling" {
		t.Fatalf("expected link_ceiling rule, got %v", body)
	}
}

func TestIssuanceValidationAndOverlapStatuses(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "operator", "operator123")

	res := call(t, api, token, http.MethodPost, "/api/v1/eal_issuance", issuancePayload("0000000001", "0000000012", 11))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for quantity mismatch, got %d", res.Code)
	}
	if body := decodeBody[map[string]any](t, res); body["field"] != "issuedQuantity" {
		t.Fatalf("expected issuedQuantity field, got %v", body)
	}

	bad := issuancePayload("0000000001", "0000000012", 12)
	bad["prefix"] = "ab"
	if res := call(t, api, token, http.MethodPost, "/api/v1/eal_issuance", bad); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad prefix, got %d", res.Code)
	}

	call(t, api, token, http.MethodPost, "/api/v1/eal_issuance", issuancePayload("0000000001", "0000000012", 12))
	res = call(t, api, token, http.MethodPost, "/api/v1/eal_issuance", issuancePayload("0000000010", "0000000021", 12))
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for overlapping issuance, got %d", res.Code)
	}

	if res := call(t, api, token, http.MethodGet, "/api/v1/eal_issuance?startDate=2026-13-01", nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad startDate, got %d", res.Code)
	}
	if res := call(t, api, token, http.MethodGet, "/api/v1/dispatch/dsp_missing", nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown dispatch, got %d", res.Code)
	}
}

func TestIdempotencyKeyReplaysIssuance(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "operator", "operator123")
	payload := issuancePayload("0000000001", "0000000012", 12)

	first := call(t, api, token, http.MethodPost, "/api/v1/eal_issuance", payload, "Idempotency-Key", "batch-7")
	if first.Code != http.StatusCreated {
		t.Fatalf("first create: %d %s", first.Code, first.Body.String())
	}
	created := decodeBody[domain.IssuanceRecord](t, first)

	second := call(t, api, token, http.MethodPost, "/api/v1/eal_issuance", payload, "Idempotency-Key", "batch-7")
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d %s", second.Code, second.Body.String())
	}
	body := decodeBody[map[string]any](t, second)
	if body["duplicate"] != true || body["id"] != created.ID {
		t.Fatalf("expected replay of %s, got %v", created.ID, body)
	}

	res := call(t, api, token, http.MethodGet, "/api/v1/eal_issuance", nil)
	list := decodeBody[struct {
		Data []domain.IssuanceRecord `json:"data"`
	}](t, res)
	if len(list.Data) != 1 {
		t.Fatalf("expected a single issuance, got %d", len(list.Data))
	}
}

func TestDraftDispatchUpdateAndDelete(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "operator", "operator123")

	res := call(t, api, token, http.MethodPost, "/api/v1/dispatch", map[string]any{
		"company": "cmp_acme", "market": "local", "dateDispatched": "2026-01-15", "deliveryTo": "dlv_central",
		"items": []map[string]any{{"item": "itm_acme_lager_650", "quantityInCases": 2}},
	})
	d := decodeBody[domain.DispatchRecord](t, res)

	res = call(t, api, token, http.MethodPut, "/api/v1/dispatch/"+d.ID, map[string]any{
		"company": "cmp_acme", "market": "local", "dateDispatched": "2026-01-16", "deliveryTo": "dlv_port",
		"items": []map[string]any{
			{"item": "itm_acme_lager_650", "quantityInCases": 4},
			{"item": "itm_acme_strong_650", "quantityInCases": 1},
		},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("update: %d %s", res.Code, res.Body.String())
	}
	if updated := decodeBody[domain.DispatchRecord](t, res); updated.TotalQuantity != 5 || updated.DeliveryTo != "dlv_port" {
		t.Fatalf("unexpected updated dispatch %+v", updated)
	}

	res = call(t, api, token, http.MethodPut, "/api/v1/dispatch/"+d.ID+"/status", map[string]any{"status": "loaded"})
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 when loading without a vehicle, got %d", res.Code)
	}

	if res := call(t, api, token, http.MethodDelete, "/api/v1/dispatch/"+d.ID, nil); res.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", res.Code, res.Body.String())
	}
	if res := call(t, api, token, http.MethodGet, "/api/v1/dispatch/"+d.ID, nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.Code)
	}
}

func TestReferenceDataWritesRequireAdmin(t *testing.T) {
	api := newTestAPI(t)
	operator := login(t, api, "operator", "operator123")
	admin := login(t, api, "admin", "admin123")

	company := map[string]any{"name": "Hilltop Winery"}
	if res := call(t, api, operator, http.MethodPost, "/api/v1/companies", company); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator, got %d", res.Code)
	}
	res := call(t, api, admin, http.MethodPost, "/api/v1/companies", company)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 for admin, got %d %s", res.Code, res.Body.String())
	}

	res = call(t, api, operator, http.MethodGet, "/api/v1/items?company=cmp_acme&market=export", nil)
	items := decodeBody[struct {
		Data []domain.Item `json:"data"`
	}](t, res)
	if len(items.Data) != 1 || items.Data[0].ID != "itm_acme_lager_330_exp" {
		t.Fatalf("unexpected filtered items %+v", items.Data)
	}

	if res := call(t, api, operator, http.MethodGet, "/api/v1/audit-logs", nil); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator audit logs, got %d", res.Code)
	}
	if res := call(t, api, admin, http.MethodGet, "/api/v1/audit-logs?limit=5", nil); res.Code != http.StatusOK {
		t.Fatalf("expected audit logs for admin, got %d", res.Code)
	}
}

func TestUsersEndpoint(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")

	res := call(t, api, admin, http.MethodPost, "/api/v1/users", map[string]any{"username": "floor01", "password": "pass1234"})
	if res.Code != http.StatusCreated {
		t.Fatalf("create user: %d %s", res.Code, res.Body.String())
	}
	if res := call(t, api, admin, http.MethodPost, "/api/v1/users", map[string]any{"username": "floor01", "password": "pass1234"}); res.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate user, got %d", res.Code)
	}
	if res := call(t, api, admin, http.MethodPost, "/api/v1/users", map[string]any{"username": "x", "password": "pass1234"}); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short username, got %d", res.Code)
	}

	login(t, api, "floor01", "pass1234")
}

func TestSettingsExposesFeatureFlags(t *testing.T) {
	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, nil, domain.Settings{ShowTotals: true, UnlinkConfirmationPhrase: "remove"})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, repo)
	api := New(svc, auth, Options{AllowedOrigin: "*"})
	token := login(t, api, "operator", "operator123")

	res := call(t, api, token, http.MethodGet, "/api/v1/settings", nil)
	settings := decodeBody[domain.Settings](t, res)
	if !settings.ShowTotals || settings.SearchableSelect || settings.UnlinkConfirmationPhrase != "remove" {
		t.Fatalf("unexpected settings %+v", settings)
	}
}
