package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"washly/backend/internal/service"
	"washly/backend/internal/store/memory"
)

const testTenant = "main-laundry"

// newTestAPI wires the in-memory store, real AuthManager and real Service so
// handler tests cover the full request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	loc, err := time.LoadLocation("America/Lima")
	require.NoError(t, err)

	repo := memory.NewSeeded(testTenant, nil)
	svc := service.New(repo, service.Options{Tenants: service.FixedZone{Loc: loc}})
	auth := NewAuthManager(testSecret, time.Hour, repo, nil)

	api, err := New(svc, auth, "*", nil)
	require.NoError(t, err)
	return api
}

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newClient(t *testing.T, api *API, username, password string) *client {
	t.Helper()
	return &client{
		t:       t,
		handler: api.Handler(),
		token:   login(t, api, username, password),
		csrf:    fetchCSRFToken(t, api),
	}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body), rec.Body.String())
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := decodeBody(t, rec)["code"].(string)
	return code
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleLogin(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	assert.NotEmpty(t, token)

	payload, _ := json.Marshal(map[string]string{"username": "cashier", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCashSessionFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	rec := cashier.do(http.MethodGet, "/api/v1/cash-sessions/mine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeBody(t, rec)["session"])

	rec = cashier.do(http.MethodPost, "/api/v1/payments", map[string]any{"sale_ref": "T-1", "amount": "10.00", "method": "CASH"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SESSION_CLOSED", errorCode(t, rec))

	rec = cashier.do(http.MethodPost, "/api/v1/cash-sessions/open", map[string]any{
		"opening_cash": "100.00", "opening_digital": map[string]string{"yape": "20.00"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decodeBody(t, rec)
	sessionID := opened["session"].(map[string]any)["id"].(string)
	assert.Equal(t, "120", opened["balances"].(map[string]any)["expected_total"])

	rec = cashier.do(http.MethodPost, "/api/v1/cash-sessions/open", map[string]any{"opening_cash": "1.00"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SESSION_ALREADY_OPEN", errorCode(t, rec))

	rec = cashier.do(http.MethodPost, "/api/v1/payments", map[string]any{"sale_ref": "T-1", "amount": "50.00", "method": "efectivo"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	paymentID := decodeBody(t, rec)["payment"].(map[string]any)["id"].(string)

	rec = cashier.do(http.MethodPost, "/api/v1/payments", map[string]any{"sale_ref": "T-2", "amount": "0", "method": "CASH"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_AMOUNT", errorCode(t, rec))

	rec = cashier.do(http.MethodPost, "/api/v1/payments", map[string]any{"sale_ref": "T-2", "amount": "5.00", "method": "BITCOIN"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNKNOWN_PAYMENT_METHOD", errorCode(t, rec))

	rec = cashier.do(http.MethodPost, "/api/v1/cash-sessions/"+sessionID+"/movements", map[string]any{
		"direction": "OUT", "amount": "20.00", "category": "supplies",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = cashier.do(http.MethodPost, "/api/v1/payments/"+paymentID+"/void", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = cashier.do(http.MethodPost, "/api/v1/payments/"+paymentID+"/void", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_VOIDED", errorCode(t, rec))

	rec = cashier.do(http.MethodGet, "/api/v1/cash-sessions/"+sessionID+"/balances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", decodeBody(t, rec)["expected_total"])

	rec = cashier.do(http.MethodPost, "/api/v1/cash-sessions/"+sessionID+"/close", map[string]any{
		"counted_total": "95.00", "closing_digital": map[string]string{"YAPE": "20.00"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decodeBody(t, rec)["session"].(map[string]any)
	assert.Equal(t, "CLOSED", closed["state"])
	assert.Equal(t, "-5", closed["variance"])

	rec = cashier.do(http.MethodPost, "/api/v1/cash-sessions/"+sessionID+"/movements", map[string]any{"direction": "IN", "amount": "1.00"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = cashier.do(http.MethodGet, "/api/v1/cash-sessions/"+sessionID+"/timeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody(t, rec)["events"].([]any)
	assert.Len(t, events, 4, "open, voided sale, movement, close")

	rec = cashier.do(http.MethodGet, "/api/v1/cash-sessions/last-closed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	last := decodeBody(t, rec)["last_closed"].(map[string]any)
	assert.Equal(t, "75", last["suggested_opening_cash"])

	rec = cashier.do(http.MethodGet, "/api/v1/cash-sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["sessions"].([]any), 1)

	rec = cashier.do(http.MethodGet, "/api/v1/cash-journal", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["events"].([]any), 4)
}

func TestSessionNotFoundMapsTo404(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	rec := cashier.do(http.MethodGet, "/api/v1/cash-sessions/ses_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, rec))

	rec = cashier.do(http.MethodPost, "/api/v1/payments/pay_missing/void", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PAYMENT_NOT_FOUND", errorCode(t, rec))
}

func TestPaymentMethodAdminEndpoints(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")
	cashier := newClient(t, api, "cashier", "cashier123")

	rec := cashier.do(http.MethodPost, "/api/v1/payment-methods", map[string]any{"code": "WALLET_X", "display_name": "Wallet X"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = admin.do(http.MethodPost, "/api/v1/payment-methods", map[string]any{"code": "wallet_x", "display_name": "Wallet X"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = admin.do(http.MethodPost, "/api/v1/payment-methods", map[string]any{"code": "WALLET_X", "display_name": "Again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "METHOD_ALREADY_EXISTS", errorCode(t, rec))

	rec = cashier.do(http.MethodPatch, "/api/v1/payment-methods/WALLET_X", map[string]any{"active": false})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = admin.do(http.MethodPatch, "/api/v1/payment-methods/WALLET_X", map[string]any{"active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = cashier.do(http.MethodGet, "/api/v1/payment-methods", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["payment_methods"].([]any), 5)

	rec = cashier.do(http.MethodGet, "/api/v1/payment-methods?include_inactive=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["payment_methods"].([]any), 6)
}

func TestCloseWithoutCountedTotalReturns400(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	rec := cashier.do(http.MethodPost, "/api/v1/cash-sessions/open", map[string]any{"opening_cash": "10.00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	sessionID := decodeBody(t, rec)["session"].(map[string]any)["id"].(string)

	rec = cashier.do(http.MethodPost, "/api/v1/cash-sessions/"+sessionID+"/close", map[string]any{"notes": "forgot to count"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))

	rec = cashier.do(http.MethodGet, "/api/v1/cash-sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OPEN", decodeBody(t, rec)["session"].(map[string]any)["state"])
}

func TestOtherOperatorCannotCloseSession(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	rec := admin.do(http.MethodPost, "/api/v1/users/operators", map[string]any{"username": "rosa", "password": "lavanderia1", "display_name": "Rosa"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	cashier := newClient(t, api, "cashier", "cashier123")
	rosa := newClient(t, api, "rosa", "lavanderia1")

	rec = cashier.do(http.MethodPost, "/api/v1/cash-sessions/open", map[string]any{"opening_cash": "10.00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	sessionID := decodeBody(t, rec)["session"].(map[string]any)["id"].(string)

	rec = rosa.do(http.MethodPost, "/api/v1/cash-sessions/"+sessionID+"/close", map[string]any{"counted_total": "10.00"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))

	rec = admin.do(http.MethodPost, "/api/v1/cash-sessions/"+sessionID+"/close", map[string]any{"counted_total": "10.00"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = admin.do(http.MethodGet, "/api/v1/users/operators", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["operators"].([]any), 3)

	rec = admin.do(http.MethodGet, "/api/v1/audit-logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["audit_logs"])
}

func TestAdminOnlyRoutesRejectCashier(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	for _, path := range []string{"/api/v1/audit-logs", "/api/v1/users/operators"} {
		rec := cashier.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
}

func TestStatusForErrorDefaultsTo500(t *testing.T) {
	status, code := statusForError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL", code)
}
