package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"restopos/backend/internal/cache"
	"restopos/backend/internal/domain"
	"restopos/backend/internal/service"
	"restopos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopSummaryCache{}, zerolog.Nop())
	auth := NewAuthManager("test-secret-key", time.Hour, "739154", repo)

	return New(svc, auth, "*", zerolog.Nop())
}

// doJSON sends an authenticated JSON request through the full handler chain.
func doJSON(t *testing.T, api *API, method string, path string, token string, csrf string, payload any) *httptest.ResponseRecorder {
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
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) domain.CartResponse {
	t.Helper()
	var resp domain.CartResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode cart response: %v", err)
	}
	return resp
}

func decodeSale(t *testing.T, rec *httptest.ResponseRecorder) domain.SaleResponse {
	t.Helper()
	var resp domain.SaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode sale response: %v", err)
	}
	return resp
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

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
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: "admin",
		Password: "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_ListWithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestCreateProduct_CashierForbidden(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", token, csrf, domain.ProductCreateRequest{
		Name:       "Arepa de Queso",
		PriceCents: 350,
		Stock:      10,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier create, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestMutatingRequestWithoutCSRFRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/carts", token, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

func TestCartCheckoutCancelFlow(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/carts", token, csrf, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cart: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	cart := decodeCart(t, rec)
	cartID := cart.Cart.ID

	rec = doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/lines", token, csrf, domain.AddLineRequest{ProductID: "prod-bandeja"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add line: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/lines", token, csrf, domain.AddLineRequest{ProductID: "prod-limonada"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add line: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPatch, "/api/v1/carts/"+cartID+"/lines/prod-limonada", token, csrf, domain.AdjustLineRequest{Delta: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust line: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	adjusted := decodeCart(t, rec)
	if adjusted.TotalCents != 2350 {
		t.Fatalf("expected cart total 2350, got %d", adjusted.TotalCents)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", token, csrf, domain.CheckoutRequest{
		PaymentMethod:     domain.PaymentMethodCash,
		CashReceivedCents: 5000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	sale := decodeSale(t, rec).Sale
	if sale.TotalCents != 2350 || sale.ChangeCents != 2650 {
		t.Fatalf("unexpected sale totals: total %d change %d", sale.TotalCents, sale.ChangeCents)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales?window=today", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list sales: expected 200, got %d", rec.Code)
	}
	var list domain.SaleListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode sales: %v", err)
	}
	if len(list.Sales) != 1 || list.Sales[0].ID != sale.ID {
		t.Fatalf("expected the committed sale in today's window, got %d sales", len(list.Sales))
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+sale.ID+"/cancel", token, csrf, domain.CancelSaleRequest{
		Reason:     "orden equivocada",
		ManagerPIN: "739154",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	cancelled := decodeSale(t, rec).Sale
	if cancelled.Cancellation == nil {
		t.Fatalf("expected cancellation overlay on response")
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+sale.ID+"/cancel", token, csrf, domain.CancelSaleRequest{
		Reason:     "second attempt",
		ManagerPIN: "739154",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCancelSaleRejectsWrongManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales/sale-any/cancel", token, csrf, domain.CancelSaleRequest{
		Reason:     "test",
		ManagerPIN: "000000",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong PIN, got %d", rec.Code)
	}
}

func TestCheckoutInsufficientStockUnprocessable(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/carts", token, csrf, nil)
	cart := decodeCart(t, rec)

	rec = doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cart.Cart.ID+"/lines", token, csrf, domain.AddLineRequest{ProductID: "prod-tresleches"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add line: expected 200, got %d", rec.Code)
	}
	// 17 more than the 16 on hand.
	rec = doJSON(t, api, http.MethodPatch, "/api/v1/carts/"+cart.Cart.ID+"/lines/prod-tresleches", token, csrf, domain.AdjustLineRequest{Delta: 16})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 above stock, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSummaryEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/reports/summary?window=month", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Summary domain.SalesSummary `json:"summary"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if body.Summary.Window != domain.WindowMonth {
		t.Fatalf("expected month window echoed, got %q", body.Summary.Window)
	}
}

func TestSummaryRejectsUnknownWindow(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/reports/summary?window=fortnight", token, "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown window, got %d", rec.Code)
	}
}

func TestAuditLogsAdminOnly(t *testing.T) {
	api := newTestAPI(t)

	cashierToken := loginAs(t, api, "cashier", "cashier123")
	rec := doJSON(t, api, http.MethodGet, "/api/v1/audit-logs", cashierToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	adminToken := loginAs(t, api, "admin", "admin123")
	rec = doJSON(t, api, http.MethodGet, "/api/v1/audit-logs", adminToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestLogoutReleasesCarts(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/carts", token, csrf, nil)
	cart := decodeCart(t, rec)

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/logout", token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/carts/"+cart.Cart.ID, token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected cart gone after logout, got %d", rec.Code)
	}
}
