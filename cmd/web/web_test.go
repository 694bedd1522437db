package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dealbridge/marketplace/internal/invitations"
	"github.com/dealbridge/marketplace/pkg/config"
	"github.com/dealbridge/marketplace/pkg/logger"
)

const validToken = "good-token"

// stubDealService is a fake remote deal service covering the endpoints the
// web client consumes.
func stubDealService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	authorized := func(r *http.Request) bool {
		return r.Header.Get("Authorization") == "Bearer "+validToken
	}
	guard := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !authorized(r) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("GET /buyers/profile", guard(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"_id":"u1","name":"Test Buyer","email":"buyer@example.com"}`)
	}))
	mux.HandleFunc("GET /buyers/deals/pending", guard(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"_id":"d1","title":"Acme","financialDetails":{}}]`)
	}))
	mux.HandleFunc("GET /buyers/deals/active", guard(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	}))
	mux.HandleFunc("GET /buyers/deals/rejected", guard(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	}))
	mux.HandleFunc("POST /buyers/deals/d1/activate", guard(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	mux.HandleFunc("GET /deals/d1/status-summary", guard(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"deal": {"_id":"d1","title":"Acme"},
			"invitationStatus": {
				"b1": {"response":"accepted"},
				"b2": {},
				"b3": {"response":"declined"}
			}
		}`)
	}))
	mux.HandleFunc("GET /buyers/b1", guard(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"_id":"b1","name":"Alice"}`)
	}))
	mux.HandleFunc("GET /buyers/b2", guard(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	mux.HandleFunc("GET /buyers/b3", guard(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"_id":"b3","name":"Carol"}`)
	}))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestWebServer(t *testing.T, backendURL string) http.Handler {
	t.Helper()
	cfg := &config.Config{
		APIURL:         backendURL,
		ListenAddr:     ":0",
		RequestTimeout: 5 * time.Second,
	}
	s := newServer(cfg, logger.New(slog.LevelError, false))
	return s.routes()
}

func authedRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: validToken})
	req.AddCookie(&http.Cookie{Name: "user_id", Value: "u1"})
	req.AddCookie(&http.Cookie{Name: "user_role", Value: "buyer"})
	return req
}

func TestRequireSessionRedirectsWithoutSession(t *testing.T) {
	handler := newTestWebServer(t, stubDealService(t).URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/buyer/deals", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/login/buyer") {
		t.Errorf("redirect target = %q, want buyer login", loc)
	}
}

func TestExpiredTokenClearsSessionAndRedirects(t *testing.T) {
	handler := newTestWebServer(t, stubDealService(t).URL)

	req := httptest.NewRequest(http.MethodGet, "/buyer/deals", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: "stale-token"})
	req.AddCookie(&http.Cookie{Name: "user_role", Value: "buyer"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/login/buyer") {
		t.Errorf("redirect target = %q, want buyer login", loc)
	}

	tokenCleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth_token" && c.MaxAge < 0 {
			tokenCleared = true
		}
	}
	if !tokenCleared {
		t.Error("rejected token must clear the session store")
	}
}

func TestBuyerDealsViewState(t *testing.T) {
	handler := newTestWebServer(t, stubDealService(t).URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/buyer/deals?tab=pending", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp buyerDealsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	if len(resp.Deals) != 1 {
		t.Fatalf("expected 1 pending deal, got %d", len(resp.Deals))
	}
	view := resp.Deals[0]
	if view.Deal.ID != "d1" || view.Deal.Title != "Acme" {
		t.Errorf("unexpected deal %+v", view.Deal)
	}
	if string(view.Status) != "pending" {
		t.Errorf("status tag = %s, want pending", view.Status)
	}
	if view.Deal.TrailingRevenue != 0 || view.Deal.AskingPrice != 0 {
		t.Errorf("missing financials must default to zero: %+v", view.Deal)
	}
	if resp.Counts["pending"] != 1 || resp.Counts["active"] != 0 {
		t.Errorf("unexpected counts %v", resp.Counts)
	}
}

func TestDealTransitionRedirectsToTargetBucket(t *testing.T) {
	handler := newTestWebServer(t, stubDealService(t).URL)

	form := url.Values{"notes": {"great fit"}}
	req := authedRequest(http.MethodPost, "/buyer/deals/d1/activate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/buyer/deals?tab=active" {
		t.Errorf("redirect target = %q, want active tab", loc)
	}
}

func TestStatusSummaryScenario(t *testing.T) {
	handler := newTestWebServer(t, stubDealService(t).URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/seller/deals/d1/summary", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var summary invitations.StatusSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}

	if summary.Summary.TotalTargeted != 3 {
		t.Errorf("totalTargeted = %d, want 3", summary.Summary.TotalTargeted)
	}
	if len(summary.Active) != 1 || summary.Active[0].BuyerID != "b1" {
		t.Errorf("active = %+v, want [b1]", summary.Active)
	}
	if len(summary.Rejected) != 1 || summary.Rejected[0].BuyerID != "b3" {
		t.Errorf("rejected = %+v, want [b3]", summary.Rejected)
	}
	if len(summary.Pending) != 1 || summary.Pending[0].Name != "Buyerb2" {
		t.Errorf("pending = %+v, want placeholder Buyerb2", summary.Pending)
	}
}

func TestSessionEstablishRedirectsToRoleHome(t *testing.T) {
	handler := newTestWebServer(t, stubDealService(t).URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/establish?token=tok-1&userId=u1&role=seller", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/seller/deals" {
		t.Errorf("redirect target = %q, want seller home", loc)
	}

	cookies := map[string]string{}
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			cookies[c.Name] = c.Value
		}
	}
	if cookies["auth_token"] != "tok-1" || cookies["user_role"] != "seller" {
		t.Errorf("session cookies not persisted: %v", cookies)
	}
}

func TestLogoutInvalidatesAndRedirects(t *testing.T) {
	handler := newTestWebServer(t, stubDealService(t).URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/logout", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login/buyer" {
		t.Errorf("redirect target = %q", loc)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth_token" && c.MaxAge >= 0 && c.Value != "" {
			t.Error("logout must clear the token cookie")
		}
	}
}

// TestTokenRejectedMidRequestInvalidatesOnce covers a session expiring between
// the guard's profile check and the bucket fetches: all three concurrent
// fetches see 401 and each triggers the client's auth-expired handler, but the
// session must be invalidated exactly once. Run with -race; the handler writes
// response headers.
func TestTokenRejectedMidRequestInvalidatesOnce(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /buyers/profile", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"_id":"u1","name":"Test Buyer"}`)
	})
	mux.HandleFunc("GET /buyers/deals/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	backend := httptest.NewServer(mux)
	t.Cleanup(backend.Close)

	handler := newTestWebServer(t, backend.URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(http.MethodGet, "/buyer/deals", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/login/buyer") {
		t.Errorf("redirect target = %q, want buyer login", loc)
	}

	cleared := 0
	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth_token" && c.MaxAge < 0 {
			cleared++
		}
	}
	if cleared != 1 {
		t.Errorf("token clearing cookies = %d, want exactly 1", cleared)
	}
}

func dialSummaryWS(t *testing.T, handler http.Handler, token string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/seller/deals/d1/summary/ws"
	header := http.Header{}
	header.Add("Cookie", "auth_token="+token+"; user_id=u1; user_role=seller")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestSummaryWebsocketPushesOnRefresh(t *testing.T) {
	handler := newTestWebServer(t, stubDealService(t).URL)
	conn := dialSummaryWS(t, handler, validToken)

	var first invitations.StatusSummary
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("reading initial push: %v", err)
	}
	if first.Summary.TotalTargeted != 3 {
		t.Errorf("initial totalTargeted = %d, want 3", first.Summary.TotalTargeted)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("refresh")); err != nil {
		t.Fatalf("sending refresh: %v", err)
	}
	var second invitations.StatusSummary
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("reading refreshed push: %v", err)
	}
	if second.Summary.TotalTargeted != 3 {
		t.Errorf("refreshed totalTargeted = %d, want 3", second.Summary.TotalTargeted)
	}
}

func TestSummaryWebsocketClosesOnAuthFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /buyers/profile", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"_id":"u1","name":"Test Seller"}`)
	})
	mux.HandleFunc("GET /deals/d1/status-summary", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	backend := httptest.NewServer(mux)
	t.Cleanup(backend.Close)

	handler := newTestWebServer(t, backend.URL)
	conn := dialSummaryWS(t, handler, validToken)

	var payload map[string]string
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("reading error push: %v", err)
	}
	if payload["error"] == "" {
		t.Errorf("error push missing message: %v", payload)
	}

	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection must close after an auth failure push")
	}
}

func TestHealth(t *testing.T) {
	handler := newTestWebServer(t, stubDealService(t).URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
