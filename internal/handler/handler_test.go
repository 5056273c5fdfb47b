package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/shopwave/internal/domain/assistant"
	"github.com/xenking/shopwave/internal/domain/cart"
	"github.com/xenking/shopwave/internal/domain/order"
	"github.com/xenking/shopwave/internal/domain/product"
	"github.com/xenking/shopwave/internal/domain/session"
	"github.com/xenking/shopwave/internal/storage/memory"
	"github.com/xenking/shopwave/pkg/httpmiddleware"
)

// --- Mock implementations ---

type mockSimilar struct {
	items []assistant.Item
	err   error
	got   string
}

func (m *mockSimilar) Find(_ context.Context, uri string) ([]assistant.Item, error) {
	m.got = uri
	return m.items, m.err
}

type mockRecommender struct {
	mu    sync.Mutex
	items []assistant.Item
	err   error
	got   [][]cart.Summary
}

func (m *mockRecommender) Recommend(_ context.Context, in []cart.Summary) ([]assistant.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, in)
	if len(in) == 0 {
		return []assistant.Item{}, nil
	}
	return m.items, m.err
}

// --- Helpers ---

type testServer struct {
	srv         *httptest.Server
	client      *http.Client
	similar     *mockSimilar
	recommender *mockRecommender
	orders      *memory.OrderRepository
}

func newTestProducts() []product.Product {
	return []product.Product{
		{ID: "1", Name: "Classic Leather Jacket", Price: decimal.RequireFromString("199.99"), Description: "Biker jacket", Category: "Outerwear", ImageURL: "https://img/1.png"},
		{ID: "2", Name: "Silk Scarf", Price: decimal.RequireFromString("49.50"), Description: "Floral scarf", Category: "Accessories"},
		{ID: "3", Name: "Pencil", Price: decimal.RequireFromString("0.333")},
	}
}

func newTestServer(t *testing.T, limit httpmiddleware.Middleware) *testServer {
	t.Helper()
	products := memory.NewProductRepository(newTestProducts())
	rec := &mockRecommender{items: []assistant.Item{
		{Name: "Leather Belt", Description: "Matching belt", Price: decimal.NewFromInt(35)},
		{Name: "Chelsea Boots", Description: "Black boots", ImageURL: "https://img/boots.png", Price: decimal.NewFromInt(150), ImageHint: "boots"},
	}}
	sessions := session.NewManager(memory.NewCartStore(time.Hour), products, rec, session.Config{}, zap.NewNop())
	t.Cleanup(sessions.Close)
	orders := memory.NewOrderRepository()
	similar := &mockSimilar{}

	h := New(Config{}, products, sessions, order.NewService(products, orders), similar, rec, limit)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.Jar = newJar(t)
	return &testServer{srv: srv, client: client, similar: similar, recommender: rec, orders: orders}
}

func newJar(t *testing.T) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return jar
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var raw any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		if m, ok := raw.(map[string]any); ok {
			out = m
		} else {
			out = map[string]any{"_": raw}
		}
	}
	return resp.StatusCode, out
}

// --- Products ---

func TestListProducts(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := ts.do(t, http.MethodGet, "/products", "")
	require.Equal(t, http.StatusOK, code)
	list := body["_"].([]any)
	require.Len(t, list, 3)

	first := list[0].(map[string]any)
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, 199.99, first["price"])
	assert.Equal(t, "https://img/1.png", first["imageUrl"])

	second := list[1].(map[string]any)
	assert.Equal(t, assistant.PlaceholderImageURL, second["imageUrl"], "empty image falls back to placeholder")
}

func TestGetProduct(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := ts.do(t, http.MethodGet, "/products/2", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Silk Scarf", body["name"])

	code, body = ts.do(t, http.MethodGet, "/products/404", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "product not found", body["message"])
}

// --- Cart ---

func TestCart_Flow(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := ts.do(t, http.MethodGet, "/cart", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["itemCount"])
	assert.Equal(t, float64(0), body["total"])
	assert.Equal(t, "idle", body["recommendations"].(map[string]any)["status"])

	for range 2 {
		code, _ = ts.do(t, http.MethodPost, "/cart/items", `{"productId":"1"}`)
		require.Equal(t, http.StatusOK, code)
	}
	code, body = ts.do(t, http.MethodPost, "/cart/items", `{"productId":"2"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["itemCount"])
	assert.Equal(t, 449.48, body["total"])

	lines := body["lines"].([]any)
	require.Len(t, lines, 2)
	assert.Equal(t, float64(2), lines[0].(map[string]any)["quantity"])

	// Recommendations follow the cart.
	require.Eventually(t, func() bool {
		_, body := ts.do(t, http.MethodGet, "/cart", "")
		return body["recommendations"].(map[string]any)["status"] == "ready"
	}, time.Second, 10*time.Millisecond)
	_, body = ts.do(t, http.MethodGet, "/cart", "")
	recs := body["recommendations"].(map[string]any)["items"].([]any)
	require.Len(t, recs, 2)
	assert.Equal(t, assistant.PlaceholderImageURL, recs[0].(map[string]any)["imageUrl"])
	assert.Equal(t, "boots", recs[1].(map[string]any)["dataAiHint"])

	code, body = ts.do(t, http.MethodPut, "/cart/items/1", `{"quantity":5}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(6), body["itemCount"])

	code, body = ts.do(t, http.MethodPut, "/cart/items/1", `{"quantity":0}`)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["lines"].([]any), 1)

	code, body = ts.do(t, http.MethodDelete, "/cart/items/2", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["lines"].([]any))
	assert.Equal(t, "idle", body["recommendations"].(map[string]any)["status"])
}

func TestCart_TotalRoundedToCents(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(t, http.MethodPost, "/cart/items", `{"productId":"3"}`)
	_, body := ts.do(t, http.MethodPut, "/cart/items/3", `{"quantity":3}`)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, float64(3), body["itemCount"])
}

func TestCart_BadRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "add without product", method: http.MethodPost, path: "/cart/items", body: `{}`, want: http.StatusBadRequest},
		{name: "add malformed", method: http.MethodPost, path: "/cart/items", body: `{"productId":`, want: http.StatusBadRequest},
		{name: "add unknown product", method: http.MethodPost, path: "/cart/items", body: `{"productId":"404"}`, want: http.StatusNotFound},
		{name: "update non-integer", method: http.MethodPut, path: "/cart/items/1", body: `{"quantity":"two"}`, want: http.StatusBadRequest},
		{name: "update missing quantity", method: http.MethodPut, path: "/cart/items/1", body: `{}`, want: http.StatusBadRequest},
		{name: "update unknown is no-op", method: http.MethodPut, path: "/cart/items/404", body: `{"quantity":3}`, want: http.StatusOK},
		{name: "remove unknown is no-op", method: http.MethodDelete, path: "/cart/items/404", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestCart_SessionsAreIsolated(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/cart/items", `{"productId":"1"}`)

	other := &testServer{srv: ts.srv, client: &http.Client{Jar: newJar(t)}}
	_, body := other.do(t, http.MethodGet, "/cart", "")
	assert.Equal(t, float64(0), body["itemCount"])

	_, body = ts.do(t, http.MethodGet, "/cart", "")
	assert.Equal(t, float64(1), body["itemCount"])
}

func TestCart_ClearAndCheckout(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := ts.do(t, http.MethodPost, "/cart/checkout", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "cart is empty", body["message"])

	ts.do(t, http.MethodPost, "/cart/items", `{"productId":"1"}`)
	_, body = ts.do(t, http.MethodDelete, "/cart", "")
	assert.Equal(t, float64(0), body["itemCount"])

	ts.do(t, http.MethodPost, "/cart/items", `{"productId":"2"}`)
	ts.do(t, http.MethodPost, "/cart/items", `{"productId":"2"}`)
	code, body = ts.do(t, http.MethodPost, "/cart/checkout", "")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "unpaid", body["status"])
	assert.Equal(t, float64(2), body["itemCount"])
	assert.Equal(t, float64(99), body["total"])

	_, ok := ts.orders.Get(body["id"].(string))
	assert.True(t, ok)

	_, body = ts.do(t, http.MethodGet, "/cart", "")
	assert.Equal(t, float64(0), body["itemCount"], "checkout clears the cart")
}

func TestCart_HugeQuantityStaysPositive(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(t, http.MethodPost, "/cart/items", `{"productId":"1"}`)
	ts.do(t, http.MethodPut, "/cart/items/1", `{"quantity":9223372036854775807}`)
	code, body := ts.do(t, http.MethodPost, "/cart/items", `{"productId":"1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Greater(t, body["itemCount"].(float64), float64(0))
	assert.Greater(t, body["total"].(float64), float64(0))

	lines := body["lines"].([]any)
	require.Len(t, lines, 1)
	assert.Greater(t, lines[0].(map[string]any)["quantity"].(float64), float64(0))

	code, body = ts.do(t, http.MethodPost, "/cart/checkout", "")
	require.Equal(t, http.StatusCreated, code)
	assert.Greater(t, body["total"].(float64), float64(0))
	assert.Greater(t, body["itemCount"].(float64), float64(0))
}

// --- Actions ---

func TestFindSimilarItems(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.similar.items = []assistant.Item{
		{Name: "Denim Jacket", Description: "Blue", Price: decimal.RequireFromString("79.99")},
	}

	code, body := ts.do(t, http.MethodPost, "/actions/find-similar-items", `{"photoDataUri":"data:image/png;base64,AAAA"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, body, "error")
	items := body["data"].(map[string]any)["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "Denim Jacket", item["name"])
	assert.Equal(t, 79.99, item["price"])
	assert.Equal(t, assistant.PlaceholderImageURL, item["imageUrl"])
	assert.Equal(t, "data:image/png;base64,AAAA", ts.similar.got)
}

func TestFindSimilarItems_NoMatches(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.similar.items = []assistant.Item{}

	code, body := ts.do(t, http.MethodPost, "/actions/find-similar-items", `{"photoDataUri":"data:image/png;base64,AAAA"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Empty(t, body["data"].(map[string]any)["items"])
}

func TestFindSimilarItems_Failures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "invalid input",
			body:     `{"photoDataUri":"data:text/plain;base64,aGk="}`,
			err:      errors.Wrap(assistant.ErrInvalidInput, "media type text/plain"),
			wantCode: http.StatusBadRequest,
			wantMsg:  msgInvalidImage,
		},
		{
			name:     "malformed body",
			body:     `not json`,
			wantCode: http.StatusBadRequest,
			wantMsg:  msgInvalidImage,
		},
		{
			name:     "model output invalid",
			body:     `{"photoDataUri":"data:image/png;base64,AAAA"}`,
			err:      errors.Wrap(assistant.ErrModelOutputInvalid, "validate output: missing property price"),
			wantCode: http.StatusOK,
			wantMsg:  msgSimilarItemsFailed,
		},
		{
			name:     "service failure",
			body:     `{"photoDataUri":"data:image/png;base64,AAAA"}`,
			err:      errors.Wrap(assistant.ErrServiceFailure, "dial tcp 10.0.0.1:443: i/o timeout"),
			wantCode: http.StatusOK,
			wantMsg:  msgSimilarItemsFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.similar.err = tt.err

			code, body := ts.do(t, http.MethodPost, "/actions/find-similar-items", tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantMsg, body["error"])
			assert.NotContains(t, body, "data")
		})
	}
}

func TestRecommendProducts(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := ts.do(t, http.MethodPost, "/actions/recommend-products",
		`{"items":[{"name":"Silk Scarf","description":"Floral scarf","category":"Accessories"},{"name":"Pencil","description":"","category":null}]}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	recs := body["data"].(map[string]any)["recommendations"].([]any)
	assert.Len(t, recs, 2)

	ts.recommender.mu.Lock()
	got := ts.recommender.got[len(ts.recommender.got)-1]
	ts.recommender.mu.Unlock()
	assert.Equal(t, []cart.Summary{
		{Name: "Silk Scarf", Description: "Floral scarf", Category: "Accessories"},
		{Name: "Pencil"},
	}, got)
}

func TestRecommendProducts_Empty(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := ts.do(t, http.MethodPost, "/actions/recommend-products", `{"items":[]}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Empty(t, body["data"].(map[string]any)["recommendations"])
}

func TestRecommendProducts_Failure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.recommender.err = errors.Wrap(assistant.ErrServiceFailure, "upstream 503")

	code, body := ts.do(t, http.MethodPost, "/actions/recommend-products", `{"items":[{"name":"Silk Scarf","description":"x"}]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, msgRecommendationFailed, body["error"])
}

func TestRecommendProducts_BadRequest(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := ts.do(t, http.MethodPost, "/actions/recommend-products", `{"items":[{"description":"no name"}]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
}

func TestCartFeed_FailureIsSilent(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.recommender.err = errors.Wrap(assistant.ErrServiceFailure, "upstream 503")

	ts.do(t, http.MethodPost, "/cart/items", `{"productId":"1"}`)
	require.Eventually(t, func() bool {
		_, body := ts.do(t, http.MethodGet, "/cart", "")
		return body["recommendations"].(map[string]any)["status"] == "failed"
	}, time.Second, 10*time.Millisecond)

	_, body := ts.do(t, http.MethodGet, "/cart", "")
	feed := body["recommendations"].(map[string]any)
	assert.Empty(t, feed["items"])
	assert.NotContains(t, feed, "error")
}

func TestActions_RateLimitedPerSession(t *testing.T) {
	limit := httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{Rate: 0.001, Burst: 1, KeyFunc: SessionKey})
	ts := newTestServer(t, limit)
	ts.similar.items = []assistant.Item{}
	body := `{"photoDataUri":"data:image/png;base64,AAAA"}`

	// Cart routes are not limited and establish the session cookie.
	code, _ := ts.do(t, http.MethodGet, "/cart", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodPost, "/actions/find-similar-items", body)
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodPost, "/actions/find-similar-items", body)
	assert.Equal(t, http.StatusTooManyRequests, code)

	// Another session has its own bucket.
	other := &testServer{srv: ts.srv, client: &http.Client{Jar: newJar(t)}}
	other.do(t, http.MethodGet, "/cart", "")
	code, _ = other.do(t, http.MethodPost, "/actions/find-similar-items", body)
	assert.Equal(t, http.StatusOK, code)
}

func TestActions_RateLimitWithoutCookieUsesClientIP(t *testing.T) {
	limit := httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{Rate: 0.001, Burst: 1, KeyFunc: SessionKey})
	ts := newTestServer(t, limit)
	ts.similar.items = []assistant.Item{}
	body := `{"photoDataUri":"data:image/png;base64,AAAA"}`

	// No cookie jar: every request is issued a fresh session.
	noCookies := &testServer{srv: ts.srv, client: &http.Client{}}
	code, _ := noCookies.do(t, http.MethodPost, "/actions/find-similar-items", body)
	require.Equal(t, http.StatusOK, code)
	code, _ = noCookies.do(t, http.MethodPost, "/actions/find-similar-items", body)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestActions_BodyLimit(t *testing.T) {
	products := memory.NewProductRepository(newTestProducts())
	rec := &mockRecommender{}
	sessions := session.NewManager(memory.NewCartStore(0), products, rec, session.Config{}, zap.NewNop())
	t.Cleanup(sessions.Close)
	h := New(Config{MaxActionBodyBytes: 64}, products, sessions, order.NewService(products, memory.NewOrderRepository()), &mockSimilar{}, rec, nil)

	req := httptest.NewRequest(http.MethodPost, "/actions/find-similar-items",
		strings.NewReader(`{"photoDataUri":"data:image/png;base64,`+strings.Repeat("A", 128)+`"}`))
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), msgInvalidImage)
}

func TestSessionCookie(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client.Do(mustRequest(t, ts.srv.URL+"/cart", "forged"))
	require.NoError(t, err)
	_ = resp.Body.Close()

	var issued *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == DefaultCookieName {
			issued = c
		}
	}
	require.NotNil(t, issued, "malformed cookie is replaced")
	assert.True(t, session.ValidID(issued.Value))
	assert.True(t, issued.HttpOnly)
}

func mustRequest(t *testing.T, url, cookie string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: cookie})
	return req
}
