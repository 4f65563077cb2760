package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"expenses/internal/core"
	"expenses/internal/docstore"
	"expenses/internal/idempotency"
	"expenses/internal/records"
	"expenses/internal/services"
)

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	return newTestServerIn(t, t.TempDir(), opts)
}

func newTestServerIn(t *testing.T, dir string, opts Options) *Server {
	t.Helper()
	store, err := records.Open(filepath.Join(dir, "expenses.json"), nil)
	if err != nil {
		t.Fatalf("records.Open: %v", err)
	}
	ledger, err := idempotency.Open(filepath.Join(dir, "idempotency.json"), nil)
	if err != nil {
		t.Fatalf("idempotency.Open: %v", err)
	}

	var seq int64
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := services.NewExpenseService(store, ledger,
		services.WithIDGenerator(func() string { return fmt.Sprintf("exp-%d", atomic.AddInt64(&seq, 1)) }),
		services.WithClock(func() time.Time { return base.Add(time.Duration(atomic.LoadInt64(&seq)) * time.Second) }),
	)
	return newServerFor(t, svc, opts)
}

func newServerFor(t *testing.T, api ExpenseAPI, opts Options) *Server {
	t.Helper()
	srv := NewServer(":0", api, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: body is not a JSON object: %v\n%s", method, target, err, rr.Body.String())
		}
	}
	return rr, decoded
}

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, Options{})

	for _, path := range []string{"/health", "/healthz"} {
		rr, body := do(t, srv, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK || body["status"] != "ok" {
			t.Fatalf("%s: status=%d body=%v", path, rr.Code, body)
		}
		if ts, _ := body["timestamp"].(string); ts == "" {
			t.Fatalf("%s: missing timestamp", path)
		}
	}

	rr, body := do(t, srv, http.MethodGet, "/readyz", "", nil)
	if rr.Code != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("readyz: status=%d body=%v", rr.Code, body)
	}

	notReady := newTestServer(t, Options{Ready: func(context.Context) error { return errors.New("disk gone") }})
	rr, _ = do(t, notReady, http.MethodGet, "/readyz", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing check: status=%d", rr.Code)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr, body := do(t, srv, http.MethodGet, "/nope", "", nil)
	if rr.Code != http.StatusNotFound || body["error"] != "Not found" {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("request id header missing")
	}
}

func TestCreateExpenseValidation(t *testing.T) {
	srv := newTestServer(t, Options{})

	tests := []struct {
		name    string
		body    string
		headers map[string]string
		message string
	}{
		{"missing date", `{"amount": 10, "category": "Food", "description": "Lunch"}`, jsonHeaders, "Missing required fields"},
		{"blank category", `{"amount": 10, "category": "  ", "description": "Lunch", "date": "2024-03-01"}`, jsonHeaders, "Missing required fields"},
		{"zero amount", `{"amount": 0, "category": "Food", "description": "Lunch", "date": "2024-03-01"}`, jsonHeaders, "Amount must be a positive number"},
		{"negative amount", `{"amount": "-5", "category": "Food", "description": "Lunch", "date": "2024-03-01"}`, jsonHeaders, "Amount must be a positive number"},
		{"text amount", "amount=abc&category=Food&description=Lunch&date=2024-03-01", map[string]string{"Content-Type": "application/x-www-form-urlencoded"}, "Amount must be a positive number"},
		{"bad date", `{"amount": 10, "category": "Food", "description": "Lunch", "date": "01/03/2024"}`, jsonHeaders, "Invalid date format. Use ISO 8601 format (YYYY-MM-DD)"},
		{"long description", fmt.Sprintf(`{"amount": 10, "category": "Food", "description": %q, "date": "2024-03-01"}`, strings.Repeat("x", 201)), jsonHeaders, "Description too long (max 200 characters)"},
		{"malformed json", `{"amount": `, jsonHeaders, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := do(t, srv, http.MethodPost, "/expenses", tt.body, tt.headers)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d, want 400 (body=%v)", rr.Code, body)
			}
			if body["error"] != tt.message {
				t.Fatalf("error=%v, want %q", body["error"], tt.message)
			}
		})
	}

	_, body := do(t, srv, http.MethodPost, "/expenses", `{}`, jsonHeaders)
	required, _ := body["required"].([]any)
	if len(required) != 4 {
		t.Fatalf("required=%v", body["required"])
	}

	rr, list := do(t, srv, http.MethodGet, "/expenses", "", nil)
	if rr.Code != http.StatusOK || list["count"] != float64(0) {
		t.Fatalf("validation failures must not create records: %v", list)
	}
}

func TestCreateExpenseIdempotentReplay(t *testing.T) {
	srv := newTestServer(t, Options{})
	payload := `{"amount": 250.50, "category": "Food", "description": "Lunch", "date": "2024-03-01"}`
	headers := map[string]string{"Content-Type": "application/json", IdempotencyKeyHeader: "abc"}

	rr, first := do(t, srv, http.MethodPost, "/expenses", payload, headers)
	if rr.Code != http.StatusCreated || first["message"] != "Expense created successfully" {
		t.Fatalf("first create: status=%d body=%v", rr.Code, first)
	}
	created := first["expense"].(map[string]any)
	if created["amount"] != 250.5 || created["date"] != "2024-03-01" {
		t.Fatalf("unexpected expense: %v", created)
	}

	rr, second := do(t, srv, http.MethodPost, "/expenses", payload, headers)
	if rr.Code != http.StatusOK || second["message"] != "Expense already created (idempotent)" {
		t.Fatalf("replay: status=%d body=%v", rr.Code, second)
	}
	if second["expense"].(map[string]any)["id"] != created["id"] {
		t.Fatalf("replay returned a different expense: %v", second["expense"])
	}

	_, list := do(t, srv, http.MethodGet, "/expenses", "", nil)
	if list["count"] != float64(1) || list["total"] != 250.5 {
		t.Fatalf("list after replay: %v", list)
	}
}

func TestCreateExpenseFormBodyAndRFC3339Date(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr, body := do(t, srv, http.MethodPost, "/expenses",
		"amount=12%2C34&category=Travel&description=Bus&date=2024-03-01T23%3A30%3A00-02%3A00",
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%v", rr.Code, body)
	}
	exp := body["expense"].(map[string]any)
	if exp["amount"] != 12.34 || exp["date"] != "2024-03-02" {
		t.Fatalf("unexpected expense: %v", exp)
	}
}

func TestListAndGetExpenses(t *testing.T) {
	srv := newTestServer(t, Options{})
	for _, e := range []struct{ amount, category, date string }{
		{"10", "Food", "2024-01-05"},
		{"20", "Travel", "2024-02-01"},
		{"5.25", "Food", "2024-03-01"},
	} {
		body := fmt.Sprintf(`{"amount": %q, "category": %q, "description": "x", "date": %q}`, e.amount, e.category, e.date)
		if rr, _ := do(t, srv, http.MethodPost, "/expenses", body, jsonHeaders); rr.Code != http.StatusCreated {
			t.Fatalf("seed: status=%d", rr.Code)
		}
	}

	_, list := do(t, srv, http.MethodGet, "/expenses?category=Food&sort=date_desc", "", nil)
	if list["count"] != float64(2) || list["total"] != 15.25 {
		t.Fatalf("filtered list: %v", list)
	}
	items := list["expenses"].([]any)
	if items[0].(map[string]any)["date"] != "2024-03-01" {
		t.Fatalf("date_desc order wrong: %v", items)
	}

	_, all := do(t, srv, http.MethodGet, "/expenses?sort=bogus", "", nil)
	if all["count"] != float64(3) {
		t.Fatalf("unknown sort should list everything: %v", all)
	}
	id := all["expenses"].([]any)[0].(map[string]any)["id"].(string)

	rr, got := do(t, srv, http.MethodGet, "/expenses/"+id, "", nil)
	if rr.Code != http.StatusOK || got["id"] != id {
		t.Fatalf("get: status=%d body=%v", rr.Code, got)
	}

	rr, got = do(t, srv, http.MethodGet, "/expenses/missing", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get missing: status=%d body=%v", rr.Code, got)
	}
}

type fakeAPI struct {
	createResult services.CreateResult
	createErr    error
	listErr      error
}

func (f *fakeAPI) CreateIdempotent(context.Context, string, core.NewExpense) (services.CreateResult, error) {
	return f.createResult, f.createErr
}

func (f *fakeAPI) ListRecords(context.Context, core.ListOptions) (core.ExpenseList, error) {
	return core.ExpenseList{Expenses: []core.ExpenseView{}}, f.listErr
}

func (f *fakeAPI) GetRecord(context.Context, string) (core.ExpenseView, error) {
	return core.ExpenseView{}, records.ErrNotFound
}

func TestServiceErrorMapping(t *testing.T) {
	valid := `{"amount": 1, "category": "Food", "description": "x", "date": "2024-03-01"}`
	persistence := &docstore.PersistenceError{Op: "rename", Path: "/data/expenses.json", Err: errors.New("EXDEV")}

	tests := []struct {
		name   string
		api    *fakeAPI
		method string
		path   string
		code   int
		errMsg string
	}{
		{"dangling key", &fakeAPI{createErr: services.ErrDanglingKey}, http.MethodPost, "/expenses", http.StatusConflict, "Idempotency key refers to an expense that no longer exists"},
		{"persistence on create", &fakeAPI{createErr: fmt.Errorf("save expense: %w", persistence)}, http.MethodPost, "/expenses", http.StatusInternalServerError, "Internal server error"},
		{"saved but key not registered", &fakeAPI{
			createResult: services.CreateResult{Expense: core.ExpenseView{ID: "exp-1"}},
			createErr:    fmt.Errorf("register key: %w", persistence),
		}, http.MethodPost, "/expenses", http.StatusInternalServerError, "Internal server error"},
		{"persistence on list", &fakeAPI{listErr: persistence}, http.MethodGet, "/expenses", http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServerFor(t, tt.api, Options{})
			body := ""
			if tt.method == http.MethodPost {
				body = valid
			}
			rr, got := do(t, srv, tt.method, tt.path, body, jsonHeaders)
			if rr.Code != tt.code || got["error"] != tt.errMsg {
				t.Fatalf("status=%d body=%v", rr.Code, got)
			}
			if strings.Contains(rr.Body.String(), "EXDEV") {
				t.Fatal("internal error detail leaked to the client")
			}
		})
	}
}

func TestCreateFailsWhenKeyCannotBeRegistered(t *testing.T) {
	dir := t.TempDir()
	// The ledger cannot take its write lock, so every Put fails while
	// reads and the record store keep working.
	if err := os.Mkdir(filepath.Join(dir, "idempotency.json.lock"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	srv := newTestServerIn(t, dir, Options{})
	headers := map[string]string{"Content-Type": "application/json", IdempotencyKeyHeader: "abc"}
	body := `{"amount": 250.50, "category": "Food", "description": "Lunch", "date": "2024-03-01"}`

	for attempt := 1; attempt <= 2; attempt++ {
		rr, got := do(t, srv, http.MethodPost, "/expenses", body, headers)
		if rr.Code != http.StatusInternalServerError || got["error"] != "Internal server error" {
			t.Fatalf("attempt %d: status=%d body=%v", attempt, rr.Code, got)
		}
		if _, ok := got["expense"]; ok {
			t.Fatalf("attempt %d: a failed create must not return the record: %v", attempt, got)
		}
	}
}

func TestCreateRateLimited(t *testing.T) {
	srv := newTestServer(t, Options{RateLimitPerMinute: 2})
	body := `{"amount": 1, "category": "Food", "description": "x", "date": "2024-03-01"}`

	for i := 0; i < 2; i++ {
		if rr, _ := do(t, srv, http.MethodPost, "/expenses", body, jsonHeaders); rr.Code != http.StatusCreated {
			t.Fatalf("request %d: status=%d", i+1, rr.Code)
		}
	}
	rr, got := do(t, srv, http.MethodPost, "/expenses", body, jsonHeaders)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("status=%d retry-after=%q", rr.Code, rr.Header().Get("Retry-After"))
	}
	if got["error"] == nil {
		t.Fatalf("429 body should be a JSON error: %v", got)
	}

	if rr, _ := do(t, srv, http.MethodGet, "/expenses", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("reads are not rate limited: status=%d", rr.Code)
	}
}
