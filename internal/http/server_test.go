package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"finledger/internal/core"
	"finledger/internal/log"
	"finledger/internal/services"
	"finledger/internal/storage/memory"
)

type apiFixture struct {
	t       *testing.T
	server  *Server
	finance *services.Finance
}

func newAPI(t *testing.T, opts Options) *apiFixture {
	t.Helper()
	clock := core.NewFixedClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	finance, err := services.New(services.Deps{
		Storage: memory.New(),
		Clock:   clock,
		Logger:  log.Discard(),
		Config:  services.Config{ReferenceCurrency: "EUR"},
	})
	if err != nil {
		t.Fatal(err)
	}
	opts.Logger = log.Discard()
	opts.Clock = clock
	s := NewServer(":0", finance, opts)
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		_ = finance.Close(context.Background())
	})
	return &apiFixture{t: t, server: s, finance: finance}
}

func (a *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	ready := errors.New("db down")
	api := newAPI(t, Options{Ready: func(context.Context) error { return ready }})

	if rec := api.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with failing store = %d", rec.Code)
	}
	ready = nil
	if rec := api.do(http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
}

func TestTransactionsAPI(t *testing.T) {
	api := newAPI(t, Options{})

	rec := api.do(http.MethodPost, "/api/transactions",
		`{"title":"Salary","amount":"1000","category":"Salary","type":"income","date":"2025-03-05","originalCurrency":"eur"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body)
	}
	created := decode[core.Transaction](t, rec)
	if created.ID == "" || created.OriginalCurrency != "EUR" {
		t.Fatalf("created = %+v", created)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/transactions/"+created.ID {
		t.Errorf("Location = %q", loc)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
		field  string
	}{
		{"get", http.MethodGet, "/api/transactions/" + created.ID, "", http.StatusOK, ""},
		{"get unknown", http.MethodGet, "/api/transactions/nope", "", http.StatusNotFound, ""},
		{"negative amount", http.MethodPost, "/api/transactions",
			`{"title":"x","amount":"-5","category":"Food","type":"expense","date":"2025-03-05","originalCurrency":"EUR"}`,
			http.StatusUnprocessableEntity, "amount"},
		{"bad type", http.MethodPost, "/api/transactions",
			`{"title":"x","amount":"5","category":"Food","type":"gift","date":"2025-03-05","originalCurrency":"EUR"}`,
			http.StatusUnprocessableEntity, "type"},
		{"savings above cash", http.MethodPost, "/api/transactions",
			`{"title":"Stash","amount":"5000","category":"Savings","type":"savings","date":"2025-03-06","originalCurrency":"EUR"}`,
			http.StatusUnprocessableEntity, "amount"},
		{"malformed json", http.MethodPost, "/api/transactions", `{"title":`, http.StatusBadRequest, ""},
		{"unknown field", http.MethodPost, "/api/transactions", `{"titel":"x"}`, http.StatusBadRequest, ""},
		{"empty body", http.MethodPost, "/api/transactions", "", http.StatusBadRequest, ""},
		{"patch", http.MethodPatch, "/api/transactions/" + created.ID, `{"title":"March salary"}`, http.StatusOK, ""},
		{"patch unknown", http.MethodPatch, "/api/transactions/nope", `{"title":"x"}`, http.StatusNotFound, ""},
		{"list bad month", http.MethodGet, "/api/transactions?month=13", "", http.StatusBadRequest, ""},
		{"list bad type", http.MethodGet, "/api/transactions?type=gift", "", http.StatusBadRequest, ""},
		{"unknown endpoint", http.MethodGet, "/api/nothing", "", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if tt.field != "" {
				if got := decode[ErrorBody](t, rec); got.Field != tt.field {
					t.Errorf("field = %q, want %q", got.Field, tt.field)
				}
			}
		})
	}

	api.do(http.MethodPost, "/api/transactions",
		`{"title":"Lunch","amount":"12.50","category":"Food","type":"expense","date":"2025-02-20","originalCurrency":"EUR"}`)

	list := decode[transactionList](t, api.do(http.MethodGet, "/api/transactions?month=3&year=2025", ""))
	if list.Count != 1 || list.Transactions[0].Title != "March salary" {
		t.Fatalf("march list = %+v", list)
	}
	list = decode[transactionList](t, api.do(http.MethodGet, "/api/transactions?category=food", ""))
	if list.Count != 1 || list.Transactions[0].Title != "Lunch" {
		t.Fatalf("category list = %+v", list)
	}
	list = decode[transactionList](t, api.do(http.MethodGet, "/api/transactions", ""))
	if list.Count != 2 {
		t.Fatalf("full list = %+v", list)
	}

	if rec := api.do(http.MethodDelete, "/api/transactions/"+created.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/api/transactions/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", rec.Code)
	}
}

func TestImportTransactionsAPI(t *testing.T) {
	api := newAPI(t, Options{})
	body := `{"transactions":[
		{"id":"a","title":"Rent","amount":"800","category":"Housing","type":"expense","date":"2025-03-01","originalCurrency":"EUR"},
		{"id":"b","title":"Pay","amount":"2000","category":"Salary","type":"income","date":"2025-03-01","originalCurrency":"EUR"}]}`
	rec := api.do(http.MethodPost, "/api/transactions/import", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("import = %d %s", rec.Code, rec.Body)
	}
	if got := decode[map[string]int](t, rec); got["imported"] != 2 {
		t.Errorf("imported = %v", got)
	}
	rec = api.do(http.MethodPost, "/api/transactions/import", body)
	if got := decode[map[string]int](t, rec); got["imported"] != 0 {
		t.Errorf("re-import = %v, want 0", got)
	}
}

func TestSummaryAndSettingsAPI(t *testing.T) {
	api := newAPI(t, Options{})
	api.do(http.MethodPost, "/api/transactions",
		`{"title":"Pay","amount":"3000","category":"Salary","type":"income","date":"2025-03-01","originalCurrency":"EUR"}`)
	api.do(http.MethodPost, "/api/transactions",
		`{"title":"Stash","amount":"1000","category":"Savings","type":"savings","date":"2025-03-02","originalCurrency":"EUR"}`)

	rec := api.do(http.MethodGet, "/api/summary?month=3&year=2025", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("summary = %d", rec.Code)
	}
	summary := decode[services.MonthSummary](t, rec)
	if summary.Income.String() != "3000" || summary.NetWorth.String() != "1000" || summary.Currency != "EUR" {
		t.Errorf("summary = %+v", summary)
	}

	nw := decode[netWorthResponse](t, api.do(http.MethodGet, "/api/networth", ""))
	if nw.Month != 3 || nw.Year != 2025 || nw.NetWorth.String() != "1000" || nw.CashBalance.String() != "2000" {
		t.Errorf("net worth = %+v", nw)
	}

	if rec := api.do(http.MethodGet, "/api/summary?year=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad year = %d", rec.Code)
	}

	rec = api.do(http.MethodPatch, "/api/settings", `{"currency":"dollars"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad currency = %d", rec.Code)
	}
	rec = api.do(http.MethodPatch, "/api/settings", `{"currency":"usd","notificationsEnabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("settings = %d %s", rec.Code, rec.Body)
	}
	settings := decode[core.Settings](t, api.do(http.MethodGet, "/api/settings", ""))
	if settings.Currency != "USD" || settings.NotificationsEnabled {
		t.Errorf("settings = %+v", settings)
	}
}

func TestBudgetsAPI(t *testing.T) {
	api := newAPI(t, Options{})
	rec := api.do(http.MethodPost, "/api/budgets", `{"category":"Food","monthlyLimit":"100","alertThreshold":0.8,"currency":"EUR"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create budget = %d %s", rec.Code, rec.Body)
	}
	b := decode[core.CategoryBudget](t, rec)

	api.do(http.MethodPost, "/api/transactions",
		`{"title":"Pay","amount":"500","category":"Salary","type":"income","date":"2025-03-01","originalCurrency":"EUR"}`)
	api.do(http.MethodPost, "/api/transactions",
		`{"title":"Groceries","amount":"90","category":"food","type":"expense","date":"2025-03-03","originalCurrency":"EUR"}`)

	rec = api.do(http.MethodGet, "/api/budgets/progress?month=3&year=2025", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("progress = %d", rec.Code)
	}
	progress := decode[struct {
		Budgets []struct {
			Spent      string  `json:"spent"`
			Percentage float64 `json:"percentage"`
		} `json:"budgets"`
	}](t, rec)
	if len(progress.Budgets) != 1 || progress.Budgets[0].Spent != "90" {
		t.Fatalf("progress = %+v", progress)
	}

	notes := decode[struct {
		Notifications []core.Notification `json:"notifications"`
		Unread        int                 `json:"unread"`
	}](t, api.do(http.MethodGet, "/api/notifications?unread=true", ""))
	if notes.Unread == 0 || len(notes.Notifications) != notes.Unread {
		t.Fatalf("notifications = %+v", notes)
	}
	if rec := api.do(http.MethodPost, "/api/notifications/"+notes.Notifications[0].ID+"/read", ""); rec.Code != http.StatusNoContent {
		t.Errorf("mark read = %d", rec.Code)
	}
	if rec := api.do(http.MethodPost, "/api/notifications/missing/read", ""); rec.Code != http.StatusNotFound {
		t.Errorf("mark unknown read = %d", rec.Code)
	}
	if rec := api.do(http.MethodPost, "/api/notifications/read", ""); rec.Code != http.StatusOK {
		t.Errorf("mark all read = %d", rec.Code)
	}
	if rec := api.do(http.MethodDelete, "/api/notifications", ""); rec.Code != http.StatusNoContent {
		t.Errorf("clear = %d", rec.Code)
	}
	if api.finance.UnreadNotifications() != 0 || len(api.finance.Notifications()) != 0 {
		t.Error("notifications not cleared")
	}

	if rec := api.do(http.MethodPatch, "/api/budgets/"+b.ID, `{"alertThreshold":1.5}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad threshold = %d", rec.Code)
	}
	if rec := api.do(http.MethodDelete, "/api/budgets/"+b.ID, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete budget = %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/api/budgets/"+b.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted budget = %d", rec.Code)
	}
}

func TestRecurringAPI(t *testing.T) {
	api := newAPI(t, Options{})
	rec := api.do(http.MethodPost, "/api/recurring",
		`{"title":"Rent","amount":"700","category":"Housing","type":"expense","frequency":"monthly","startDate":"2025-01-01","originalCurrency":"EUR"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create template = %d %s", rec.Code, rec.Body)
	}
	rt := decode[core.RecurringTemplate](t, rec)

	if rec := api.do(http.MethodPost, "/api/recurring",
		`{"title":"Rent","amount":"700","category":"Housing","type":"expense","frequency":"fortnightly","startDate":"2025-01-01","originalCurrency":"EUR"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad frequency = %d", rec.Code)
	}

	rec = api.do(http.MethodPost, "/api/recurring/generate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("generate = %d", rec.Code)
	}
	generated := decode[map[string]int](t, rec)["generated"]
	if generated < 3 {
		t.Fatalf("generated = %d, want at least Jan..Mar", generated)
	}
	if rec := api.do(http.MethodPost, "/api/recurring/generate", ""); decode[map[string]int](t, rec)["generated"] != 0 {
		t.Error("second run generated again")
	}

	rec = api.do(http.MethodPatch, "/api/recurring/"+rt.ID+"?propagate=true", `{"title":"Flat rent"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update = %d %s", rec.Code, rec.Body)
	}
	for _, tx := range api.finance.Transactions() {
		if tx.RecurringID == rt.ID && tx.Title != "Flat rent" {
			t.Errorf("propagation missed %+v", tx)
		}
	}
	if rec := api.do(http.MethodPatch, "/api/recurring/"+rt.ID+"?propagate=maybe", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad propagate flag = %d", rec.Code)
	}

	rec = api.do(http.MethodPatch, "/api/recurring/"+rt.ID, `{"isActive":false}`)
	if got := decode[core.RecurringTemplate](t, rec); got.IsActive {
		t.Error("template still active")
	}

	rec = api.do(http.MethodDelete, "/api/recurring/"+rt.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	if got := decode[map[string]int](t, rec)["removedTransactions"]; got != generated {
		t.Errorf("removed = %d, want %d", got, generated)
	}
	if len(api.finance.Transactions()) != 0 {
		t.Error("generated entries survived cascade delete")
	}
}

func TestSnapshotAPI(t *testing.T) {
	api := newAPI(t, Options{})
	api.do(http.MethodPost, "/api/transactions",
		`{"title":"Pay","amount":"100","category":"Salary","type":"income","date":"2025-03-01","originalCurrency":"EUR"}`)

	rec := api.do(http.MethodGet, "/api/snapshot", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("export = %d %v", rec.Code, rec.Header())
	}
	exported := rec.Body.String()

	corrupt := `{"transactions":[
		{"id":"x","title":"a","amount":"1","category":"c","type":"income","date":"2025-01-01","originalCurrency":"EUR"},
		{"id":"x","title":"b","amount":"1","category":"c","type":"income","date":"2025-01-01","originalCurrency":"EUR"}]}`
	if rec := api.do(http.MethodPut, "/api/snapshot", corrupt); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("corrupt import = %d %s", rec.Code, rec.Body)
	}
	if len(api.finance.Transactions()) != 1 {
		t.Fatal("corrupt snapshot mutated state")
	}

	other := newAPI(t, Options{})
	rec = other.do(http.MethodPut, "/api/snapshot", exported)
	if rec.Code != http.StatusOK {
		t.Fatalf("import = %d %s", rec.Code, rec.Body)
	}
	if got := other.finance.Transactions(); len(got) != 1 || got[0].Title != "Pay" {
		t.Fatalf("imported = %+v", got)
	}

	if rec := other.do(http.MethodPost, "/api/reload", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("reload = %d %s", rec.Code, rec.Body)
	}
	if got := other.finance.Transactions(); len(got) != 1 {
		t.Fatalf("after reload = %+v", got)
	}
}

func TestMiddlewareChain(t *testing.T) {
	api := newAPI(t, Options{RateLimitPerMinute: 2})

	rec := api.do(http.MethodGet, "/api/settings", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
	api.do(http.MethodGet, "/api/settings", "")
	if rec := api.do(http.MethodGet, "/api/settings", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("health is not rate limited, got %d", rec.Code)
	}
	if rec := api.do("TRACE", "/healthz", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("TRACE = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newAPI(t, Options{})
	api.do(http.MethodGet, "/api/settings", "")
	rec := api.do(http.MethodGet, "/api/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	m := decode[metricsResponse](t, rec)
	if m.HTTP.TotalRequests < 1 || m.RateLimit.ClientCount != 1 {
		t.Errorf("metrics = %+v", m)
	}
}
