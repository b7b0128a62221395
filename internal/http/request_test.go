package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"finledger/internal/core"
)

func TestParseMonthParams(t *testing.T) {
	today := core.NewDate(2025, 6, 15)
	tests := []struct {
		name      string
		query     string
		wantYear  int
		wantMonth int
		wantErr   bool
	}{
		{"defaults to today", "", 2025, 6, false},
		{"explicit", "month=2&year=2024", 2024, 2, false},
		{"month only", "month=12", 2025, 12, false},
		{"month zero", "month=0", 0, 0, true},
		{"month text", "month=may", 0, 0, true},
		{"year out of range", "year=20", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			got, bad := ParseMonthParams(q, today)
			if (bad != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", bad, tt.wantErr)
			}
			if tt.wantErr {
				if bad.StatusCode() != http.StatusBadRequest {
					t.Errorf("status = %d", bad.StatusCode())
				}
				return
			}
			if got.Year != tt.wantYear || got.Month != tt.wantMonth {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestParseBoolParam(t *testing.T) {
	q, _ := url.ParseQuery("a=true&b=0&c=perhaps")
	if v, bad := ParseBoolParam(q, "a"); bad != nil || !v {
		t.Error("a should be true")
	}
	if v, bad := ParseBoolParam(q, "b"); bad != nil || v {
		t.Error("b should be false")
	}
	if v, bad := ParseBoolParam(q, "missing"); bad != nil || v {
		t.Error("missing should be false")
	}
	if _, bad := ParseBoolParam(q, "c"); bad == nil {
		t.Error("c should be rejected")
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name string
		body string
		want int
	}{
		{"ok", `{"name":"x"}`, 0},
		{"empty", ``, http.StatusBadRequest},
		{"unknown field", `{"nom":"x"}`, http.StatusBadRequest},
		{"trailing", `{"name":"x"}{"name":"y"}`, http.StatusBadRequest},
		{"too large", `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			bad := DecodeJSON(httptest.NewRecorder(), req, &p)
			if tt.want == 0 {
				if bad != nil {
					t.Fatalf("unexpected rejection %d", bad.StatusCode())
				}
				if p.Name != "x" {
					t.Errorf("decoded %+v", p)
				}
				return
			}
			if bad == nil || bad.StatusCode() != tt.want {
				t.Fatalf("got %v, want status %d", bad, tt.want)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  Coffee\x00 shop\t "); got != "Coffee shop" {
		t.Errorf("sanitizeInput() = %q", got)
	}
	if sanitizePtr(nil) != nil {
		t.Error("nil should stay nil")
	}
}
