package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"finledger/internal/core"
)

func TestJSONResponseBuilder(t *testing.T) {
	rec := httptest.NewRecorder()
	Created(map[string]string{"id": "1"}).Header("Location", "/x/1").Write(rec)
	if rec.Code != http.StatusCreated || rec.Header().Get("Location") != "/x/1" {
		t.Fatalf("response = %d %v", rec.Code, rec.Header())
	}
	if rec.Header().Get("Content-Type") != "application/json" || rec.Body.String() != "{\"id\":\"1\"}\n" {
		t.Errorf("body = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	NoContent().Write(rec)
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Errorf("no content = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	MethodNotAllowedError("GET, POST").Write(rec)
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != "GET, POST" {
		t.Errorf("405 = %d %v", rec.Code, rec.Header())
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  int
		field string
	}{
		{"validation", &core.ValidationError{Field: "title", Err: core.ErrEmptyTitle}, http.StatusUnprocessableEntity, "title"},
		{"wrapped validation", fmt.Errorf("record 3: %w", &core.ValidationError{Field: "amount", Err: core.ErrInvalidAmount}), http.StatusUnprocessableEntity, "amount"},
		{"insufficient balance", core.ErrInsufficientBalance, http.StatusUnprocessableEntity, ""},
		{"not found", fmt.Errorf("transaction x: %w", core.ErrNotFound), http.StatusNotFound, ""},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			FromError(httptest.NewRequest(http.MethodGet, "/", nil), tt.err).Write(rec)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			body := decode[ErrorBody](t, rec)
			if body.Field != tt.field {
				t.Errorf("field = %q, want %q", body.Field, tt.field)
			}
			if tt.want == http.StatusInternalServerError && body.Error != "internal error" {
				t.Errorf("internal detail leaked: %q", body.Error)
			}
		})
	}
}
