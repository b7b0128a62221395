package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"finledger/internal/core"
)

// maxBodyBytes bounds request bodies; snapshots are the largest payload.
const maxBodyBytes = 8 << 20

// MonthParams holds parsed year/month values from request parameters.
type MonthParams struct {
	Year  int
	Month int
}

// ParseMonthParams reads month and year from the query, defaulting to the
// month of today. Out-of-range values are a 400.
func ParseMonthParams(q url.Values, today core.Date) (MonthParams, *JSONResponseBuilder) {
	params := MonthParams{Year: today.Year(), Month: int(today.Month())}

	if v := strings.TrimSpace(q.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1900 || y > 9999 {
			return params, BadRequestError(fmt.Sprintf("invalid year %q", v))
		}
		params.Year = y
	}
	if v := strings.TrimSpace(q.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return params, BadRequestError(fmt.Sprintf("invalid month %q", v))
		}
		params.Month = m
	}
	return params, nil
}

// ParseBoolParam reads a boolean query flag; absent means false.
func ParseBoolParam(q url.Values, key string) (bool, *JSONResponseBuilder) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, BadRequestError(fmt.Sprintf("invalid %s %q", key, v))
	}
	return b, nil
}

// DecodeJSON reads the body into dst. Unknown fields, trailing data and
// oversize bodies are all malformed requests.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) *JSONResponseBuilder {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return ErrorResponse(http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			return BadRequestError("request body is empty")
		default:
			return BadRequestError("malformed JSON: " + err.Error())
		}
	}
	if dec.More() {
		return BadRequestError("malformed JSON: trailing data")
	}
	return nil
}

// sanitizeInput removes control characters (except tab and newlines) and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func sanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitizeInput(*s)
	return &v
}
