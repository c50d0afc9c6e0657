package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/odyssey-erp/odyssey-construction/internal/shared"
)

func TestRespondErrorStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", shared.NewValidationError("quantity", "must not be negative"), http.StatusUnprocessableEntity},
		{"wrapped validation", fmt.Errorf("save: %w", shared.NewValidationError("rate", "bad")), http.StatusUnprocessableEntity},
		{"not found", fmt.Errorf("estimates: %w", shared.ErrNotFound), http.StatusNotFound},
		{"conflict", fmt.Errorf("estimates: %w", shared.ErrConflict), http.StatusConflict},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, tc.err)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body ProblemDetail
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.status {
				t.Fatalf("expected body status %d, got %d", tc.status, body.Status)
			}
		})
	}
}

func TestRespondErrorCarriesField(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, shared.NewValidationError("waste_percentage", "must be between 0 and 100"))
	var body ProblemDetail
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Field != "waste_percentage" {
		t.Fatalf("expected field in problem, got %q", body.Field)
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
}
