package validate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgecheck/edgecheck/internal/fetch"
	"github.com/edgecheck/edgecheck/pkg/types"
)

func newValidator(server *httptest.Server) *Validator {
	return New(Dependencies{Fetcher: fetch.NewClient(fetch.Dependencies{HTTPClient: server.Client()})})
}

func TestValidateRecognisesEmby(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultStatusPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ServerName":"X","Version":"1","Id":"abc"}`))
	}))
	defer server.Close()

	// Any path typed by the user is ignored.
	result := newValidator(server).Validate(context.Background(), server.URL+"/web/index.html")
	if !result.Valid() {
		t.Fatalf("expected valid result, got %+v", result)
	}
	if result.Server.Name != "X" || result.Server.Version != "1" {
		t.Fatalf("unexpected identity %+v", result.Server)
	}
}

func TestValidateClassifiesFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		outcome types.Outcome
	}{
		{name: "not found", status: http.StatusNotFound, body: `{}`, outcome: types.OutcomeHTTPError},
		{name: "empty object", status: http.StatusOK, body: `{}`, outcome: types.OutcomeInvalidShape},
		{name: "missing version", status: http.StatusOK, body: `{"ServerName":"X"}`, outcome: types.OutcomeInvalidShape},
		{name: "wrong type", status: http.StatusOK, body: `{"ServerName":"X","Version":4}`, outcome: types.OutcomeInvalidShape},
		{name: "array", status: http.StatusOK, body: `[{"ServerName":"X","Version":"1"}]`, outcome: types.OutcomeInvalidShape},
		{name: "html", status: http.StatusOK, body: `<html></html>`, outcome: types.OutcomeInvalidShape},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			result := newValidator(server).Validate(context.Background(), server.URL)
			if result.Outcome != tc.outcome {
				t.Fatalf("expected %s got %+v", tc.outcome, result)
			}
			if tc.outcome == types.OutcomeHTTPError && result.Status != tc.status {
				t.Fatalf("expected status %d got %d", tc.status, result.Status)
			}
			if result.Valid() {
				t.Fatalf("result must not be valid")
			}
		})
	}
}

func TestValidateNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	result := New(Dependencies{}).Validate(context.Background(), url)
	if result.Outcome != types.OutcomeNetworkError {
		t.Fatalf("expected network error, got %+v", result)
	}
	if result.Message == "" {
		t.Fatalf("expected message for network error")
	}
}

func TestValidateMalformedURL(t *testing.T) {
	result := New(Dependencies{}).Validate(context.Background(), "https://")
	if result.Outcome != types.OutcomeMalformedURL {
		t.Fatalf("expected malformed url, got %+v", result)
	}
}
