package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"triage-ai/internal/domain"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimit},
		{"unauthorized", http.StatusUnauthorized, domain.ErrAuthInvalid},
		{"forbidden", http.StatusForbidden, domain.ErrAuthInvalid},
		{"bad request", http.StatusBadRequest, domain.ErrInvalidInput},
		{"too large", http.StatusRequestEntityTooLarge, domain.ErrInvalidInput},
		{"server error", http.StatusInternalServerError, domain.ErrProviderError},
		{"bad gateway", http.StatusBadGateway, domain.ErrProviderError},
		{"unavailable", http.StatusServiceUnavailable, domain.ErrProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapHTTPError(tt.status, []byte(`{"error":"boom"}`))
			if !errors.Is(err, tt.want) {
				t.Errorf("mapHTTPError(%d) = %v, want %v", tt.status, err, tt.want)
			}
		})
	}
}

func TestMapHTTPErrorUnknownStatus(t *testing.T) {
	err := mapHTTPError(http.StatusTeapot, []byte("short and stout"))
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.ErrorCodeOf(err) != domain.CodeUnknown {
		t.Errorf("code = %s, want %s", domain.ErrorCodeOf(err), domain.CodeUnknown)
	}
	if !strings.Contains(err.Error(), "418") || !strings.Contains(err.Error(), "short and stout") {
		t.Errorf("error should carry status and body, got %q", err.Error())
	}
}

func TestDoJSONRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gm-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := doJSONRequest(context.Background(), srv.Client(), srv.URL, []byte(`{}`),
		map[string]string{"Authorization": "Bearer gm-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
}

func TestDoJSONRequestMapsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := doJSONRequest(context.Background(), srv.Client(), srv.URL, []byte(`{}`), nil)
	if !errors.Is(err, domain.ErrRateLimit) {
		t.Errorf("expected ErrRateLimit, got %v", err)
	}
}

func TestDoJSONRequestDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := doJSONRequest(ctx, srv.Client(), srv.URL, []byte(`{}`), nil)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}
