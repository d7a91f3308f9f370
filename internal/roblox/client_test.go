package roblox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"yeoyu-guard/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(config.RobloxConfig{
		BaseURL:        server.URL,
		TimeoutSeconds: 2,
		MaxRetries:     1,
		RetryDelayMS:   1,
	}, zap.NewNop())
}

func TestResolvePrefersExactMatch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/users/search" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"id":9,"name":"player1","displayName":"P1"},{"id":10,"name":"playerone","displayName":"PO"}]}`))
	}))

	account, err := client.Resolve(context.Background(), "PlayerOne")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if account.ID != 10 || account.Name != "playerone" {
		t.Fatalf("expected exact match, got %+v", account)
	}
}

func TestResolveFallsBackToFirstCandidate(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":9,"name":"player1","displayName":"P1"},{"id":10,"name":"player2","displayName":"P2"}]}`))
	}))

	account, err := client.Resolve(context.Background(), "nosuchname")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if account.ID != 9 {
		t.Fatalf("expected first candidate, got %+v", account)
	}
}

func TestResolveUsesExactLookupWhenSearchEmpty(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/users/search":
			_, _ = w.Write([]byte(`{"data":[]}`))
		case "/v1/usernames/users":
			if r.Method != http.MethodPost {
				t.Fatalf("expected POST, got %s", r.Method)
			}
			_, _ = w.Write([]byte(`{"data":[{"id":77,"name":"hidden","displayName":"Hidden"}]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	account, err := client.Resolve(context.Background(), "hidden")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if account.ID != 77 {
		t.Fatalf("unexpected account %+v", account)
	}
}

func TestResolveNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))

	_, err := client.Resolve(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveUnavailableIsNotNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.Resolve(context.Background(), "anyone")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("transport failure must not look like not-found")
	}
}

func TestProfileFetch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/users/9" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":9,"name":"playerone","displayName":"PO","description":"hi 48213 bye"}`))
	}))

	profile, err := client.Profile(context.Background(), 9)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.Description != "hi 48213 bye" || profile.Name != "playerone" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestRetryOnServerError(t *testing.T) {
	calls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"id":9,"name":"playerone","displayName":"PO","description":""}`))
	}))

	if _, err := client.Profile(context.Background(), 9); err != nil {
		t.Fatalf("profile: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
