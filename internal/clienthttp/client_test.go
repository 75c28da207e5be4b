package clienthttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestFetchID_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/k/id" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("b3a1c9e0-1111-4222-8333-444455556666\n"))
	}))
	defer server.Close()

	id, err := FetchID(context.Background(), server.URL, "k")
	if err != nil {
		t.Fatalf("FetchID() error = %v", err)
	}
	if id != "b3a1c9e0-1111-4222-8333-444455556666" {
		t.Errorf("id = %q", id)
	}
}

func TestFetchID_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("404 page not found"))
	}))
	defer server.Close()

	_, err := FetchID(context.Background(), server.URL, "k")
	if err == nil {
		t.Fatal("FetchID() expected error, got nil")
	}
	if !strings.HasPrefix(err.Error(), "server returned 404") {
		t.Errorf("error = %v, want server returned 404", err)
	}
}

func TestFetchID_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	if _, err := FetchID(context.Background(), server.URL, "k"); err == nil {
		t.Fatal("FetchID() with empty body expected error, got nil")
	}
}

func TestFetchID_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := FetchID(ctx, server.URL, "k"); err == nil {
		t.Fatal("FetchID() expected error, got nil")
	}
}

func TestListPeers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/k/peers" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode([]string{"A1", "B1"})
	}))
	defer server.Close()

	ids, err := ListPeers(context.Background(), server.URL, "k")
	if err != nil {
		t.Fatalf("ListPeers() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "A1" || ids[1] != "B1" {
		t.Errorf("ids = %v, want [A1 B1]", ids)
	}
}

func TestListPeers_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("invalid json"))
	}))
	defer server.Close()

	_, err := ListPeers(context.Background(), server.URL, "k")
	if err == nil || !strings.HasPrefix(err.Error(), "parse response") {
		t.Errorf("error = %v, want parse response error", err)
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"localhost:9000", "http://localhost:9000"},
		{"http://localhost:9000/", "http://localhost:9000"},
		{"https://signal.example", "https://signal.example"},
	}
	for _, tt := range tests {
		if got := BaseURL(tt.in); got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		server     string
		wantScheme string
		wantPath   string
	}{
		{"http://localhost:9000", "ws", "/ws"},
		{"https://signal.example/base/", "wss", "/base/ws"},
		{"localhost:9000", "ws", "/ws"},
	}
	for _, tt := range tests {
		raw, err := SocketURL(tt.server, "k", "A1", "tok")
		if err != nil {
			t.Fatalf("SocketURL(%q) error = %v", tt.server, err)
		}
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("url.Parse(%q) error = %v", raw, err)
		}
		if u.Scheme != tt.wantScheme {
			t.Errorf("SocketURL(%q) scheme = %s, want %s", tt.server, u.Scheme, tt.wantScheme)
		}
		if u.Path != tt.wantPath {
			t.Errorf("SocketURL(%q) path = %s, want %s", tt.server, u.Path, tt.wantPath)
		}
		q := u.Query()
		if q.Get("key") != "k" || q.Get("id") != "A1" || q.Get("token") != "tok" {
			t.Errorf("SocketURL(%q) query = %v", tt.server, q)
		}
	}
}
