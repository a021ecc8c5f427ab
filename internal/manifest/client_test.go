package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchJSONSendsBrowserHeaders(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`{"label":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, nil)
	doc, err := c.FetchJSON(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchJSON: %v", err)
	}
	if doc["label"] != "ok" {
		t.Errorf("doc = %v", doc)
	}
	if gotUA == "" || gotUA == "Go-http-client/1.1" {
		t.Errorf("expected a browser user agent, got %q", gotUA)
	}
}

func TestFetchJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"label":"recovered"}`))
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, nil)
	doc, err := c.FetchJSON(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchJSON after retries: %v", err)
	}
	if doc["label"] != "recovered" {
		t.Errorf("doc = %v", doc)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestFetchJSONClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, nil)
	if _, err := c.FetchJSON(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error for 404")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1 (4xx must not retry)", got)
	}
}

func TestFetchJSONStripsBOM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\uFEFF  {\"label\":\"bom\"}  "))
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, nil)
	doc, err := c.FetchJSON(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchJSON: %v", err)
	}
	if doc["label"] != "bom" {
		t.Errorf("doc = %v", doc)
	}
}

type mapCache struct {
	entries map[string][]byte
	sets    int
}

func (m *mapCache) Get(_ context.Context, url string) ([]byte, bool) {
	body, ok := m.entries[url]
	return body, ok
}

func (m *mapCache) Set(_ context.Context, url string, body []byte) {
	m.entries[url] = body
	m.sets++
}

func TestFetchJSONUsesCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"label":"fresh"}`))
	}))
	defer srv.Close()

	cache := &mapCache{entries: map[string][]byte{}}
	c := NewClient(5*time.Second, cache)

	if _, err := c.FetchJSON(context.Background(), srv.URL); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := c.FetchJSON(context.Background(), srv.URL); err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
	if cache.sets != 1 {
		t.Errorf("cache populated %d times, want 1", cache.sets)
	}
}
