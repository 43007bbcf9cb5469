package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRemoteFetchesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"openapi":"3.0.0","paths":{"/pets":{}}}`))
	}))
	defer srv.Close()

	f := &Fetcher{Timeout: 5 * time.Second}
	doc, err := f.Remote(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("remote: %v", err)
	}
	if len(doc.Paths()) != 1 {
		t.Fatalf("unexpected document: %v", doc)
	}
}

func TestRemoteNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := &Fetcher{}
	_, err := f.Remote(context.Background(), srv.URL)
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Status != http.StatusNotFound {
		t.Fatalf("expected HTTPError 404, got %v", err)
	}
}

func TestRemoteInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	f := &Fetcher{}
	_, err := f.Remote(context.Background(), srv.URL)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestRemoteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	f := &Fetcher{Timeout: 20 * time.Millisecond}
	_, err := f.Remote(context.Background(), srv.URL)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRemoteUnreachable(t *testing.T) {
	f := &Fetcher{Timeout: time.Second}
	_, err := f.Remote(context.Background(), "http://127.0.0.1:1/openapi.json")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestFromRepo(t *testing.T) {
	dir := t.TempDir()
	specPath := filepath.Join("docs", "openapi.json")
	if err := os.MkdirAll(filepath.Join(dir, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, specPath), []byte(`{"paths":{"/a":{}}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	f := &Fetcher{}
	doc, err := f.FromRepo(dir, specPath)
	if err != nil {
		t.Fatalf("from repo: %v", err)
	}
	if len(doc.Paths()) != 1 {
		t.Fatalf("unexpected document: %v", doc)
	}
	if _, err := f.FromRepo(dir, "missing.json"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestPreviousFromCallbackSendsBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"paths":{}}`))
	}))
	defer srv.Close()

	f := &Fetcher{}
	if _, err := f.PreviousFromCallback(context.Background(), srv.URL, "s3cret"); err != nil {
		t.Fatalf("previous from callback: %v", err)
	}
	if gotAuth != "Bearer s3cret" {
		t.Fatalf("missing bearer header, got %q", gotAuth)
	}
}
