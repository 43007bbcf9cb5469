package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSetupAndWaitPollsUntilCompleted(t *testing.T) {
	var polls int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repository/setup", func(w http.ResponseWriter, r *http.Request) {
		var req SetupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode setup: %v", err)
		}
		if req.RepoID != "proj1" || req.AccessToken != "tok" {
			t.Errorf("unexpected setup request: %+v", req)
		}
		if r.Header.Get("Authorization") != "Bearer key1" {
			t.Errorf("missing api key header")
		}
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /repository/status/proj1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		st := RepoStatus{RepoID: "proj1", Status: "pending"}
		if polls >= 3 {
			st.Status = StatusCompleted
			st.IndexStatus = "indexed"
		}
		json.NewEncoder(w).Encode(st)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "key1", MaxWait: 5 * time.Second, PollInterval: 10 * time.Millisecond}
	st, err := c.SetupAndWait(context.Background(), SetupRequest{RepoID: "proj1", RepoURLOrPath: "https://example.com/r.git", AccessToken: "tok"})
	if err != nil {
		t.Fatalf("setup and wait: %v", err)
	}
	if st.Status != StatusCompleted || polls < 3 {
		t.Fatalf("unexpected status %+v after %d polls", st, polls)
	}
}

func TestSetupAndWaitFailedStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repository/setup", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /repository/status/proj1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RepoStatus{RepoID: "proj1", Status: StatusFailed, Message: "clone denied"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, MaxWait: time.Second, PollInterval: 10 * time.Millisecond}
	_, err := c.SetupAndWait(context.Background(), SetupRequest{RepoID: "proj1"})
	if err == nil {
		t.Fatalf("expected failure")
	}
}

func TestQueryDecodesPlainJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"paths":{"/pets":{}}}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	res, err := c.Query(context.Background(), QueryRequest{RepoID: "proj1", QueryText: "q"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, ok := res["paths"]; !ok {
		t.Fatalf("unexpected result: %v", res)
	}
}

func TestQueryStripsMarkdownFences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Here you go:\n```json\n{\"paths\":{\"/pets\":{}}}\n```\n"))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	res, err := c.Query(context.Background(), QueryRequest{RepoID: "proj1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, ok := res["paths"]; !ok {
		t.Fatalf("fenced answer not decoded: %v", res)
	}
}

func TestQueryErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	if _, err := c.Query(context.Background(), QueryRequest{RepoID: "proj1"}); err == nil {
		t.Fatalf("expected error for 500")
	}
}
