package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	article "github.com/CodeAndHammer/kasvorto/internal/article"
)

func TestFetchParsesBackend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest_v1/page/random/summary", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Go"}`))
	})
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("titles") != "Go" {
			http.Error(w, "wrong title", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"query":{"pages":[{"extract":"Go is a programming language."}]}}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	src := article.NewSource(ts.URL, 2*time.Second)
	art := src.Fetch(context.Background())

	if art.Title != "Go" {
		t.Errorf("Title = %q, want Go", art.Title)
	}
	if art.Text != "Go. Go is a programming language." {
		t.Errorf("Text = %q", art.Text)
	}
	if strings.Join(art.Tokens, "") != art.Text {
		t.Error("Tokens must concatenate to the text")
	}
}

func TestFetchFallbackOnServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	src := article.NewSource(ts.URL, 2*time.Second)
	art := src.Fetch(context.Background())

	if art.Title != "Internet" {
		t.Errorf("Expected fallback title, got %q", art.Title)
	}
	if len(art.Tokens) == 0 || strings.Join(art.Tokens, "") != art.Text {
		t.Error("Fallback tokens must concatenate to the fallback text")
	}
}

func TestFetchFallbackOnEmptyExtract(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest_v1/page/random/summary", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title":"Go"}`))
	})
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"query":{"pages":[{"extract":"  "}]}}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	src := article.NewSource(ts.URL, 2*time.Second)
	if art := src.Fetch(context.Background()); art.Title != "Internet" {
		t.Errorf("Expected fallback on empty extract, got %q", art.Title)
	}
}

func TestFetchBoundedByTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(ts.Close)

	src := article.NewSource(ts.URL, 100*time.Millisecond)
	start := time.Now()
	art := src.Fetch(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Fetch took %v, should be bounded by its timeout", elapsed)
	}
	if art.Title != "Internet" {
		t.Errorf("Expected fallback on timeout, got %q", art.Title)
	}
}

func TestFallback(t *testing.T) {
	art := article.Fallback()
	if art.Title != "Internet" || !strings.HasPrefix(art.Text, "Internet. ") {
		t.Errorf("Fallback = %+v", art)
	}
	if strings.Join(art.Tokens, "") != art.Text {
		t.Error("Fallback tokens must concatenate to the text")
	}
}
