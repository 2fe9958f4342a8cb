package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAPIProviderEmbed(t *testing.T) {
	var gotAuth string
	var gotReq apiRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := apiResponse{}
		for range gotReq.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: []float32{0.1, 0.2, 0.3}})
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "test-model", APIKey: "secret"})
	vectors, err := p.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotReq.Model != "test-model" || len(gotReq.Input) != 2 {
		t.Errorf("request = %+v", gotReq)
	}
	if p.Dimension() != 3 {
		t.Errorf("detected dimension = %d, want 3", p.Dimension())
	}
}

func TestAPIProviderCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{}) // zero vectors back
	}))
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "m"})
	_, err := p.Embed(context.Background(), []string{"one", "two"})
	if err == nil || !strings.Contains(err.Error(), "got 0 vectors for 2 texts") {
		t.Fatalf("err = %v, want vector count mismatch", err)
	}
}

func TestAPIProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "m"})
	_, err := p.Embed(context.Background(), []string{"one"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v, want status 429 error", err)
	}
}

func TestAPIProviderEmptyInput(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unreachable.invalid", Model: "m"})
	vectors, err := p.Embed(context.Background(), nil)
	if err != nil || vectors != nil {
		t.Fatalf("empty input: vectors=%v err=%v, want nil/nil without a request", vectors, err)
	}
}

func TestAPIProviderConfiguredDimensionFallback(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unreachable.invalid", Dimension: 1536})
	if p.Dimension() != 1536 {
		t.Fatalf("dimension = %d, want configured 1536", p.Dimension())
	}
}

func TestLocalProviderEmbed(t *testing.T) {
	var prompts []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req localRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		prompts = append(prompts, req.Prompt)
		json.NewEncoder(w).Encode(localResponse{Embedding: []float32{0.5, 0.5}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "nomic-embed-text"})
	vectors, err := p.Embed(context.Background(), []string{"first", "second", "third"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}
	// One request per prompt, in order.
	want := []string{"first", "second", "third"}
	for i, prompt := range want {
		if prompts[i] != prompt {
			t.Errorf("request %d prompt = %q, want %q", i, prompts[i], prompt)
		}
	}
	if p.Dimension() != 2 {
		t.Errorf("detected dimension = %d, want 2", p.Dimension())
	}
}

func TestLocalProviderStopsOnError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(localResponse{Embedding: []float32{1}})
	}))
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "m"})
	_, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected an error from the failing prompt")
	}
	if calls != 2 {
		t.Fatalf("made %d requests, want 2 (stop at first failure)", calls)
	}
}
