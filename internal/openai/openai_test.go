package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestComplete(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  A short summary.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL+"/v1/", "local-model", srv.Client())
	out, err := c.Complete(context.Background(), "be brief", "summarize this")
	if err != nil {
		t.Fatal(err)
	}
	if out != "A short summary." {
		t.Errorf("out = %q", out)
	}
	if got.Model != "local-model" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("request = %+v", got)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL+"/v1", "", srv.Client())
	if _, err := c.Complete(context.Background(), "", "x"); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL+"/v1", "", srv.Client())
	if _, err := c.Complete(context.Background(), "", "x"); err == nil {
		t.Error("expected error for 500")
	}
}
