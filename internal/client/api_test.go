package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devkade/hackathon-starter/internal/domain"
	"github.com/devkade/hackathon-starter/internal/domain/conversation"
	"github.com/devkade/hackathon-starter/internal/middleware"
)

func TestAPISubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/conversations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(middleware.HeaderIdempotencyKey); got != "key-1" {
			t.Errorf("expected idempotency key, got %q", got)
		}
		var req conversation.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Content != "hello" {
			t.Errorf("unexpected content %q", req.Content)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"conversationId":"c1","status":"running"}`))
	}))
	defer srv.Close()

	resp, err := NewAPI(srv.URL+"/").Submit(context.Background(), conversation.SubmitRequest{Content: "hello"}, "key-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.ConversationID != "c1" || resp.Status != conversation.StatusRunning {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAPIErrorCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"conversation not found"}`))
	}))
	defer srv.Close()

	_, err := NewAPI(srv.URL).Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "conversation not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !IsNotFound(err) {
		t.Fatal("expected IsNotFound")
	}
}

func TestAPIErrorWithoutJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewAPI(srv.URL).Get(context.Background(), "c1")
	if err == nil || err.Error() != http.StatusText(http.StatusBadGateway) {
		t.Fatalf("unexpected error %v", err)
	}
	if IsNotFound(err) {
		t.Fatal("502 must not be reported as not found")
	}
}

func TestAPIReadFileEscapesSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/conversations/c1/files/docs/my%20notes.md" {
			t.Errorf("unexpected path %s", r.URL.EscapedPath())
		}
		_, _ = w.Write([]byte("# notes"))
	}))
	defer srv.Close()

	data, err := NewAPI(srv.URL).ReadFile(context.Background(), "c1", "/docs/my notes.md")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "# notes" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestAPIFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"src","type":"directory","size":0,"path":"src","children":[{"name":"a.go","type":"file","size":3,"path":"src/a.go"}]}]`))
	}))
	defer srv.Close()

	nodes, err := NewAPI(srv.URL).Files(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(nodes) != 1 || len(nodes[0].Children) != 1 || nodes[0].Children[0].Path != "src/a.go" {
		t.Fatalf("unexpected tree %+v", nodes)
	}
}

func TestAPIReadFileRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		chunk := make([]byte, 1<<20)
		for range maxResponseSize>>20 + 1 {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	data, err := NewAPI(srv.URL).ReadFile(context.Background(), "c1", "big.bin")
	if !errors.Is(err, domain.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %d bytes and err=%v", len(data), err)
	}
	if IsNotFound(err) {
		t.Fatal("oversized body must not be reported as not found")
	}
}
