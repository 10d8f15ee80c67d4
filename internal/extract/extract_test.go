package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"metagate.io/internal/redact"
)

func TestExtractSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/extract" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req extractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		if req.FileID != "file-1" || req.Tier != "full" {
			t.Errorf("unexpected payload: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(redact.Report{FileName: "photo.jpg", MimeType: "image/jpeg"})
	}))
	defer srv.Close()

	report, err := NewClient(srv.URL, time.Second).Extract(context.Background(), "file-1", "full")
	if err != nil {
		t.Fatal(err)
	}
	if report.FileName != "photo.jpg" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestExtractServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Extract(context.Background(), "file-1", "redacted")
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestExtractRejectionKeepsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(engineError{Error: "not_found", Message: "no such file"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Extract(context.Background(), "missing", "full")
	if err == nil || errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("4xx must be a plain error, got %v", err)
	}
}

func TestExtractConnectionRefused(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", 200*time.Millisecond).Extract(context.Background(), "file-1", "full")
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}
