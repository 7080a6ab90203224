package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flamehq/flame-node-sdk/common/logger"
)

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	HealthHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	if rec.Body.String() != `{"status":"healthy"}` {
		t.Fatalf("got body %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("got content type %q", ct)
	}
}

func TestNewSetsAddrAndTimeouts(t *testing.T) {
	s := New("webhook", 8123, http.NewServeMux(), logger.New("error", "json"))
	if s.httpServer.Addr != ":8123" {
		t.Fatalf("got %q", s.httpServer.Addr)
	}
	if s.name != "webhook" {
		t.Fatalf("got %q", s.name)
	}
}

func TestStartReturnsErrorWhenPortAlreadyInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port

	s := New("webhook", port, http.NewServeMux(), logger.New("error", "json"))
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected Start to report an error when the port is already bound")
	}
}

func TestStartShutsDownWhenContextCanceled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	s := New("webhook", port, http.NewServeMux(), logger.New("error", "json"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error from graceful shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
