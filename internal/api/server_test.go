package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gmenu/gmenu/internal/menubar"
	"github.com/gmenu/gmenu/internal/window"
)

func newTestServer() *Server {
	bar := menubar.New(make(chan *window.Info), nil)
	return NewServer(bar)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
}

func TestActivateWithoutMenuIsNotFound(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/menu/activate", strings.NewReader(`{"id":1}`))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("activate status = %d, want 404", rec.Code)
	}
}

func TestPrepareWithoutMenuIsNotFound(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/menu/prepare", strings.NewReader(`{"action":"app.bookmarks"}`))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("prepare status = %d, want 404", rec.Code)
	}
}

func TestPrepareRejectsMalformedBody(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/menu/prepare", strings.NewReader("{"))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("prepare status = %d, want 400", rec.Code)
	}
}
