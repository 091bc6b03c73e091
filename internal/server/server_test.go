package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ctxlens/backend/internal/bus"
	"github.com/ctxlens/backend/internal/gateway"
	"github.com/ctxlens/backend/internal/session"
	"github.com/ctxlens/backend/pkg/Logger"
)

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := Logger.New(false)
	b := bus.NewBus(10)
	gw := gateway.New(log, b.Incoming, b.WebsocketOut)
	sessions := session.New(log, nil)

	router := gin.New()
	InitializeRoutes(router, Dependencies{Log: log, Bus: b, Gateway: gw, Sessions: sessions})
	return router
}

func TestHealthz(t *testing.T) {
	router := newTestEngine(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	router := newTestEngine(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestWSHandlerRejectsMissingClientID(t *testing.T) {
	router := newTestEngine(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusBadRequest {
		t.Fatalf("expected the empty client_id segment to be rejected, got %d", rec.Code)
	}
}
