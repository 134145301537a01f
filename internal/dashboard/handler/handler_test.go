package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-server/internal/bus"
	"call-server/internal/call"
	"call-server/internal/config"
	"call-server/internal/extract"
	"call-server/internal/intent"
	"call-server/internal/observability"
	"call-server/internal/store"
)

type fixture struct {
	handler  Handler
	registry *call.Registry
	bus      *bus.Bus
	deps     call.Deps
}

func newFixture() *fixture {
	logger := observability.NewLogger()
	registry := call.NewRegistry()
	eventBus := bus.New(64, logger)
	return &fixture{
		handler:  New(registry, eventBus, logger),
		registry: registry,
		bus:      eventBus,
		deps: call.Deps{
			Bus:        eventBus,
			Registry:   registry,
			Classifier: intent.New(nil, 3, logger),
			Extractor:  extract.New(nil, logger),
			Logger:     logger,
			Config:     config.DefaultCallConfig(),
		},
	}
}

func (f *fixture) addSession(t *testing.T, callID string) *call.Session {
	t.Helper()
	business := &store.Business{ID: uuid.New(), Name: "Apex Plumbing"}
	session := call.New(callID, business, "+15550001111", f.deps)
	require.NoError(t, f.registry.Insert(session))
	return session
}

func (f *fixture) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/dashboard/calls", f.handler.HandleListCalls)
	r.GET("/api/dashboard/calls/:id", f.handler.HandleGetCall)
	r.GET("/api/dashboard/calls/:id/events", f.handler.HandleCallEvents)
	return r
}

func TestListCallsReturnsActiveSessions(t *testing.T) {
	f := newFixture()
	f.addSession(t, "CA1")
	f.addSession(t, "CA2")

	w := httptest.NewRecorder()
	f.router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/calls", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
	assert.Contains(t, w.Body.String(), "CA1")
	assert.Contains(t, w.Body.String(), "CA2")
}

func TestGetCallReturnsSnapshot(t *testing.T) {
	f := newFixture()
	f.addSession(t, "CA3")

	w := httptest.NewRecorder()
	f.router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/calls/CA3", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"call_id":"CA3"`)
	assert.Contains(t, w.Body.String(), `"state":"ringing"`)
}

func TestGetCallUnknownIs404(t *testing.T) {
	f := newFixture()

	w := httptest.NewRecorder()
	f.router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/calls/CA404", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCallEventsStreamsUntilCallEnds(t *testing.T) {
	f := newFixture()
	session := f.addSession(t, "CA5")
	session.OnAssistantTranscript(context.Background(), "Hello!")

	srv := httptest.NewServer(f.router())
	defer srv.Close()

	// Drive the session far enough to publish transcript events, then end
	// the call so the stream terminates.
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go session.Run(ctx)
		time.Sleep(300 * time.Millisecond)
		session.OnStreamStop(ctx)
	}()

	resp, err := http.Get(srv.URL + "/api/dashboard/calls/CA5/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Hello!")
	assert.Contains(t, string(body), "event:end")
}

func TestCallEventsRejectsBadLastEventID(t *testing.T) {
	f := newFixture()
	f.addSession(t, "CA6")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/calls/CA6/events", nil)
	req.Header.Set("Last-Event-ID", "not-a-number")
	f.router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
