// Package handler serves the operations dashboard: active call listings and
// live per-call event streams over SSE.
package handler

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"call-server/internal/apierrors"
	"call-server/internal/bus"
	"call-server/internal/call"
	"call-server/internal/observability"
)

type Handler struct {
	registry *call.Registry
	bus      *bus.Bus
	logger   *observability.Logger
}

func New(registry *call.Registry, eventBus *bus.Bus, logger *observability.Logger) Handler {
	return Handler{
		registry: registry,
		bus:      eventBus,
		logger:   logger,
	}
}

// HandleListCalls returns a snapshot of every active call, newest first.
func (h *Handler) HandleListCalls(c *gin.Context) {
	snapshots := h.registry.Snapshots()
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].StartedAt.After(snapshots[j].StartedAt)
	})
	c.JSON(http.StatusOK, gin.H{
		"count": len(snapshots),
		"calls": snapshots,
	})
}

// HandleGetCall returns one active call's snapshot.
func (h *Handler) HandleGetCall(c *gin.Context) {
	session := h.registry.Lookup(c.Param("id"))
	if session == nil {
		apierrors.NotFound(c, "call not found or already ended")
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

// HandleCallEvents streams a call's events as SSE. A reconnecting client
// sends Last-Event-ID with the last sequence number it saw; events after it
// are replayed from the session's backlog before the live feed resumes.
func (h *Handler) HandleCallEvents(c *gin.Context) {
	ctx := c.Request.Context()
	callID := c.Param("id")

	session := h.registry.Lookup(callID)
	if session == nil {
		apierrors.NotFound(c, "call not found or already ended")
		return
	}

	var afterSeq uint64
	if raw := c.GetHeader("Last-Event-ID"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			apierrors.BadRequest(c, "INVALID_LAST_EVENT_ID", "Last-Event-ID must be a sequence number")
			return
		}
		afterSeq = parsed
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// Subscribe before replaying so nothing published between the two is
	// lost; duplicates across the seam are filtered by sequence number.
	sub := h.bus.Subscribe(callID)
	defer h.bus.Unsubscribe(sub)

	lastSent := afterSeq
	for _, evt := range session.Backlog(afterSeq) {
		h.writeEvent(c, evt)
		lastSent = evt.Seq
	}
	c.Writer.Flush()

	h.logger.Info(
		observability.WithFields(ctx,
			observability.Field{Key: "call_id", Value: callID},
			observability.Field{Key: "after_seq", Value: afterSeq},
		),
		"dashboard subscriber attached")

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				// Call ended or this subscriber fell behind.
				c.SSEvent("end", gin.H{"call_id": callID})
				return false
			}
			if evt.Seq <= lastSent {
				return true
			}
			h.writeEvent(c, evt)
			lastSent = evt.Seq
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (h *Handler) writeEvent(c *gin.Context, evt bus.TranscriptEvent) {
	// SSE id carries the sequence number so Last-Event-ID lines up with
	// the replay cursor.
	fmt.Fprintf(c.Writer, "id: %d\n", evt.Seq)
	c.SSEvent(string(evt.Kind), evt)
}
