package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rougem/FinQuantOpt/internal/events"
)

func TestEventsStreamDeliversEvents(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	h := NewEventsStreamHandler(bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()

	// Let the handler subscribe, then emit until the stream closes.
	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		for i := 0; i < 20; i++ {
			bus.Emit(events.EpochRecorded, "hybrid", map[string]interface{}{"epoch": i})
			time.Sleep(5 * time.Millisecond)
		}
	}()

	<-emitDone
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not stop after client disconnect")
	}

	body := rec.Body.String()
	assert.Contains(t, body, `"type":"connected"`)
	assert.Contains(t, body, `"type":"EPOCH_RECORDED"`)
	require.True(t, strings.Contains(body, "data: "), "SSE frames use the data: prefix")
}

func TestEventsStreamHonorsTypeFilter(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	h := NewEventsStreamHandler(bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events/stream?types=RUN_COMPLETED", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()

	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		for i := 0; i < 20; i++ {
			bus.Emit(events.EpochRecorded, "hybrid", map[string]interface{}{"epoch": i})
			bus.Emit(events.RunCompleted, "hybrid", map[string]interface{}{"run_id": "r1"})
			time.Sleep(5 * time.Millisecond)
		}
	}()

	<-emitDone
	cancel()
	<-done

	body := rec.Body.String()
	assert.Contains(t, body, `"type":"RUN_COMPLETED"`)
	assert.NotContains(t, body, `"type":"EPOCH_RECORDED"`)
}

func TestEventsStreamRejectsNonGet(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	h := NewEventsStreamHandler(bus, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/events/stream", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
