package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/arclab/arcq/internal/events"
)

// runStreamTypes are the per-run lifecycle events forwarded over WebSocket.
var runStreamTypes = []events.EventType{
	events.RunProgress,
	events.MeasurementRecorded,
	events.RunCompleted,
	events.RunFailed,
}

// RunStreamHandler streams the events of a single run over a WebSocket. The
// connection closes after the terminal event for the run.
type RunStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewRunStreamHandler creates the run stream handler.
func NewRunStreamHandler(bus *events.Bus, log zerolog.Logger) *RunStreamHandler {
	return &RunStreamHandler{
		bus: bus,
		log: log.With().Str("component", "run_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/runs/{id}/ws.
func (h *RunStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		http.Error(w, "Run ID is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	eventChan := make(chan *events.Event, 100)
	handler := func(event *events.Event) {
		if id, ok := event.Data["run_id"].(string); !ok || id != runID {
			return
		}
		select {
		case eventChan <- event:
		default:
		}
	}
	var unsubscribes []func()
	for _, eventType := range runStreamTypes {
		unsubscribes = append(unsubscribes, h.bus.Subscribe(eventType, handler))
	}
	defer func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}()

	h.log.Info().Str("run_id", runID).Msg("Client connected to run stream")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "client gone")
			return

		case event := <-eventChan:
			if err := wsjson.Write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Str("run_id", runID).Msg("Run stream write failed")
				return
			}
			if event.Type == events.RunCompleted || event.Type == events.RunFailed {
				conn.Close(websocket.StatusNormalClosure, "run finished")
				return
			}
		}
	}
}
