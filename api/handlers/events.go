package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"

	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
)

// EventsHandler serves the progress bus over server-sent events.
type EventsHandler struct {
	bus    *progress.Bus
	logger logger.Logger
}

func NewEventsHandler(bus *progress.Bus, log logger.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: log.Named("sse")}
}

// sseSink frames bus events onto one response. Writes after close fail so the
// bus drops the subscriber.
type sseSink struct {
	mu     sync.Mutex
	w      io.Writer
	flush  func()
	closed bool
}

var errStreamClosed = errors.New("event stream closed")

func (s *sseSink) write(id, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}
	var b strings.Builder
	if id != "" {
		fmt.Fprintf(&b, "id: %s\n", id)
	}
	fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", event, payload)
	return s.raw(b.String())
}

func (s *sseSink) raw(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Send implements progress.Sink.
func (s *sseSink) Send(ev progress.Event) error {
	return s.write(ev.ID, string(ev.Type), ev)
}

// Keepalive implements progress.Keepaliver.
func (s *sseSink) Keepalive() error {
	return s.raw(": keepalive\n")
}

func (s *sseSink) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Stream subscribes the caller to the bus until the request ends. A
// Last-Event-ID header resumes after that event when it is still in history.
func (h *EventsHandler) Stream(c *gin.Context) {
	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sink := &sseSink{w: c.Writer, flush: c.Writer.Flush}
	clientID := xid.New().String()
	if err := sink.write("", "connected", gin.H{
		"clientId":  clientID,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return
	}

	var opts []progress.SubscribeOption
	lastID := c.GetHeader("Last-Event-ID")
	if lastID == "" {
		lastID = c.Query("lastEventId")
	}
	if lastID != "" {
		opts = append(opts, progress.WithLastEventID(lastID))
	}

	sub, err := h.bus.Subscribe(sink, opts...)
	if err != nil {
		h.logger.Warn("Failed to subscribe client", logger.String("clientId", clientID), logger.Error(err))
		sink.close()
		return
	}
	h.logger.Debug("Client connected",
		logger.String("clientId", clientID),
		logger.String("subscription", sub.ID()),
		logger.String("lastEventId", lastID),
	)

	select {
	case <-c.Request.Context().Done():
	case <-sub.Done():
	}
	sub.Close()
	sink.close()
	h.logger.Debug("Client disconnected", logger.String("clientId", clientID))
}

// History returns recent events, optionally filtered by ?type= (repeatable or
// comma separated) and limited by ?count=.
func (h *EventsHandler) History(c *gin.Context) {
	count := 0
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			handleError(c, h.logger, http.StatusBadRequest, "Invalid count", errors.Wrapf(errors.ErrInvalidRequest, "count %q", raw))
			return
		}
		count = n
	}

	var types []progress.EventType
	for _, param := range c.QueryArray("type") {
		for _, name := range strings.Split(param, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			t := progress.EventType(name)
			if !t.Valid() {
				handleError(c, h.logger, http.StatusBadRequest, "Invalid event type", errors.NewCoded(errors.CodeBusUnknownEvent, "unknown event type %q", name))
				return
			}
			types = append(types, t)
		}
	}

	events := h.bus.GetHistory(count, types...)
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
