package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20 // base64 frames are large
	sendBuffer     = 16
)

// Outbound message types.
const (
	TypeCheatingWarning    = "cheating_warning"
	TypeAutoSubmit         = "auto_submit"
	TypeMonitoringFeedback = "monitoring_feedback"
	TypeError              = "error"
)

// CloseAutoSubmitted is the close code sent after an auto_submit message.
const CloseAutoSubmitted = 4000

type CheatingWarning struct {
	Type          string              `json:"type"`
	Violations    []proctor.Violation `json:"violations"`
	TotalWarnings int                 `json:"total_warnings"`
	Timestamp     time.Time           `json:"timestamp"`
}

type AutoSubmit struct {
	Type           string    `json:"type"`
	Reason         string    `json:"reason"`
	ViolationCount int       `json:"violation_count"`
	Timestamp      time.Time `json:"timestamp"`
}

type MonitoringFeedback struct {
	Type               string    `json:"type"`
	ViolationsDetected int       `json:"violations_detected"`
	TotalWarnings      int       `json:"total_warnings"`
	Timestamp          time.Time `json:"timestamp"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Gauge receives the number of open connections.
type Gauge interface {
	LiveConnections(n int)
}

// Hub tracks the live monitoring connection of each submission. A student
// has at most one connection per submission; a reconnect replaces the old
// one.
type Hub struct {
	mu    sync.Mutex
	conns map[uint]*Conn
	log   *zap.Logger
	gauge Gauge
	now   func() time.Time
}

func New(log *zap.Logger, gauge Gauge) *Hub {
	return &Hub{
		conns: make(map[uint]*Conn),
		log:   log,
		gauge: gauge,
		now:   time.Now,
	}
}

// Conn is one student's WebSocket.
type Conn struct {
	ID           uuid.UUID
	SubmissionID uint
	Key          proctor.SessionKey

	hub       *Hub
	ws        *websocket.Conn
	send      chan []byte
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string
	// final is written after the queue is flushed and before the close
	// frame, so it survives a full send buffer.
	final []byte
}

// Register adopts ws as the live connection for submissionID and starts its
// writer.
func (h *Hub) Register(ws *websocket.Conn, submissionID uint, key proctor.SessionKey) *Conn {
	c := h.register(ws, submissionID, key)
	go c.writePump()
	return c
}

func (h *Hub) register(ws *websocket.Conn, submissionID uint, key proctor.SessionKey) *Conn {
	c := &Conn{
		ID:           uuid.New(),
		SubmissionID: submissionID,
		Key:          key,
		hub:          h,
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		closeCode:    websocket.CloseNormalClosure,
	}

	h.mu.Lock()
	old := h.conns[submissionID]
	h.conns[submissionID] = c
	n := len(h.conns)
	h.mu.Unlock()

	if old != nil {
		old.Close(websocket.ClosePolicyViolation, "replaced by a new connection")
	}
	h.report(n)
	h.log.Info("Monitoring connection opened",
		zap.String("connID", c.ID.String()),
		zap.Uint("submissionID", submissionID),
		zap.String("session", key.String()),
	)
	return c
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if h.conns[c.SubmissionID] == c {
		delete(h.conns, c.SubmissionID)
	}
	n := len(h.conns)
	h.mu.Unlock()
	h.report(n)
}

func (h *Hub) report(n int) {
	if h.gauge != nil {
		h.gauge.LiveConnections(n)
	}
}

func (h *Hub) get(submissionID uint) *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[submissionID]
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Send queues msg for the submission's connection. It reports false when no
// connection is open or the client is too slow to keep up.
func (h *Hub) Send(submissionID uint, msg any) bool {
	c := h.get(submissionID)
	if c == nil {
		return false
	}
	return c.Send(msg)
}

// Publish pushes the outcome of one ingest call: a cheating_warning when
// violations were recorded, a monitoring_feedback when requested, and on
// AutoSubmit an auto_submit message followed by closing the connection.
func (h *Hub) Publish(submissionID uint, res proctor.IngestResult, feedback bool) {
	c := h.get(submissionID)
	if c == nil {
		return
	}
	now := h.now()
	if len(res.Violations) > 0 {
		c.Send(CheatingWarning{
			Type:          TypeCheatingWarning,
			Violations:    res.Violations,
			TotalWarnings: res.Escalation.Count,
			Timestamp:     now,
		})
	}
	if feedback {
		c.Send(MonitoringFeedback{
			Type:               TypeMonitoringFeedback,
			ViolationsDetected: len(res.Violations),
			TotalWarnings:      res.Escalation.Count,
			Timestamp:          now,
		})
	}
	if res.Escalation.IsAutoSubmit() {
		c.CloseWith(AutoSubmit{
			Type:           TypeAutoSubmit,
			Reason:         res.Escalation.Reason,
			ViolationCount: res.Escalation.Count,
			Timestamp:      now,
		}, CloseAutoSubmitted, "auto_submitted")
	}
}

// CloseSubmission closes the submission's connection, if any, after its
// queued messages are flushed.
func (h *Hub) CloseSubmission(submissionID uint, code int, text string) {
	if c := h.get(submissionID); c != nil {
		c.Close(code, text)
	}
}

// CloseAll closes every connection; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

// Send queues msg without blocking.
func (c *Conn) Send(msg any) bool {
	b, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Error("Failed to encode monitoring message", zap.Error(err))
		return false
	}
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		c.hub.log.Warn("Dropping message for slow client",
			zap.String("connID", c.ID.String()),
			zap.Uint("submissionID", c.SubmissionID),
		)
		return false
	}
}

// Close flushes queued messages, sends a close frame and releases the
// connection. Only the first call has an effect.
func (c *Conn) Close(code int, text string) {
	c.closeWith(nil, code, text)
}

// CloseWith is Close with a last message delivered after the queued ones
// regardless of how full the send buffer is.
func (c *Conn) CloseWith(msg any, code int, text string) {
	b, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Error("Failed to encode monitoring message", zap.Error(err))
		b = nil
	}
	c.closeWith(b, code, text)
}

func (c *Conn) closeWith(final []byte, code int, text string) {
	c.closeOnce.Do(func() {
		c.final = final
		c.closeCode = code
		c.closeText = text
		close(c.quit)
	})
}

// Done is closed once the connection is fully shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// ReadLoop reads inbound messages until the client disconnects or the
// connection is closed, calling fn for each text message. Ping/pong keeps
// idle connections alive.
func (c *Conn) ReadLoop(fn func(data []byte)) {
	defer c.Close(websocket.CloseNormalClosure, "")
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.log.Debug("Monitoring connection read failed",
					zap.String("connID", c.ID.String()),
					zap.Error(err),
				)
			}
			return
		}
		select {
		case <-c.quit:
			return
		default:
		}
		fn(data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.hub.unregister(c)
		close(c.done)
		c.hub.log.Info("Monitoring connection closed",
			zap.String("connID", c.ID.String()),
			zap.Uint("submissionID", c.SubmissionID),
		)
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.write(websocket.TextMessage, msg) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.quit:
			// Flush what was queued before the close, then say goodbye.
			for {
				select {
				case msg := <-c.send:
					if !c.write(websocket.TextMessage, msg) {
						return
					}
				default:
					if c.final != nil && !c.write(websocket.TextMessage, c.final) {
						return
					}
					c.write(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText))
					return
				}
			}
		}
	}
}

func (c *Conn) write(messageType int, data []byte) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		c.hub.log.Debug("Monitoring connection write failed",
			zap.String("connID", c.ID.String()),
			zap.Error(err),
		)
		return false
	}
	return true
}
