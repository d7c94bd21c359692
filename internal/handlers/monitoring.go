package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/hub"
	"github.com/RohitKrishnan4943/ProctorVision/internal/models"
	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
	"github.com/RohitKrishnan4943/ProctorVision/internal/signals"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// signalMessage is the body of the ingest endpoints and of every inbound
// WebSocket message. Any combination of parts may be present.
type signalMessage struct {
	Frame        string                `json:"frame"`
	Audio        string                `json:"audio"`
	Reading      *signals.FrameReading `json:"reading"`
	AudioReading *signals.AudioReading `json:"audio_reading"`
	IsFocused    *bool                 `json:"is_focused"`
	Duration     int64                 `json:"duration"`
	Timestamp    *time.Time            `json:"timestamp"`
}

func (m *signalMessage) empty() bool {
	return m.Frame == "" && m.Audio == "" && m.Reading == nil && m.AudioReading == nil && m.IsFocused == nil
}

// maxClockSkew bounds how far in the past a client timestamp may lie.
const maxClockSkew = 10 * time.Second

type MonitoringHandler struct {
	log      *zap.Logger
	engine   *proctor.Engine
	analyzer *signals.Analyzer
	subs     SubmissionReader
	hub      *hub.Hub
	upgrader websocket.Upgrader
	now      func() time.Time
}

func NewMonitoringHandler(log *zap.Logger, engine *proctor.Engine, analyzer *signals.Analyzer, subs SubmissionReader, h *hub.Hub, allowedOrigins []string) *MonitoringHandler {
	mh := &MonitoringHandler{
		log:      log,
		engine:   engine,
		analyzer: analyzer,
		subs:     subs,
		hub:      h,
		now:      time.Now,
	}
	mh.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return mh
}

// originChecker accepts the configured origins. With none configured the
// upgrader's same-origin default applies.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Frame handles POST /api/monitoring/:submissionID/frame.
func (h *MonitoringHandler) Frame(c *gin.Context) {
	h.ingestHTTP(c, func(m *signalMessage) bool { return m.Frame != "" || m.Reading != nil })
}

// Audio handles POST /api/monitoring/:submissionID/audio.
func (h *MonitoringHandler) Audio(c *gin.Context) {
	h.ingestHTTP(c, func(m *signalMessage) bool { return m.Audio != "" || m.AudioReading != nil })
}

// TabSwitch handles POST /api/monitoring/:submissionID/tab-switch.
func (h *MonitoringHandler) TabSwitch(c *gin.Context) {
	h.ingestHTTP(c, func(m *signalMessage) bool { return m.IsFocused != nil })
}

func (h *MonitoringHandler) ingestHTTP(c *gin.Context, accept func(*signalMessage) bool) {
	sub, ok := ownedSubmission(c, h.subs, h.log)
	if !ok {
		return
	}

	var msg signalMessage
	if err := c.ShouldBindJSON(&msg); err != nil || !accept(&msg) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid monitoring data"})
		return
	}
	// Signals still in flight when the attempt ended are accepted and
	// dropped; there is no need to run the detectors for them.
	if sub.Status == models.StatusCompleted {
		c.JSON(http.StatusOK, completedResponse(sub.CheatingCount))
		return
	}

	res, err := h.process(c.Request.Context(), attemptOf(sub), &msg)
	if err != nil {
		if errors.Is(err, proctor.ErrSubmissionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process monitoring data"})
		return
	}
	if res.Escalation.Discarded {
		c.JSON(http.StatusOK, completedResponse(res.Escalation.Count))
		return
	}

	h.hub.Publish(sub.ID, res, false)
	c.JSON(http.StatusOK, ingestResponse(res))
}

// ingestResponse reports one ingest call. completed is true once the
// attempt is over, either by this call's auto-submit or earlier.
func ingestResponse(res proctor.IngestResult) gin.H {
	violations := res.Violations
	if violations == nil {
		violations = []proctor.Violation{}
	}
	return gin.H{
		"violations":     violations,
		"total_warnings": res.Escalation.Count,
		"auto_submitted": res.Escalation.IsAutoSubmit(),
		"reason":         res.Escalation.Reason,
		"completed":      res.Escalation.IsAutoSubmit() || res.Escalation.Discarded,
	}
}

func completedResponse(count int) gin.H {
	return ingestResponse(proctor.IngestResult{
		Escalation: proctor.EscalationResult{Action: proctor.ActionContinue, Count: count, Discarded: true},
	})
}

// process turns one message into measurements and ingests them. Detector
// calls happen here, before the engine takes the session lock.
func (h *MonitoringHandler) process(ctx context.Context, a proctor.Attempt, msg *signalMessage) (proctor.IngestResult, error) {
	at := h.signalTime(msg.Timestamp)

	var ms []proctor.Measurement
	if msg.Frame != "" {
		ms = append(ms, h.analyze(ctx, a, proctor.ChannelFace, msg.Frame, at, h.analyzer.Frame)...)
	}
	if msg.Reading != nil {
		ms = append(ms, msg.Reading.Measurements(at)...)
	}
	if msg.Audio != "" {
		ms = append(ms, h.analyze(ctx, a, proctor.ChannelAudio, msg.Audio, at, h.analyzer.Audio)...)
	}
	if msg.AudioReading != nil {
		ms = append(ms, msg.AudioReading.Measurement(at))
	}
	if msg.IsFocused != nil {
		ms = append(ms, proctor.FocusMeasurement{IsFocused: *msg.IsFocused, At: at})
		if !*msg.IsFocused {
			h.log.Info("Focus lost",
				zap.String("session", a.Key.String()),
				zap.Int64("durationMs", msg.Duration),
			)
		}
	}

	res, err := h.engine.Ingest(ctx, a, ms...)
	if err != nil {
		h.log.Error("Failed to ingest monitoring data",
			zap.Uint("submissionID", a.SubmissionID),
			zap.String("session", a.Key.String()),
			zap.Error(err),
		)
		return proctor.IngestResult{}, err
	}
	return res, nil
}

// signalTime picks the measurement time. Cooldowns are measured against it,
// so a client stamp is only trusted when it is not in the future and no
// older than maxClockSkew; otherwise the server clock is used.
func (h *MonitoringHandler) signalTime(client *time.Time) time.Time {
	now := h.now()
	if client == nil || client.IsZero() {
		return now
	}
	if client.After(now) || now.Sub(*client) > maxClockSkew {
		return now
	}
	return *client
}

type analyzeFunc func(ctx context.Context, payload []byte, at time.Time) ([]proctor.Measurement, error)

// analyze decodes and analyzes a raw payload. An undecodable payload yields
// no measurements for its channel.
func (h *MonitoringHandler) analyze(ctx context.Context, a proctor.Attempt, ch proctor.Channel, encoded string, at time.Time, fn analyzeFunc) []proctor.Measurement {
	payload, err := signals.DecodePayload(encoded)
	if err == nil {
		ms, analyzeErr := fn(ctx, payload, at)
		if analyzeErr == nil {
			return ms
		}
		err = analyzeErr
	}
	level := h.log.Warn
	if !errors.Is(err, signals.ErrInvalidMeasurement) {
		level = h.log.Error
	}
	level("Failed to analyze payload",
		zap.String("session", a.Key.String()),
		zap.String("channel", string(ch)),
		zap.Error(err),
	)
	return nil
}

// Stream handles GET /ws/monitoring/:submissionID.
func (h *MonitoringHandler) Stream(c *gin.Context) {
	sub, ok := ownedSubmission(c, h.subs, h.log)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.log.Warn("WebSocket upgrade failed", zap.Uint("submissionID", sub.ID), zap.Error(err))
		return
	}
	if sub.Status == models.StatusCompleted {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "submission completed")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		ws.Close()
		return
	}

	a := attemptOf(sub)
	conn := h.hub.Register(ws, sub.ID, a.Key)
	ctx := c.Request.Context()
	conn.ReadLoop(func(data []byte) {
		h.handleMessage(ctx, conn, a, data)
	})
}

func (h *MonitoringHandler) handleMessage(ctx context.Context, conn *hub.Conn, a proctor.Attempt, data []byte) {
	var msg signalMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.empty() {
		conn.Send(hub.ErrorMessage{Type: hub.TypeError, Message: "Invalid monitoring data"})
		return
	}

	res, err := h.process(ctx, a, &msg)
	if err != nil {
		conn.Send(hub.ErrorMessage{Type: hub.TypeError, Message: "Failed to process monitoring data"})
		return
	}
	if res.Escalation.Discarded {
		conn.Close(websocket.CloseNormalClosure, "submission completed")
		return
	}
	h.hub.Publish(a.SubmissionID, res, true)
}

// Status handles GET /api/monitoring/status.
func (h *MonitoringHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"detectors":        h.analyzer.Status(),
		"active_sessions":  h.engine.Registry().Len(),
		"live_connections": h.hub.Len(),
	})
}
