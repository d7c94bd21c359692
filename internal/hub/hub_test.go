package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type gaugeRecorder struct {
	mu   sync.Mutex
	last int
}

func (g *gaugeRecorder) LiveConnections(n int) {
	g.mu.Lock()
	g.last = n
	g.mu.Unlock()
}

func (g *gaugeRecorder) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

var key = proctor.SessionKey{ExamID: 1, StudentID: 2}

// serve registers every upgraded socket for submission 1 and hands inbound
// messages to onMessage.
func serve(t *testing.T, h *Hub, onMessage func(*Conn, []byte)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := h.Register(ws, 1, key)
		c.ReadLoop(func(data []byte) { onMessage(c, data) })
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readType(t *testing.T, ws *websocket.Conn) (string, []byte) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return envelope.Type, data
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishWarningAndFeedback(t *testing.T) {
	gauge := &gaugeRecorder{}
	h := New(zap.NewNop(), gauge)
	url := serve(t, h, func(c *Conn, data []byte) {})
	ws := dial(t, url)
	waitFor(t, func() bool { return h.Len() == 1 && gauge.value() == 1 })

	v := proctor.NewViolation(proctor.TabSwitch, proctor.SeverityMedium, 1, "Tab switch detected", time.Now())
	h.Publish(1, proctor.IngestResult{Violations: []proctor.Violation{v}, Escalation: proctor.Continue(1)}, true)

	typ, data := readType(t, ws)
	if typ != TypeCheatingWarning {
		t.Fatalf("expected cheating_warning first, got %s", typ)
	}
	var warning CheatingWarning
	if err := json.Unmarshal(data, &warning); err != nil {
		t.Fatal(err)
	}
	if warning.TotalWarnings != 1 || len(warning.Violations) != 1 || warning.Violations[0].Type != proctor.TabSwitch {
		t.Fatalf("unexpected warning %+v", warning)
	}
	if typ, _ := readType(t, ws); typ != TypeMonitoringFeedback {
		t.Fatalf("expected monitoring_feedback, got %s", typ)
	}
}

func TestPublishAutoSubmitClosesConnection(t *testing.T) {
	gauge := &gaugeRecorder{}
	h := New(zap.NewNop(), gauge)
	url := serve(t, h, func(c *Conn, data []byte) {})
	ws := dial(t, url)
	waitFor(t, func() bool { return h.Len() == 1 })

	v := proctor.NewViolation(proctor.FaceNotVisible, proctor.SeverityHigh, 1, "No face visible", time.Now())
	h.Publish(1, proctor.IngestResult{
		Violations: []proctor.Violation{v},
		Escalation: proctor.AutoSubmit(3, proctor.DefaultAutoSubmitReason),
	}, false)

	if typ, _ := readType(t, ws); typ != TypeCheatingWarning {
		t.Fatalf("expected cheating_warning, got %s", typ)
	}
	typ, data := readType(t, ws)
	if typ != TypeAutoSubmit {
		t.Fatalf("expected auto_submit, got %s", typ)
	}
	var msg AutoSubmit
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.ViolationCount != 3 || msg.Reason != proctor.DefaultAutoSubmitReason {
		t.Fatalf("unexpected auto_submit %+v", msg)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != CloseAutoSubmitted {
		t.Fatalf("expected close %d, got %v", CloseAutoSubmitted, err)
	}
	waitFor(t, func() bool { return h.Len() == 0 && gauge.value() == 0 })
}

func TestInboundMessagesReachHandler(t *testing.T) {
	h := New(zap.NewNop(), nil)
	url := serve(t, h, func(c *Conn, data []byte) {
		c.Send(ErrorMessage{Type: TypeError, Message: "echo:" + string(data)})
	})
	ws := dial(t, url)

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`ping`)); err != nil {
		t.Fatal(err)
	}
	typ, data := readType(t, ws)
	if typ != TypeError || !strings.Contains(string(data), "echo:ping") {
		t.Fatalf("unexpected reply %s", data)
	}
}

func TestReconnectReplacesConnection(t *testing.T) {
	h := New(zap.NewNop(), nil)
	url := serve(t, h, func(c *Conn, data []byte) {})
	first := dial(t, url)
	waitFor(t, func() bool { return h.Len() == 1 })
	firstConn := h.get(1)

	dial(t, url)
	waitFor(t, func() bool { c := h.get(1); return c != nil && c != firstConn })

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("expected the replaced connection to be closed")
	}
	if h.Len() != 1 {
		t.Fatalf("expected one live connection, got %d", h.Len())
	}
}

func TestSendWithoutConnection(t *testing.T) {
	h := New(zap.NewNop(), nil)
	if h.Send(42, ErrorMessage{Type: TypeError}) {
		t.Fatal("send to a missing connection must report false")
	}
	h.Publish(42, proctor.IngestResult{Escalation: proctor.AutoSubmit(3, "x")}, true)
}

func TestAutoSubmitSurvivesFullBuffer(t *testing.T) {
	h := New(zap.NewNop(), nil)
	registered := make(chan *Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// No writer yet, so the queue fills up.
		c := h.register(ws, 1, key)
		registered <- c
		<-c.Done()
	}))
	t.Cleanup(srv.Close)
	ws := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	c := <-registered

	for i := 0; i < sendBuffer; i++ {
		if !c.Send(ErrorMessage{Type: TypeError, Message: "filler"}) {
			t.Fatalf("send %d should fit in the buffer", i)
		}
	}
	if c.Send(ErrorMessage{Type: TypeError}) {
		t.Fatal("expected the buffer to be full")
	}

	h.Publish(1, proctor.IngestResult{Escalation: proctor.AutoSubmit(3, proctor.DefaultAutoSubmitReason)}, false)
	go c.writePump()

	for i := 0; i < sendBuffer; i++ {
		if typ, _ := readType(t, ws); typ != TypeError {
			t.Fatalf("expected queued filler, got %s", typ)
		}
	}
	if typ, _ := readType(t, ws); typ != TypeAutoSubmit {
		t.Fatalf("expected auto_submit after the queue, got %s", typ)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, CloseAutoSubmitted) {
		t.Fatalf("expected close %d, got %v", CloseAutoSubmitted, err)
	}
}
