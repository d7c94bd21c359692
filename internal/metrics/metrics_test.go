package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
)

func TestObserverFeedsCollectors(t *testing.T) {
	m := New()
	var _ proctor.Observer = m

	m.SignalReceived(proctor.ChannelFace)
	m.SignalReceived(proctor.ChannelFace)
	m.SignalUnavailable(proctor.ChannelObject)
	m.InvalidMeasurement(proctor.ChannelAudio)
	m.ViolationEmitted(proctor.NewViolation(proctor.TabSwitch, proctor.SeverityMedium, 1, "Tab switch detected", time.Now()))
	m.Escalated()
	m.PersistenceFailed()
	m.ActiveSessions(4)
	m.LiveConnections(2)
	m.IngestDuration(3 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`proctor_signals_total{channel="face"} 2`,
		`proctor_signal_unavailable_total{channel="object"} 1`,
		`proctor_invalid_measurements_total{channel="audio"} 1`,
		`proctor_violations_total{severity="medium",type="tab_switch"} 1`,
		`proctor_escalations_total 1`,
		`proctor_persistence_failures_total 1`,
		`proctor_active_sessions 4`,
		`proctor_live_connections 2`,
		`proctor_ingest_duration_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
