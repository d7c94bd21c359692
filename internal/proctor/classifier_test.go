package proctor

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// step observes m, classifies it, and marks emissions the way the engine
// does after a successful record.
func step(c *Classifier, h *StudentHistory, m Measurement) []Violation {
	c.Observe(h, m)
	vs := c.Classify(h, m)
	for _, v := range vs {
		h.MarkTriggered(v.Type, v.Timestamp)
	}
	return vs
}

func countType(vs []Violation, typ ViolationType) int {
	n := 0
	for _, v := range vs {
		if v.Type == typ {
			n++
		}
	}
	return n
}

func TestFaceNotVisibleThenCooldown(t *testing.T) {
	c := NewClassifier(DefaultPolicy())
	h := NewStudentHistory(DefaultWindowCapacity)

	first := step(c, h, FaceMeasurement{Count: 0, At: t0})
	if len(first) != 1 {
		t.Fatalf("expected exactly one violation, got %+v", first)
	}
	v := first[0]
	if v.Type != FaceNotVisible || v.Severity != SeverityHigh {
		t.Fatalf("unexpected violation %+v", v)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", v.Confidence)
	}

	second := step(c, h, FaceMeasurement{Count: 0, At: t0.Add(time.Second)})
	if len(second) != 0 {
		t.Fatalf("expected cooldown to suppress, got %+v", second)
	}

	third := step(c, h, FaceMeasurement{Count: 0, At: t0.Add(31 * time.Second)})
	if countType(third, FaceNotVisible) != 1 {
		t.Fatalf("expected emission after cooldown, got %+v", third)
	}
}

func TestMultipleFacesUsesDetectorConfidence(t *testing.T) {
	c := NewClassifier(DefaultPolicy())
	h := NewStudentHistory(DefaultWindowCapacity)

	vs := step(c, h, FaceMeasurement{Count: 2, Confidence: 0.91, At: t0})
	if len(vs) != 1 || vs[0].Type != MultipleFaces {
		t.Fatalf("expected multiple_faces, got %+v", vs)
	}
	if vs[0].Confidence != 0.91 || vs[0].Severity != SeverityHigh {
		t.Fatalf("unexpected violation %+v", vs[0])
	}
	if vs := step(c, h, FaceMeasurement{Count: 1, Confidence: 0.99, At: t0.Add(time.Minute)}); len(vs) != 0 {
		t.Fatalf("single face must not violate, got %+v", vs)
	}
}

func TestLookingAwayRequiresSustainedYaw(t *testing.T) {
	c := NewClassifier(DefaultPolicy())
	h := NewStudentHistory(DefaultWindowCapacity)

	// A single bad frame surrounded by good ones never fires.
	yaws := []float64{5, 50, 3, 60, 61}
	for i, y := range yaws {
		if vs := step(c, h, HeadPoseMeasurement{Yaw: ptr(y), At: t0.Add(time.Duration(i) * time.Second)}); len(vs) != 0 {
			t.Fatalf("frame %d: expected no violation, got %+v", i, vs)
		}
	}
	vs := step(c, h, HeadPoseMeasurement{Yaw: ptr(-62.0), At: t0.Add(5 * time.Second)})
	if len(vs) != 1 || vs[0].Type != LookingAway || vs[0].Severity != SeverityMedium {
		t.Fatalf("expected looking_away after 3 consecutive frames, got %+v", vs)
	}
}

func TestLookingAwayCooldownSuppression(t *testing.T) {
	p := DefaultPolicy()
	c := NewClassifier(p)
	h := NewStudentHistory(DefaultWindowCapacity)

	emitted := 0
	// 40 frames, 1s apart, all within the 60s cooldown window.
	for i := 0; i < 40; i++ {
		vs := step(c, h, HeadPoseMeasurement{Yaw: ptr(70.0), At: t0.Add(time.Duration(i) * time.Second)})
		emitted += countType(vs, LookingAway)
	}
	if emitted != 1 {
		t.Fatalf("expected one emission per cooldown period, got %d", emitted)
	}

	vs := step(c, h, HeadPoseMeasurement{Yaw: ptr(70.0), At: t0.Add(p.Head.Cooldown + 2*time.Second)})
	if countType(vs, LookingAway) != 1 {
		t.Fatalf("expected re-emission after cooldown, got %+v", vs)
	}
}

func TestLookingAwayGazeRatioFallback(t *testing.T) {
	c := NewClassifier(DefaultPolicy())
	h := NewStudentHistory(DefaultWindowCapacity)

	// 7 of the last 10 samples deviated: below 80%.
	pattern := []bool{false, true, true, false, true, true, true, false, true, true}
	for i, dev := range pattern {
		if vs := step(c, h, HeadPoseMeasurement{GazeDeviated: ptr(dev), At: t0.Add(time.Duration(i) * time.Second)}); len(vs) != 0 {
			t.Fatalf("sample %d: expected nothing at ratio below threshold, got %+v", i, vs)
		}
	}
	vs := step(c, h, HeadPoseMeasurement{GazeDeviated: ptr(true), At: t0.Add(10 * time.Second)})
	if len(vs) != 1 || vs[0].Type != LookingAway {
		t.Fatalf("expected looking_away at 80%%, got %+v", vs)
	}
	if vs[0].Severity != SeverityLow {
		t.Fatalf("expected low severity from gaze fallback, got %s", vs[0].Severity)
	}
}

func TestHeadPoseWithoutSignalsIsUnavailable(t *testing.T) {
	c := NewClassifier(DefaultPolicy())
	h := NewStudentHistory(DefaultWindowCapacity)
	if w := c.Observe(h, HeadPoseMeasurement{At: t0}); w != nil {
		t.Fatalf("expected nil window, got %+v", w)
	}
	if vs := c.Classify(h, HeadPoseMeasurement{At: t0}); len(vs) != 0 {
		t.Fatalf("expected no violations, got %+v", vs)
	}
}

func TestProhibitedObjectThresholds(t *testing.T) {
	p := DefaultPolicy()
	p.Object.Cooldown = 0
	c := NewClassifier(p)

	cases := []struct {
		name string
		m    ObjectMeasurement
		want int
	}{
		{"phone in hand", ObjectMeasurement{Class: "cell phone", Confidence: 0.8, RelativeArea: 0.05}, 1},
		{"low confidence", ObjectMeasurement{Class: "cell phone", Confidence: 0.6, RelativeArea: 0.05}, 0},
		{"large background object", ObjectMeasurement{Class: "laptop", Confidence: 0.95, RelativeArea: 0.4}, 0},
		{"case insensitive class", ObjectMeasurement{Class: "Book", Confidence: 0.9, RelativeArea: 0.1}, 1},
		{"allowed class", ObjectMeasurement{Class: "cup", Confidence: 0.99, RelativeArea: 0.02}, 0},
		{"empty class", ObjectMeasurement{Confidence: 0.99, RelativeArea: 0.02}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewStudentHistory(DefaultWindowCapacity)
			tc.m.At = t0
			vs := step(c, h, tc.m)
			if countType(vs, ProhibitedObject) != tc.want {
				t.Fatalf("expected %d prohibited_object, got %+v", tc.want, vs)
			}
		})
	}
}

func TestObjectChannelUnavailableLeavesOthersAlone(t *testing.T) {
	c := NewClassifier(DefaultPolicy())
	withObjects := NewStudentHistory(DefaultWindowCapacity)
	withoutObjects := NewStudentHistory(DefaultWindowCapacity)

	for i := 0; i < 30; i++ {
		at := t0.Add(time.Duration(i) * 3 * time.Second)
		frame := []Measurement{
			FaceMeasurement{Count: i % 7, Confidence: 0.9, At: at},
			HeadPoseMeasurement{Yaw: ptr(float64(i * 3)), At: at},
		}
		var a, b []Violation
		for _, m := range frame {
			a = append(a, step(c, withObjects, m)...)
			b = append(b, step(c, withoutObjects, m)...)
		}
		a = append(a, step(c, withObjects, ObjectMeasurement{Class: "cup", Confidence: 0.9, RelativeArea: 0.1, At: at})...)

		if countType(b, ProhibitedObject) != 0 {
			t.Fatal("prohibited_object emitted without an object channel")
		}
		if len(a) != len(b) {
			t.Fatalf("step %d: other types changed with object channel present: %+v vs %+v", i, a, b)
		}
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("step %d: violation %d differs: %+v vs %+v", i, j, a[j], b[j])
			}
		}
	}
}

func TestTalkingRequiresSustainedSpeech(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	t.Run("isolated speech chunk", func(t *testing.T) {
		h := NewStudentHistory(DefaultWindowCapacity)
		for i := 0; i < 20; i++ {
			vs := step(c, h, AudioMeasurement{IsSpeech: i == 10, SpeechRatio: 0.05, At: t0.Add(time.Duration(i) * 3 * time.Second)})
			if len(vs) != 0 {
				t.Fatalf("chunk %d: isolated speech must not trigger, got %+v", i, vs)
			}
		}
	})

	t.Run("single chunk on fresh session", func(t *testing.T) {
		h := NewStudentHistory(DefaultWindowCapacity)
		if vs := step(c, h, AudioMeasurement{IsSpeech: true, SpeechRatio: 1, At: t0}); len(vs) != 0 {
			t.Fatalf("a lone speech flag must not trigger, got %+v", vs)
		}
	})

	t.Run("75 percent of last 20", func(t *testing.T) {
		h := NewStudentHistory(DefaultWindowCapacity)
		total := 0
		for i := 0; i < 20; i++ {
			speech := i >= 5 // the last 15 of 20 chunks
			vs := step(c, h, AudioMeasurement{IsSpeech: speech, SpeechRatio: 0.5, At: t0.Add(time.Duration(i) * 2 * time.Second)})
			total += countType(vs, TalkingDetected)
			if i < 19 && total > 0 {
				t.Fatalf("chunk %d: fired before reaching 75%%", i)
			}
		}
		if total != 1 {
			t.Fatalf("expected talking_detected once, got %d", total)
		}
	})
}

func TestTabSwitchCooldownPolicy(t *testing.T) {
	t.Run("no cooldown by default", func(t *testing.T) {
		c := NewClassifier(DefaultPolicy())
		h := NewStudentHistory(DefaultWindowCapacity)
		for i := 0; i < 3; i++ {
			vs := step(c, h, FocusMeasurement{IsFocused: false, At: t0.Add(time.Duration(i) * time.Second)})
			if len(vs) != 1 || vs[0].Type != TabSwitch || vs[0].Confidence != 1.0 {
				t.Fatalf("event %d: expected one tab_switch with confidence 1.0, got %+v", i, vs)
			}
		}
		if vs := step(c, h, FocusMeasurement{IsFocused: true, At: t0.Add(5 * time.Second)}); len(vs) != 0 {
			t.Fatalf("regaining focus must not violate, got %+v", vs)
		}
	})

	t.Run("configured cooldown", func(t *testing.T) {
		p := DefaultPolicy()
		p.Focus.Cooldown = 10 * time.Second
		c := NewClassifier(p)
		h := NewStudentHistory(DefaultWindowCapacity)
		if vs := step(c, h, FocusMeasurement{At: t0}); len(vs) != 1 {
			t.Fatalf("expected first focus loss reported, got %+v", vs)
		}
		if vs := step(c, h, FocusMeasurement{At: t0.Add(5 * time.Second)}); len(vs) != 0 {
			t.Fatalf("expected suppression inside cooldown, got %+v", vs)
		}
		if vs := step(c, h, FocusMeasurement{At: t0.Add(11 * time.Second)}); len(vs) != 1 {
			t.Fatalf("expected emission after cooldown, got %+v", vs)
		}
	})
}

func TestDisabledTypeNeverEmits(t *testing.T) {
	p := DefaultPolicy()
	p.Face.Enabled = false
	c := NewClassifier(p)
	h := NewStudentHistory(DefaultWindowCapacity)
	if vs := step(c, h, FaceMeasurement{Count: 0, At: t0}); len(vs) != 0 {
		t.Fatalf("disabled face rule emitted %+v", vs)
	}
}

func TestClassifierIsDeterministic(t *testing.T) {
	run := func() []Violation {
		c := NewClassifier(DefaultPolicy())
		h := NewStudentHistory(DefaultWindowCapacity)
		var all []Violation
		for i := 0; i < 50; i++ {
			at := t0.Add(time.Duration(i) * 2 * time.Second)
			all = append(all, step(c, h, FaceMeasurement{Count: i % 3, Confidence: 0.8, At: at})...)
			all = append(all, step(c, h, AudioMeasurement{IsSpeech: i%4 != 0, SpeechRatio: 0.7, At: at})...)
			all = append(all, step(c, h, HeadPoseMeasurement{Yaw: ptr(float64(i%5) * 20), At: at})...)
		}
		return all
	}
	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("runs differ in length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("runs differ at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSetPolicyNormalizesZeroes(t *testing.T) {
	c := NewClassifier(Policy{})
	p := c.Policy()
	if p.AutoSubmitThreshold != 3 || p.Audio.Samples != 20 || p.Head.GazeSamples != 10 {
		t.Fatalf("expected defaults filled in, got %+v", p)
	}
	if p.AutoSubmitReason != DefaultAutoSubmitReason {
		t.Fatalf("unexpected reason %q", p.AutoSubmitReason)
	}
}

func TestSetPolicyClampsToWindowCapacity(t *testing.T) {
	p := DefaultPolicy()
	p.Audio.Samples = 60
	p.Head.GazeSamples = 45
	p.Head.ConsecutiveFrames = 50
	p.MultipleFaces.MaxAllowed = 0
	c := NewClassifier(p)

	got := c.Policy()
	if got.Audio.Samples != DefaultWindowCapacity || got.Head.GazeSamples != DefaultWindowCapacity || got.Head.ConsecutiveFrames != DefaultWindowCapacity {
		t.Fatalf("expected sample counts clamped to %d, got %+v", DefaultWindowCapacity, got)
	}
	if got.MultipleFaces.MaxAllowed != 1 {
		t.Fatalf("expected max_allowed reset to 1, got %d", got.MultipleFaces.MaxAllowed)
	}

	h := NewStudentHistory(DefaultWindowCapacity)
	if vs := step(c, h, FaceMeasurement{Count: 1, Confidence: 0.9, At: t0}); len(vs) != 0 {
		t.Fatalf("a single face must not be reported, got %+v", vs)
	}

	var talking int
	for i := 0; i < DefaultWindowCapacity; i++ {
		vs := step(c, h, AudioMeasurement{IsSpeech: true, SpeechRatio: 0.9, At: t0.Add(time.Duration(i) * time.Second)})
		talking += countType(vs, TalkingDetected)
	}
	if talking != 1 {
		t.Fatalf("a full window of speech must report talking once, got %d", talking)
	}
}
