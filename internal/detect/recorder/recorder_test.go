package recorder

import (
	"testing"
	"time"

	"github.com/shortontech/gotrack/internal/detect/session"
)

func TestStoreCapEviction(t *testing.T) {
	r := New(session.NewMemoryStore())
	r.StartMonitoring("ctx1", time.Now())
	for i := 0; i < storeCap+50; i++ {
		r.IngestMouseMove(int64(i), float64(i), float64(i))
	}
	st := r.RawState()
	if len(st.MouseMoves) != storeCap {
		t.Fatalf("len(MouseMoves) = %d, want %d", len(st.MouseMoves), storeCap)
	}
}

func TestKeystrokeRedaction(t *testing.T) {
	r := New(session.NewMemoryStore())
	r.StartMonitoring("ctx1", time.Now())
	r.IngestKeyDown(1, "a")
	r.IngestKeyDown(2, "Enter")
	st := r.RawState()
	if st.Keystrokes[0].Key != "char" {
		t.Errorf("single char key = %q, want %q", st.Keystrokes[0].Key, "char")
	}
	if st.Keystrokes[1].Key != "Enter" {
		t.Errorf("named key = %q, want Enter", st.Keystrokes[1].Key)
	}
}

func TestClickOffsetFromCenterNonNegative(t *testing.T) {
	r := New(session.NewMemoryStore())
	r.StartMonitoring("ctx1", time.Now())
	r.IngestClick(1, 10, 10, TargetDescriptor{Tag: "button", CX: 50, CY: 50})
	st := r.RawState()
	if st.Clicks[0].OffsetFromCenter < 0 {
		t.Error("offsetFromCenter must be >= 0")
	}
}

func TestClickAnnotatedAtMostOnce(t *testing.T) {
	r := New(session.NewMemoryStore())
	r.StartMonitoring("ctx1", time.Now())
	r.IngestClick(100, 0, 0, TargetDescriptor{})
	r.IngestMouseDown(100)
	r.IngestMouseUp(150)
	st := r.RawState()
	if st.Clicks[0].DurationMs != 50 {
		t.Errorf("DurationMs = %v, want 50", st.Clicks[0].DurationMs)
	}

	// a second mouseup must not retarget the already-annotated click
	r.IngestMouseUp(500)
	st2 := r.RawState()
	if st2.Clicks[0].DurationMs != 50 {
		t.Errorf("click re-annotated: DurationMs = %v, want 50", st2.Clicks[0].DurationMs)
	}
}

func TestPointerMoveThrottleInclusiveOfEquality(t *testing.T) {
	r := New(session.NewMemoryStore())
	r.StartMonitoring("ctx1", time.Now())
	r.IngestPointerEvent(PointerMove, 0, 0, 0, "mouse")
	r.IngestPointerEvent(PointerMove, 1, 1, 49, "mouse")
	r.IngestPointerEvent(PointerMove, 2, 2, 50, "mouse")
	st := r.RawState()
	if len(st.PointerEvents) != 2 {
		t.Fatalf("len(PointerEvents) = %d, want 2 (49ms dropped, 50ms kept)", len(st.PointerEvents))
	}
	if st.PointerEvents[1].TS != 50 {
		t.Errorf("second recorded event ts = %d, want 50", st.PointerEvents[1].TS)
	}
}

func TestStartMonitoringIdempotent(t *testing.T) {
	r := New(session.NewMemoryStore())
	now := time.Now()
	r.StartMonitoring("ctx1", now)
	r.IngestMouseMove(1, 1, 1)
	r.StartMonitoring("ctx1", now.Add(time.Second)) // second call is a no-op
	st := r.RawState()
	if len(st.MouseMoves) != 1 {
		t.Fatalf("second StartMonitoring call mutated state: len = %d", len(st.MouseMoves))
	}
}

func TestCrossPageRestoreIncrementsPageLoadCountAndPreservesStartTime(t *testing.T) {
	store := session.NewMemoryStore()
	now := time.Now()

	page1 := New(store)
	page1.StartMonitoring("ctx1", now)
	page1.IngestClick(1, 0, 0, TargetDescriptor{})
	page1.IngestClick(2, 0, 0, TargetDescriptor{})
	page1.IngestClick(3, 0, 0, TargetDescriptor{})
	page1.IngestMouseMove(1, 1, 1)
	page1.IngestMouseMove(2, 2, 2)
	page1.SaveSnapshot(now, true)

	page2 := New(store)
	page2.StartMonitoring("ctx1", now.Add(time.Minute))
	page2.IngestClick(4, 0, 0, TargetDescriptor{})
	page2.IngestClick(5, 0, 0, TargetDescriptor{})

	st := page2.RawState()
	if st.PageLoadCount != 2 {
		t.Errorf("PageLoadCount = %d, want 2", st.PageLoadCount)
	}
	if st.StartTime != now.UnixMilli() {
		t.Errorf("StartTime = %d, want preserved %d", st.StartTime, now.UnixMilli())
	}
	if len(st.Clicks) != 5 {
		t.Errorf("len(Clicks) after restore = %d, want 5 (3 restored + 2 new)", len(st.Clicks))
	}
	if len(st.MouseMoves) != 2 {
		t.Errorf("MouseMoves after restore = %d, want 2 (restored from page 1's snapshot)", len(st.MouseMoves))
	}
}

func TestHoversNeverPersisted(t *testing.T) {
	store := session.NewMemoryStore()
	now := time.Now()

	page1 := New(store)
	page1.StartMonitoring("ctx1", now)
	page1.IngestHover("button#a.", 1, HoverOver)
	page1.SaveSnapshot(now, true)

	page2 := New(store)
	page2.StartMonitoring("ctx1", now)
	st := page2.RawState()
	if len(st.Hovers) != 0 {
		t.Errorf("hovers restored across pages: got %d, want 0", len(st.Hovers))
	}
}

func TestSnapshotRateLimited(t *testing.T) {
	store := session.NewMemoryStore()
	now := time.Now()
	r := New(store)
	r.StartMonitoring("ctx1", now)
	r.IngestClick(1, 0, 0, TargetDescriptor{})
	r.SaveSnapshot(now, false)
	firstRaw, _ := store.Read(session.EventsKey("ctx1"))

	r.IngestClick(2, 0, 0, TargetDescriptor{})
	r.SaveSnapshot(now.Add(time.Second), false) // within 2s window, should not write
	secondRaw, _ := store.Read(session.EventsKey("ctx1"))
	if firstRaw != secondRaw {
		t.Error("snapshot written again inside the 2s rate limit window")
	}

	r.SaveSnapshot(now.Add(3*time.Second), false)
	thirdRaw, _ := store.Read(session.EventsKey("ctx1"))
	if thirdRaw == secondRaw {
		t.Error("snapshot not written after the 2s rate limit window elapsed")
	}
}

func TestMouseMoveVelocityDerivation(t *testing.T) {
	r := New(session.NewMemoryStore())
	r.StartMonitoring("ctx1", time.Now())
	r.IngestMouseMove(0, 0, 0)
	r.IngestMouseMove(10, 30, 40) // distance 50 over 10ms => velocity 5
	st := r.RawState()
	if st.MouseMoves[1].Velocity != 5 {
		t.Errorf("velocity = %v, want 5", st.MouseMoves[1].Velocity)
	}
}
