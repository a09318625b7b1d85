// Package recorder implements the Event Recorder: it normalizes raw
// telemetry into typed records, enforces per-store caps, and persists
// compressed snapshots across page loads through a session.Store.
package recorder

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/shortontech/gotrack/internal/detect/session"
)

const (
	storeCap        = 500
	snapshotCap     = 200
	snapshotMinGap  = 2 * time.Second
	pointerThrottle = 50 * time.Millisecond
)

type snapshot struct {
	StartTime     int64         `json:"startTime"`
	PageLoadCount int           `json:"pageLoadCount"`
	MouseMoves    []MouseMove   `json:"mouseMoves"`
	Clicks        []Click       `json:"clicks"`
	Keystrokes    []Keystroke   `json:"keystrokes"`
	Scrolls       []Scroll      `json:"scrolls"`
	FocusChanges  []FocusChange `json:"focusChanges"`
	PointerEvents []PointerEvent `json:"pointerEvents"`
}

// Recorder owns the append-only event stores for one detection session.
type Recorder struct {
	mu sync.Mutex

	store     session.Store
	contextID string
	started   bool

	startTime     int64
	pageLoadCount int
	version       int

	mouseMoves    []MouseMove
	clicks        []Click
	keystrokes    []Keystroke
	scrolls       []Scroll
	hovers        []Hover
	focusChanges  []FocusChange
	pointerEvents []PointerEvent

	lastMouseMoveTS   int64
	haveLastMouseMove bool
	lastScrollTS      int64
	haveLastScroll    bool
	lastPointerMoveTS int64
	havePointerMove   bool
	lastKeyTS         int64
	haveLastKey       bool

	lastSnapshotWrite time.Time
}

func New(store session.Store) *Recorder {
	return &Recorder{store: store}
}

// StartMonitoring is idempotent. It restores the tab-scoped snapshot keyed
// by contextID before any new events are accepted.
func (r *Recorder) StartMonitoring(contextID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.contextID = contextID
	r.startTime = now.UnixMilli()
	r.pageLoadCount = 1

	raw, ok := r.store.Read(session.EventsKey(contextID))
	if !ok || raw == "" {
		return
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return // StorageFailure-equivalent: swallowed
	}

	r.startTime = snap.StartTime
	r.pageLoadCount = snap.PageLoadCount + 1

	r.mouseMoves = trimHead(append(append([]MouseMove{}, snap.MouseMoves...), r.mouseMoves...), storeCap)
	r.clicks = trimHead(append(append([]Click{}, snap.Clicks...), r.clicks...), storeCap)
	r.keystrokes = trimHead(append(append([]Keystroke{}, snap.Keystrokes...), r.keystrokes...), storeCap)
	r.scrolls = trimHead(append(append([]Scroll{}, snap.Scrolls...), r.scrolls...), storeCap)
	r.focusChanges = trimHead(append(append([]FocusChange{}, snap.FocusChanges...), r.focusChanges...), storeCap)
	r.pointerEvents = trimHead(append(append([]PointerEvent{}, snap.PointerEvents...), r.pointerEvents...), storeCap)
	r.version++
}

// StopMonitoring is idempotent.
func (r *Recorder) StopMonitoring() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
}

// SaveSnapshot writes the current compressed state to the persistent tab
// store. Best-effort: any failure is swallowed. force bypasses the 2s
// rate limit, used on unload.
func (r *Recorder) SaveSnapshot(now time.Time, force bool) {
	r.mu.Lock()
	if !force && now.Sub(r.lastSnapshotWrite) < snapshotMinGap {
		r.mu.Unlock()
		return
	}
	snap := snapshot{
		StartTime:     r.startTime,
		PageLoadCount: r.pageLoadCount,
		MouseMoves:    compress(r.mouseMoves, snapshotCap),
		Clicks:        compress(r.clicks, snapshotCap),
		Keystrokes:    compress(r.keystrokes, snapshotCap),
		Scrolls:       compress(r.scrolls, snapshotCap),
		FocusChanges:  compress(r.focusChanges, snapshotCap),
		PointerEvents: compress(r.pointerEvents, snapshotCap),
	}
	r.lastSnapshotWrite = now
	contextID := r.contextID
	r.mu.Unlock()

	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = r.store.Write(session.EventsKey(contextID), string(b)) // best-effort
}

// RawState returns a read-only copy for the Analyzer.
func (r *Recorder) RawState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		StartTime:     r.startTime,
		PageLoadCount: r.pageLoadCount,
		Version:       r.version,
		MouseMoves:    append([]MouseMove{}, r.mouseMoves...),
		Clicks:        append([]Click{}, r.clicks...),
		Keystrokes:    append([]Keystroke{}, r.keystrokes...),
		Scrolls:       append([]Scroll{}, r.scrolls...),
		Hovers:        append([]Hover{}, r.hovers...),
		FocusChanges:  append([]FocusChange{}, r.focusChanges...),
		PointerEvents: append([]PointerEvent{}, r.pointerEvents...),
	}
}

func (r *Recorder) IngestMouseMove(ts int64, x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := MouseMove{TS: ts, X: x, Y: y}
	if r.haveLastMouseMove && len(r.mouseMoves) > 0 {
		prev := r.mouseMoves[len(r.mouseMoves)-1]
		dt := float64(ts - prev.TS)
		if dt > 0 {
			m.DtMs = dt
			m.DX = x - prev.X
			m.DY = y - prev.Y
			m.Velocity = math.Hypot(m.DX, m.DY) / dt
		}
	}
	r.haveLastMouseMove = true
	r.mouseMoves = evict(append(r.mouseMoves, m), storeCap)
	r.version++
}

// IngestHover records a mouseover/mouseout.
func (r *Recorder) IngestHover(targetKey string, ts int64, typ HoverType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hovers = evict(append(r.hovers, Hover{TargetKey: targetKey, TS: ts, Type: typ}), storeCap)
	r.version++
}

// IngestClick records a click. offsetFromCenter, precedingHover, and
// precedingMouseMove are computed here from current store contents.
func (r *Recorder) IngestClick(ts int64, x, y float64, target TargetDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dx := x - target.CX
	dy := y - target.CY
	offset := math.Hypot(dx, dy)

	precedingHover := false
	start := len(r.hovers) - 20
	if start < 0 {
		start = 0
	}
	for _, h := range r.hovers[start:] {
		if h.Type == HoverOver && h.TargetKey == target.Key() {
			precedingHover = true
			break
		}
	}

	precedingMove := false
	mstart := len(r.mouseMoves) - 10
	if mstart < 0 {
		mstart = 0
	}
	for _, m := range r.mouseMoves[mstart:] {
		if math.Hypot(m.X-x, m.Y-y) <= 50 {
			precedingMove = true
			break
		}
	}

	c := Click{
		TS:                 ts,
		X:                  x,
		Y:                  y,
		Target:             target,
		OffsetFromCenter:   offset,
		PrecedingHover:     precedingHover,
		PrecedingMouseMove: precedingMove,
	}
	r.clicks = evict(append(r.clicks, c), storeCap)
	r.version++
}

// IngestMouseDown annotates the most recent unannotated click with a
// mousedown timestamp.
func (r *Recorder) IngestMouseDown(ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.lastUnannotatedClick(); c != nil {
		c.MouseDownTS = ts
	}
}

// IngestMouseUp completes the most recent click's duration, augmenting it
// at most once.
func (r *Recorder) IngestMouseUp(ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.lastUnannotatedClick(); c != nil && c.MouseDownTS != 0 {
		c.DurationMs = float64(ts - c.MouseDownTS)
		c.annotated = true
	}
}

func (r *Recorder) lastUnannotatedClick() *Click {
	for i := len(r.clicks) - 1; i >= 0; i-- {
		if !r.clicks[i].annotated {
			return &r.clicks[i]
		}
	}
	return nil
}

// normalizeKey redacts single-character keys to the "char" token.
func normalizeKey(key string) string {
	if len([]rune(key)) == 1 {
		return "char"
	}
	return key
}

func (r *Recorder) IngestKeyDown(ts int64, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := Keystroke{TS: ts, Key: normalizeKey(key), Phase: KeyDown}
	if r.haveLastKey {
		k.DtMs = float64(ts - r.lastKeyTS)
	}
	r.haveLastKey = true
	r.lastKeyTS = ts
	r.keystrokes = evict(append(r.keystrokes, k), storeCap)
	r.version++
}

// IngestKeyUp sets holdDuration on the most recent unfinished keydown.
func (r *Recorder) IngestKeyUp(ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.keystrokes) - 1; i >= 0; i-- {
		k := &r.keystrokes[i]
		if k.Phase == KeyDown && !k.finished {
			k.HoldDurationMs = float64(ts - k.TS)
			k.finished = true
			r.version++
			return
		}
	}
}

func (r *Recorder) IngestScroll(ts int64, scrollX, scrollY float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Scroll{TS: ts, ScrollX: scrollX, ScrollY: scrollY}
	if r.haveLastScroll && len(r.scrolls) > 0 {
		prev := r.scrolls[len(r.scrolls)-1]
		s.DtMs = float64(ts - prev.TS)
		s.DScrollX = scrollX - prev.ScrollX
		s.DScrollY = scrollY - prev.ScrollY
	}
	r.haveLastScroll = true
	r.scrolls = evict(append(r.scrolls, s), storeCap)
	r.version++
}

func (r *Recorder) IngestFocusChange(target TargetDescriptor, ts int64, phase FocusPhase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focusChanges = evict(append(r.focusChanges, FocusChange{Target: target, TS: ts, Phase: phase}), storeCap)
	r.version++
}

// IngestPointerEvent records a pointerdown unconditionally; pointermove is
// throttled to at most one per 50ms, inclusive of equality.
func (r *Recorder) IngestPointerEvent(typ PointerType, x, y float64, ts int64, pointerType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if typ == PointerMove {
		if r.havePointerMove && ts-r.lastPointerMoveTS < pointerThrottle.Milliseconds() {
			return
		}
		r.havePointerMove = true
		r.lastPointerMoveTS = ts
	}
	r.pointerEvents = evict(append(r.pointerEvents, PointerEvent{Type: typ, X: x, Y: y, TS: ts, PointerType: pointerType}), storeCap)
	r.version++
}

// capTail keeps at most n trailing elements, evicting the oldest.
func capTail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func evict[T any](s []T, n int) []T { return capTail(s, n) }

func trimHead[T any](s []T, n int) []T { return capTail(s, n) }

func compress[T any](s []T, n int) []T {
	return append([]T{}, capTail(s, n)...)
}
