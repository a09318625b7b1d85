package recorder

// TargetDescriptor is the serializable, DOM-reference-free stand-in for an
// event target: tag/id/class plus bounding-box size. Raw DOM references
// are never stored.
type TargetDescriptor struct {
	Tag    string  `json:"tag,omitempty"`
	ID     string  `json:"id,omitempty"`
	Class  string  `json:"class,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	CX     float64 `json:"cx,omitempty"` // center x in viewport coords
	CY     float64 `json:"cy,omitempty"`
}

// Key is a stable identity for a target, used in place of object identity
// for precedingHover and the analyzer's same-target comparisons.
func (t TargetDescriptor) Key() string {
	return t.Tag + "#" + t.ID + "." + t.Class
}

type MouseMove struct {
	TS       int64   `json:"ts"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	DtMs     float64 `json:"dt"`
	DX       float64 `json:"dx"`
	DY       float64 `json:"dy"`
	Velocity float64 `json:"velocity"` // px/ms, only when dt > 0
}

type Click struct {
	TS                 int64            `json:"ts"`
	X                  float64          `json:"x"`
	Y                  float64          `json:"y"`
	Target             TargetDescriptor `json:"target"`
	OffsetFromCenter   float64          `json:"offsetFromCenter"`
	PrecedingHover     bool             `json:"precedingHover"`
	PrecedingMouseMove bool             `json:"precedingMouseMove"`
	MouseDownTS        int64            `json:"mouseDownTs,omitempty"`
	DurationMs         float64          `json:"durationMs,omitempty"`
	annotated          bool             // internal: augmented at most once
}

type KeyPhase string

const (
	KeyDown KeyPhase = "down"
	KeyUp   KeyPhase = "up"
)

type Keystroke struct {
	TS             int64    `json:"ts"`
	Key            string   `json:"key"` // single chars redacted to "char"
	DtMs           float64  `json:"dt"`
	Phase          KeyPhase `json:"phase"`
	HoldDurationMs float64  `json:"holdDurationMs,omitempty"`
	finished       bool     // internal: hold duration already set
}

type Scroll struct {
	TS        int64   `json:"ts"`
	ScrollX   float64 `json:"scrollX"`
	ScrollY   float64 `json:"scrollY"`
	DtMs      float64 `json:"dt"`
	DScrollX  float64 `json:"dScrollX"`
	DScrollY  float64 `json:"dScrollY"`
}

type HoverType string

const (
	HoverOver HoverType = "over"
	HoverOut  HoverType = "out"
)

// Hover holds the hovered target's Key(), compared by string equality.
// Hovers are never persisted across pages: the snapshot has no hover store.
type Hover struct {
	TargetKey string    `json:"-"`
	TS        int64     `json:"ts"`
	Type      HoverType `json:"type"`
}

type FocusPhase string

const (
	FocusIn  FocusPhase = "in"
	FocusOut FocusPhase = "out"
)

type FocusChange struct {
	Target TargetDescriptor `json:"target"`
	TS     int64            `json:"ts"`
	Phase  FocusPhase       `json:"phase"`
}

type PointerType string

const (
	PointerDown PointerType = "down"
	PointerMove PointerType = "move"
)

type PointerEvent struct {
	Type        PointerType `json:"type"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
	TS          int64       `json:"ts"`
	PointerType string      `json:"pointerType,omitempty"`
}

// State is a read-only snapshot of the recorder's stores, handed to the
// Analyzer. Copying happens under the recorder's lock so no reader ever
// observes a partial update.
type State struct {
	StartTime     int64
	PageLoadCount int
	Version       int

	MouseMoves    []MouseMove
	Clicks        []Click
	Keystrokes    []Keystroke
	Scrolls       []Scroll
	Hovers        []Hover
	FocusChanges  []FocusChange
	PointerEvents []PointerEvent
}
