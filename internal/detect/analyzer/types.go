package analyzer

import "github.com/shortontech/gotrack/internal/detect/signal"

// Data thresholds. Configuration constants, not runtime-tunable.
const (
	minMouseMoves  = 20
	minClicks      = 3
	minKeystrokes  = 10
	perfectTimingVarianceThreshold = 5.0 // ms^2
	minHumanReactionMs             = 50.0
	maxPlausibleSpeedPxPerMs       = 10000.0
	centerClickToleranceNear       = 2.0
	centerClickTolerance           = 5.0
)

// strongSignalNames is the fixed "strong" set used by the interaction
// sub-score multiplier.
var strongSignalNames = map[string]bool{
	"click.superhuman_speed":         true,
	"click.center_precision":         true,
	"click.teleport_pattern":         true,
	"click.no_movement":              true,
	"comet.ultra_precise_center":     true,
	"comet.no_mousemove_trail":       true,
	"comet.read_then_act":            true,
	"comet.low_mouse_to_action_ratio": true,
}

// reliableSignalNames is the fixed "reliable" set used by the interaction
// sub-score confidence factor.
var reliableSignalNames = map[string]bool{
	"click.center_precision":         true,
	"comet.ultra_precise_center":     true,
	"comet.no_mousemove_trail":       true,
	"comet.low_mouse_to_action_ratio": true,
}

// tier1AgentSignalNames are physically-impossible-for-a-human signals.
// comet.zero_keystrokes and comet.low_per_page_mouse_ratio are reserved
// names referenced by the tiering rule but never emitted by this
// Analyzer's signal catalog; see DESIGN.md.
var tier1AgentSignalNames = map[string]bool{
	"comet.ultra_precise_center":      true,
	"comet.low_mouse_to_action_ratio": true,
	"comet.zero_keystrokes":           true,
	"comet.low_per_page_mouse_ratio":  true,
}

// definitiveAgentSignalNames are direct evidence of the agent extension's
// presence in the page: script/stylesheet injection by its id, a
// successful resource probe (live or cached), and a network call to its
// endpoints.
var definitiveAgentSignalNames = map[string]bool{
	"comet.extension_resource_reference": true,
	"comet.extension_stylesheet":         true,
	"comet.extension_resource_probe":     true,
	"comet.extension_cached_positive":    true,
	"comet.network_target_match":         true,
	"extensions.mcp_global":              true,
	"extensions.claude_runtime":          true,
}

// EventCounts is a per-store snapshot of how many records the Analyzer saw.
type EventCounts struct {
	MouseMoves    int `json:"mouseMoves"`
	Clicks        int `json:"clicks"`
	Keystrokes    int `json:"keystrokes"`
	Scrolls       int `json:"scrolls"`
	Hovers        int `json:"hovers"`
	FocusChanges  int `json:"focusChanges"`
	PointerEvents int `json:"pointerEvents"`
}

func (c EventCounts) Total() int {
	return c.MouseMoves + c.Clicks + c.Keystrokes + c.Scrolls + c.Hovers + c.FocusChanges + c.PointerEvents
}

// Report is a snapshot of the interaction analysis: event counts, the
// emitted anomalies, and the derived sub-score. It is cached until the
// Event Recorder state it was built from is mutated.
type Report struct {
	EventCounts EventCounts             `json:"eventCounts"`
	DurationMs  int64                   `json:"durationMs"`
	Anomalies   []signal.AnomalySignal  `json:"anomalies"`
	Score       int                     `json:"score"`
}

// AgentResult is the tiered agent-category extraction: the union of
// comet-specific signals from every source, plus the score derived from
// the definitive/tier-1/tier-2 rule in AgentScore.
type AgentResult struct {
	Signals []signal.AnomalySignal `json:"signals"`
	Score   int                   `json:"score"`
}
