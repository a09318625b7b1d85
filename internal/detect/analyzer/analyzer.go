// Package analyzer implements the Analyzer: pure functions that consume
// Event Recorder state (and, for the agent-category score, Fingerprint and
// Injection Observer state) and emit weighted anomaly signals, an
// interaction sub-score, and a tiered agent-category score. Every function
// here is side-effect free; caching the result against store mutation is
// the caller's (recorder.State.Version-keyed) responsibility, see Cache.
package analyzer

import (
	"math"
	"sort"
	"sync"

	"github.com/shortontech/gotrack/internal/detect/fingerprint"
	"github.com/shortontech/gotrack/internal/detect/injection"
	"github.com/shortontech/gotrack/internal/detect/recorder"
	"github.com/shortontech/gotrack/internal/detect/signal"
)

// Cache holds the single cached Report, invalidated whenever the
// recorder.State.Version it was computed from changes.
type Cache struct {
	mu      sync.Mutex
	version int
	have    bool
	report  Report
}

// Get returns the cached report if state.Version matches the version the
// cache was last computed from, else recomputes and caches.
func (c *Cache) Get(state recorder.State) Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.have && c.version == state.Version {
		return c.report
	}
	r := Analyze(state)
	c.report = r
	c.version = state.Version
	c.have = true
	return r
}

// Analyze is the pure, uncached interaction analysis.
func Analyze(state recorder.State) Report {
	counts := EventCounts{
		MouseMoves:    len(state.MouseMoves),
		Clicks:        len(state.Clicks),
		Keystrokes:    len(state.Keystrokes),
		Scrolls:       len(state.Scrolls),
		Hovers:        len(state.Hovers),
		FocusChanges:  len(state.FocusChanges),
		PointerEvents: len(state.PointerEvents),
	}
	duration := sessionDurationMs(state)

	var anomalies []signal.AnomalySignal
	anomalies = append(anomalies, mouseSignals(state, duration)...)
	anomalies = append(anomalies, clickSignals(state)...)
	anomalies = append(anomalies, keystrokeSignals(state)...)
	anomalies = append(anomalies, scrollSignals(state)...)
	anomalies = append(anomalies, sequenceSignals(state)...)
	anomalies = append(anomalies, burstSignals(state)...)
	anomalies = append(anomalies, cdpPointerSignals(state)...)

	score := interactionScore(anomalies, counts.Total())

	return Report{
		EventCounts: counts,
		DurationMs:  duration,
		Anomalies:   anomalies,
		Score:       score,
	}
}

func sessionDurationMs(state recorder.State) int64 {
	var min, max int64
	have := false
	consider := func(ts int64) {
		if !have || ts < min {
			min = ts
		}
		if !have || ts > max {
			max = ts
		}
		have = true
	}
	for _, m := range state.MouseMoves {
		consider(m.TS)
	}
	for _, c := range state.Clicks {
		consider(c.TS)
	}
	for _, k := range state.Keystrokes {
		consider(k.TS)
	}
	for _, s := range state.Scrolls {
		consider(s.TS)
	}
	for _, h := range state.Hovers {
		consider(h.TS)
	}
	for _, f := range state.FocusChanges {
		consider(f.TS)
	}
	for _, p := range state.PointerEvents {
		consider(p.TS)
	}
	if !have {
		return 0
	}
	return max - min
}

// ---- mouse group ----

func mouseSignals(state recorder.State, durationMs int64) []signal.AnomalySignal {
	var out []signal.AnomalySignal
	moves := state.MouseMoves

	if len(moves) < minMouseMoves {
		out = append(out, signal.AnomalySignal{Name: "mouse.insufficient_data", Value: float64(len(moves)), Weight: 2})
		return out
	}

	linear := 0
	for i := 1; i < len(moves); i++ {
		a := moves[i-1]
		b := moves[i]
		if a.DX == 0 && a.DY == 0 {
			continue
		}
		if b.DX == 0 && b.DY == 0 {
			continue
		}
		cos := cosineOfAngleBetween(a.DX, a.DY, b.DX, b.DY)
		if math.Abs(cos) > 0.99 {
			linear++
		}
	}
	if len(moves) > 1 && float64(linear)/float64(len(moves)-1) > 0.3 {
		out = append(out, signal.AnomalySignal{Name: "mouse.linear_movement", Value: float64(linear), Weight: 3})
	}

	teleport := false
	for _, m := range moves {
		if m.Velocity > maxPlausibleSpeedPxPerMs {
			teleport = true
			break
		}
	}
	if teleport {
		out = append(out, signal.AnomalySignal{Name: "mouse.teleport", Value: 1, Weight: 8})
	}

	if durationMs > 0 && float64(len(moves)) < float64(durationMs)/5000.0 {
		out = append(out, signal.AnomalySignal{Name: "mouse.sparse_movement", Value: float64(len(moves)), Weight: 5})
	}

	var velocities []float64
	for _, m := range moves {
		if m.DtMs > 0 {
			velocities = append(velocities, m.Velocity)
		}
	}
	if len(velocities) >= 5 && variance(velocities) < 0.1 {
		out = append(out, signal.AnomalySignal{Name: "mouse.constant_velocity", Value: variance(velocities), Weight: 6})
	}

	actions := len(state.Clicks) + countKeyDowns(state.Keystrokes)
	if state.PageLoadCount >= 2 && actions >= 3 {
		ratio := float64(len(moves)) / float64(actions)
		if ratio < 2 {
			out = append(out, signal.AnomalySignal{Name: "comet.low_mouse_to_action_ratio", Value: ratio, Weight: 10})
		} else if ratio < 5 {
			out = append(out, signal.AnomalySignal{Name: "comet.low_mouse_to_action_ratio", Value: ratio, Weight: 7})
		}
	}

	return out
}

func cosineOfAngleBetween(x1, y1, x2, y2 float64) float64 {
	dot := x1*x2 + y1*y2
	n1 := math.Hypot(x1, y1)
	n2 := math.Hypot(x2, y2)
	if n1 == 0 || n2 == 0 {
		return 0
	}
	return dot / (n1 * n2)
}

func countKeyDowns(ks []recorder.Keystroke) int {
	n := 0
	for _, k := range ks {
		if k.Phase == recorder.KeyDown {
			n++
		}
	}
	return n
}

// ---- click group ----

func clickSignals(state recorder.State) []signal.AnomalySignal {
	var out []signal.AnomalySignal
	clicks := state.Clicks
	if len(clicks) == 0 {
		return out
	}

	within := func(tol float64) int {
		n := 0
		for _, c := range clicks {
			if c.OffsetFromCenter <= tol {
				n++
			}
		}
		return n
	}

	if n := within(centerClickTolerance); float64(n)/float64(len(clicks)) > 0.5 {
		out = append(out, signal.AnomalySignal{Name: "click.center_precision", Value: float64(n) / float64(len(clicks)), Weight: 10})
	}

	if len(clicks) >= 3 {
		n := within(centerClickToleranceNear)
		if float64(n)/float64(len(clicks)) > 0.6 {
			out = append(out, signal.AnomalySignal{Name: "comet.ultra_precise_center", Value: float64(n) / float64(len(clicks)), Weight: 10})
		}
	}

	noHover := 0
	noMove := 0
	for _, c := range clicks {
		if !c.PrecedingHover {
			noHover++
		}
		if !c.PrecedingMouseMove {
			noMove++
		}
	}
	if float64(noHover)/float64(len(clicks)) > 0.7 {
		out = append(out, signal.AnomalySignal{Name: "click.no_hover", Value: float64(noHover) / float64(len(clicks)), Weight: 6})
	}
	if float64(noMove)/float64(len(clicks)) > 0.5 {
		out = append(out, signal.AnomalySignal{Name: "click.no_movement", Value: float64(noMove) / float64(len(clicks)), Weight: 9})
	}

	if len(clicks) >= 3 && len(state.MouseMoves) < 2*len(clicks) {
		out = append(out, signal.AnomalySignal{Name: "click.teleport_pattern", Value: float64(len(state.MouseMoves)), Weight: 10})
	}

	intervals := clickIntervals(clicks)
	for _, d := range intervals {
		if d < minHumanReactionMs {
			out = append(out, signal.AnomalySignal{Name: "click.superhuman_speed", Value: d, Weight: 6})
			break
		}
	}
	if len(intervals) >= 3 && variance(intervals) < perfectTimingVarianceThreshold {
		out = append(out, signal.AnomalySignal{Name: "click.perfect_timing", Value: variance(intervals), Weight: 8})
	}

	return out
}

func clickIntervals(clicks []recorder.Click) []float64 {
	if len(clicks) < 2 {
		return nil
	}
	out := make([]float64, 0, len(clicks)-1)
	for i := 1; i < len(clicks); i++ {
		out = append(out, float64(clicks[i].TS-clicks[i-1].TS))
	}
	return out
}

// ---- keystroke group ----

func keystrokeSignals(state recorder.State) []signal.AnomalySignal {
	var out []signal.AnomalySignal
	downs := keyDownIntervals(state.Keystrokes)

	if len(downs) >= 5 && variance(downs) < perfectTimingVarianceThreshold {
		out = append(out, signal.AnomalySignal{Name: "keystroke.perfect_timing", Value: variance(downs), Weight: 9})
	}
	if len(downs) >= 10 {
		if cv := coefficientOfVariation(downs); cv < 0.1 {
			out = append(out, signal.AnomalySignal{Name: "comet.uniform_keystroke_cadence", Value: cv, Weight: 9})
		}
	}
	if len(downs) > 0 {
		fast := 0
		for _, d := range downs {
			if d < 30 {
				fast++
			}
		}
		if float64(fast)/float64(len(downs)) > 0.3 {
			out = append(out, signal.AnomalySignal{Name: "keystroke.superhuman_speed", Value: float64(fast) / float64(len(downs)), Weight: 9})
		}
	}

	holds := holdDurations(state.Keystrokes)
	if len(holds) >= 5 && variance(holds) < 1 {
		out = append(out, signal.AnomalySignal{Name: "keystroke.constant_hold", Value: variance(holds), Weight: 7})
	}
	if len(holds) >= 10 {
		if cv := coefficientOfVariation(holds); cv < 0.1 {
			out = append(out, signal.AnomalySignal{Name: "comet.uniform_hold_duration", Value: cv, Weight: 8})
		}
	}

	return out
}

func keyDownIntervals(ks []recorder.Keystroke) []float64 {
	var out []float64
	for _, k := range ks {
		if k.Phase == recorder.KeyDown && k.DtMs > 0 {
			out = append(out, k.DtMs)
		}
	}
	return out
}

func holdDurations(ks []recorder.Keystroke) []float64 {
	var out []float64
	for _, k := range ks {
		if k.Phase == recorder.KeyDown && k.HoldDurationMs > 0 {
			out = append(out, k.HoldDurationMs)
		}
	}
	return out
}

// ---- scroll group ----

func scrollSignals(state recorder.State) []signal.AnomalySignal {
	var out []signal.AnomalySignal
	scrolls := state.Scrolls
	if len(scrolls) == 0 {
		return out
	}

	jump := 0
	for _, s := range scrolls {
		if s.DtMs > 0 && s.DtMs < 10 && math.Abs(s.DScrollY) > 100 {
			jump++
		}
	}
	if float64(jump)/float64(len(scrolls)) > 0.5 {
		out = append(out, signal.AnomalySignal{Name: "scroll.instant_jump", Value: float64(jump) / float64(len(scrolls)), Weight: 6})
	}

	var absDY []float64
	for _, s := range scrolls {
		if s.DtMs > 0 {
			absDY = append(absDY, math.Abs(s.DScrollY))
		}
	}
	if len(absDY) >= 3 && variance(absDY) < 1 {
		out = append(out, signal.AnomalySignal{Name: "scroll.constant_amount", Value: variance(absDY), Weight: 5})
	}

	return out
}

// ---- sequence group ----

func sequenceSignals(state recorder.State) []signal.AnomalySignal {
	var out []signal.AnomalySignal

	if len(state.Clicks) >= minClicks {
		ratio := float64(len(state.Hovers)) / float64(len(state.Clicks))
		if ratio < 2 {
			out = append(out, signal.AnomalySignal{Name: "sequence.low_hover_ratio", Value: ratio, Weight: 5})
		}
	}

	if len(state.FocusChanges) >= 3 {
		lacking := 0
		for _, f := range state.FocusChanges {
			if !hasClickOrKeystrokeNear(state, f.TS, 100) {
				lacking++
			}
		}
		if float64(lacking)/float64(len(state.FocusChanges)) > 0.5 {
			out = append(out, signal.AnomalySignal{Name: "sequence.direct_focus", Value: float64(lacking) / float64(len(state.FocusChanges)), Weight: 6})
		}
	}

	rapid := 0
	for i := 1; i < len(state.FocusChanges); i++ {
		a := state.FocusChanges[i-1]
		b := state.FocusChanges[i]
		if a.Phase != recorder.FocusIn || b.Phase != recorder.FocusIn {
			continue
		}
		if a.Target.Key() == b.Target.Key() {
			continue
		}
		if b.TS-a.TS <= 200 {
			rapid++
		}
	}
	if rapid >= 1 {
		out = append(out, signal.AnomalySignal{Name: "comet.rapid_focus_sequence", Value: float64(rapid), Weight: 7})
	}

	return out
}

func hasClickOrKeystrokeNear(state recorder.State, ts int64, windowMs int64) bool {
	for _, c := range state.Clicks {
		if absInt64(c.TS-ts) <= windowMs {
			return true
		}
	}
	for _, k := range state.Keystrokes {
		if k.Phase == recorder.KeyDown && absInt64(k.TS-ts) <= windowMs {
			return true
		}
	}
	return false
}

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// ---- burst group ----

type timedAction struct {
	ts   int64
	kind string
}

func actionTimeline(state recorder.State) []timedAction {
	var out []timedAction
	for _, c := range state.Clicks {
		out = append(out, timedAction{ts: c.TS, kind: "click"})
	}
	for _, k := range state.Keystrokes {
		if k.Phase == recorder.KeyDown {
			out = append(out, timedAction{ts: k.TS, kind: "keystroke"})
		}
	}
	for _, f := range state.FocusChanges {
		out = append(out, timedAction{ts: f.TS, kind: "focus"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ts < out[j].ts })
	return out
}

type burstWindow struct {
	startTS, endTS int64
}

// findBursts greedily partitions the timeline into non-overlapping windows
// of at most 2 seconds that contain at least 5 heterogeneous actions.
func findBursts(events []timedAction) []burstWindow {
	var bursts []burstWindow
	i := 0
	n := len(events)
	for i < n {
		j := i
		for j+1 < n && events[j+1].ts-events[i].ts <= 2000 {
			j++
		}
		kinds := map[string]bool{}
		for k := i; k <= j; k++ {
			kinds[events[k].kind] = true
		}
		if j-i+1 >= 5 && len(kinds) >= 2 {
			bursts = append(bursts, burstWindow{startTS: events[i].ts, endTS: events[j].ts})
			i = j + 1
		} else {
			i++
		}
	}
	return bursts
}

func burstSignals(state recorder.State) []signal.AnomalySignal {
	var out []signal.AnomalySignal
	events := actionTimeline(state)
	bursts := findBursts(events)
	if len(bursts) < 2 {
		return out
	}
	out = append(out, signal.AnomalySignal{Name: "comet.action_burst", Value: float64(len(bursts)), Weight: 8})

	for _, b := range bursts {
		prevTS, have := previousActionBefore(events, b.startTS)
		if !have || b.startTS-prevTS >= 3000 {
			out = append(out, signal.AnomalySignal{Name: "comet.read_then_act", Value: 1, Weight: 9})
			break
		}
	}
	return out
}

func previousActionBefore(events []timedAction, ts int64) (int64, bool) {
	var best int64
	have := false
	for _, e := range events {
		if e.ts < ts && (!have || e.ts > best) {
			best = e.ts
			have = true
		}
	}
	return best, have
}

// ---- CDP/pointer group ----

func cdpPointerSignals(state recorder.State) []signal.AnomalySignal {
	var out []signal.AnomalySignal
	clicks := state.Clicks
	if len(clicks) == 0 {
		return out
	}

	noTrail := 0
	for _, c := range clicks {
		if !hasMouseMoveWithin(state.MouseMoves, c.TS, 500) {
			noTrail++
		}
	}
	if float64(noTrail)/float64(len(clicks)) > 0.7 {
		out = append(out, signal.AnomalySignal{Name: "comet.no_mousemove_trail", Value: float64(noTrail) / float64(len(clicks)), Weight: 9})
	}

	if len(clicks) >= 3 {
		downs := 0
		for _, p := range state.PointerEvents {
			if p.Type == recorder.PointerDown {
				downs++
			}
		}
		if float64(downs)/float64(len(clicks)) < 0.3 {
			out = append(out, signal.AnomalySignal{Name: "comet.missing_pointer_events", Value: float64(downs) / float64(len(clicks)), Weight: 7})
		}
	}

	return out
}

func hasMouseMoveWithin(moves []recorder.MouseMove, ts int64, windowMs int64) bool {
	for _, m := range moves {
		if m.TS <= ts && ts-m.TS <= windowMs {
			return true
		}
	}
	return false
}

// ---- scoring ----

func interactionScore(anomalies []signal.AnomalySignal, totalEvents int) int {
	if len(anomalies) == 0 {
		return 0
	}
	sum := float64(signal.Sum(anomalies))
	denom := float64(len(anomalies) * 10)
	if denom < 30 {
		denom = 30
	}

	strong := 0
	for name := range countNamesOnce(anomalies) {
		if strongSignalNames[name] {
			strong++
		}
	}
	multiplier := 1.0
	switch {
	case strong >= 3:
		multiplier = 1.5
	case strong == 2:
		multiplier = 1.25
	}

	reliable := false
	for name := range countNamesOnce(anomalies) {
		if reliableSignalNames[name] {
			reliable = true
			break
		}
	}
	var confidence float64
	switch {
	case totalEvents < 10 && !reliable:
		confidence = 0.3
	case totalEvents < 10 && reliable:
		confidence = 0.7
	case totalEvents < 25:
		confidence = 0.85
	default:
		confidence = 1.0
	}

	raw := (sum / denom) * 100 * multiplier * confidence
	if raw > 100 {
		raw = 100
	}
	return int(math.Round(raw))
}

func countNamesOnce(sigs []signal.AnomalySignal) map[string]bool {
	out := map[string]bool{}
	for _, s := range sigs {
		out[s.Name] = true
	}
	return out
}

// ---- agent-category extraction and score ----

// ExtractAgentSignals collects the union of comet-specific interaction
// anomalies, agent-extension/agent-runtime/network fingerprint signals,
// the mid-session webdriver change, and every extension_injection finding.
// Extension findings are taken for any chrome-extension:// resource,
// whichever extension it belongs to; their names are not checked for the
// agent brand or extension id.
func ExtractAgentSignals(interactionAnomalies []signal.AnomalySignal, fp fingerprint.Result, inj injection.Report) []signal.AnomalySignal {
	var out []signal.AnomalySignal
	out = append(out, signal.HasPrefix(interactionAnomalies, "comet.")...)
	out = append(out, fp.CometExtension.Signals...)
	out = append(out, fp.PerplexityNetwork.Signals...)

	for _, s := range fp.Extensions.Signals {
		if s.Name == "extensions.mcp_global" || s.Name == "extensions.claude_runtime" {
			out = append(out, s)
		}
	}
	for _, s := range fp.WebDriver.Signals {
		if s.Name == "webdriver.changed_mid_session" {
			out = append(out, s)
		}
	}
	for _, f := range inj.Findings {
		if f.Type == signal.FindingExtensionInjected {
			out = append(out, signal.AnomalySignal{Name: f.Name, Value: 1, Weight: f.Weight})
		}
	}
	return out
}

// AgentScore computes the tiered agent-category score from the extracted
// agent signal list.
func AgentScore(agentSignals []signal.AnomalySignal) int {
	if len(agentSignals) == 0 {
		return 0
	}
	sum := signal.Sum(agentSignals)

	for _, s := range agentSignals {
		if definitiveAgentSignalNames[s.Name] {
			return minInt(100, 70+sum)
		}
	}

	tier1 := 0
	tier2 := 0
	for _, s := range agentSignals {
		switch {
		case s.Name == "comet.low_mouse_to_action_ratio" && s.Weight >= 10:
			tier1++
		case s.Name != "comet.low_mouse_to_action_ratio" && tier1AgentSignalNames[s.Name]:
			tier1++
		case hasPrefixStr(s.Name, "comet."):
			tier2++
		}
	}

	switch {
	case tier1 >= 1 && tier2 >= 2:
		return minInt(100, sum*2)
	case tier1 >= 1:
		return minInt(100, int(math.Round(float64(sum)*1.5)))
	default:
		return minInt(40, sum)
	}
}

func hasPrefixStr(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// variance returns the population variance of xs.
func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return sumSq / float64(len(xs))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// coefficientOfVariation returns sigma/mu; 0 when mu is 0.
func coefficientOfVariation(xs []float64) float64 {
	m := mean(xs)
	if m == 0 {
		return 0
	}
	return math.Sqrt(variance(xs)) / m
}
