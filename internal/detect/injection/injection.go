package injection

import (
	"math"
	"regexp"
	"strings"

	"github.com/shortontech/gotrack/internal/detect/fingerprint"
	"github.com/shortontech/gotrack/internal/detect/signal"
)

type textPattern struct {
	match  *regexp.Regexp
	name   string
	weight int
}

type attrPattern struct {
	match  *regexp.Regexp
	name   string
	weight int
}

// textPatterns flags phrases characteristic of AI/homework-helper overlays.
var textPatterns = []textPattern{
	{regexp.MustCompile(`(?i)get\s+answer`), "text.get_answer", 8},
	{regexp.MustCompile(`(?i)solve\s+this`), "text.solve_this", 8},
	{regexp.MustCompile(`(?i)ask\s+ai`), "text.ask_ai", 7},
	{regexp.MustCompile(`(?i)homework\s+help`), "text.homework_help", 7},
	{regexp.MustCompile(`(?i)explain\s+this\s+(step|answer|problem)`), "text.explain_this", 6},
	{regexp.MustCompile(`(?i)\bchegg\b`), "text.brand_chegg", 9},
	{regexp.MustCompile(`(?i)course\s*hero`), "text.brand_coursehero", 9},
	{regexp.MustCompile(`(?i)\bquizlet\b`), "text.brand_quizlet", 5},
	{regexp.MustCompile(`(?i)\bsocratic\b`), "text.brand_socratic", 6},
	{regexp.MustCompile(`(?i)photomath`), "text.brand_photomath", 8},
}

// attrPatterns flags class/id/src/href values characteristic of injected
// helper UI.
var attrPatterns = []attrPattern{
	{regexp.MustCompile(`(?i)ai-?helper`), "attr.ai_helper", 8},
	{regexp.MustCompile(`(?i)homework-?(bot|assist)`), "attr.homework_bot", 8},
	{regexp.MustCompile(`(?i)gpt-?overlay`), "attr.gpt_overlay", 9},
	{regexp.MustCompile(`(?i)answer-?bot`), "attr.answer_bot", 8},
	{regexp.MustCompile(`(?i)chegg`), "attr.brand_chegg", 9},
	{regexp.MustCompile(`(?i)coursehero`), "attr.brand_coursehero", 9},
	{regexp.MustCompile(`(?i)^chrome-extension://`), "attr.chrome_extension_scheme", 10},
	{regexp.MustCompile(`(?i)^moz-extension://`), "attr.moz_extension_scheme", 10},
}

// hostElementFilter matches class/id prefixes that belong to the host
// platform, UI frameworks, editors, or test harnesses — never flagged.
var hostElementFilter = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(btn|col|row|d-flex|text-|bg-|p-[0-5]|m-[0-5]|container|navbar)`),
	regexp.MustCompile(`(?i)^(ql-|ck-|tox-|cke_)`),
	regexp.MustCompile(`(?i)^(gt-|canvas-|lms-|moodle-)`),
	regexp.MustCompile(`(?i)^(mocha|jasmine|cypress-|playwright-)`),
}

var hostDataAttrs = map[string]bool{
	"data-host":     true,
	"data-platform": true,
	"data-lms":      true,
}

func isHostElement(o Observation, mutatedHostAttr bool) bool {
	if mutatedHostAttr {
		return true
	}
	for _, re := range hostElementFilter {
		if re.MatchString(o.Class) || re.MatchString(o.ID) {
			return true
		}
	}
	return false
}

// IsFloatingOverlay applies the floating-UI heuristic.
func IsFloatingOverlay(o Observation) bool {
	return (o.ComputedPosition == "fixed" || o.ComputedPosition == "absolute") &&
		o.Width >= 50 && o.Height >= 50 && o.ZIndex >= 9000
}

func hasCometOrExtensionReference(s string) bool {
	return strings.Contains(s, fingerprint.CometExtensionID) || strings.HasPrefix(strings.ToLower(s), "chrome-extension://")
}

// Analyze groups and scores raw observations per the (type,name) grouping
// formula: each group contributes maxWeight × (1 + 0.2×(min(count,5)-1)).
func Analyze(observations []Observation) Report {
	var findings []signal.InjectionFinding

	for _, o := range observations {
		if isHostElement(o, hostDataAttrs[o.MutatedAttribute]) {
			continue
		}

		if o.LeafText != "" {
			for _, p := range textPatterns {
				if p.match.MatchString(o.LeafText) {
					findings = append(findings, signal.InjectionFinding{
						Type: signal.FindingTextPattern, Name: p.name, Text: o.LeafText,
						Weight: p.weight, Source: o.Source,
					})
				}
			}
		}

		for _, attrVal := range []string{o.Class, o.ID, o.Src, o.Href} {
			if attrVal == "" {
				continue
			}
			for _, p := range attrPatterns {
				if p.match.MatchString(attrVal) {
					findings = append(findings, signal.InjectionFinding{
						Type: signal.FindingElementPattern, Name: p.name, Attribute: attrVal,
						Weight: p.weight, Source: o.Source,
					})
				}
			}
		}

		if IsFloatingOverlay(o) {
			findings = append(findings, signal.InjectionFinding{
				Type: signal.FindingFloatingUI, Name: "floating_ui.candidate_overlay",
				Weight: 6, Source: o.Source,
			})
		}

		if o.HasShadowRoot {
			findings = append(findings, signal.InjectionFinding{
				Type: signal.FindingShadowDOM, Name: "shadow_dom.injected_root",
				Weight: 7, Source: signal.SourceShadowDOMInjection,
			})
		}

		if hasCometOrExtensionReference(o.Src) || hasCometOrExtensionReference(o.Href) {
			// the initial scan aggregates extension.resources hits at weight 7
			// with count-with-cap semantics; the mutation path's per-element
			// src/href check against the agent extension ID or the
			// chrome-extension:// scheme is the stronger weight-10 signal.
			weight := 10
			if o.Source == signal.SourceInitialScan {
				weight = 7
			}
			findings = append(findings, signal.InjectionFinding{
				Type: signal.FindingExtensionInjected, Name: "extension.resources",
				Weight: weight, Source: o.Source,
			})
		}
	}

	return Report{Findings: findings, Score: score(findings)}
}

type groupKey struct {
	typ  signal.FindingType
	name string
}

func score(findings []signal.InjectionFinding) int {
	groups := map[groupKey]struct {
		maxWeight int
		count     int
	}{}
	for _, f := range findings {
		k := groupKey{f.Type, f.Name}
		g := groups[k]
		if f.Weight > g.maxWeight {
			g.maxWeight = f.Weight
		}
		g.count++
		groups[k] = g
	}
	sum := 0.0
	for _, g := range groups {
		cappedCount := g.count
		if cappedCount > 5 {
			cappedCount = 5
		}
		sum += float64(g.maxWeight) * (1 + 0.2*float64(cappedCount-1))
	}
	s := int(math.Round(sum / 50 * 100))
	if s > 100 {
		s = 100
	}
	return s
}
