package fingerprint

import (
	"regexp"
	"strings"

	"github.com/shortontech/gotrack/internal/detect/session"
	"github.com/shortontech/gotrack/internal/detect/signal"
)

var headlessUARe = regexp.MustCompile(`HeadlessChrome|PhantomJS|SlimerJS`)
var cdcPropertyRe = regexp.MustCompile(`^(\$?cdc_|_cdc_|\$chrome_asyncScriptInfo)`)
var badRendererRe = regexp.MustCompile(`SwiftShader|llvmpipe|Mesa|Software`)

// Collect scores a raw probe snapshot into a Result. store is consulted
// and updated for the agent-extension resource-probe cache.
func Collect(raw RawProbe, store session.Store) Result {
	var r Result
	r.WebDriver = collectWebDriver(raw)
	r.Headless = collectHeadless(raw)
	r.Extensions = collectExtensions(raw)
	r.CometExtension = collectCometExtension(raw, store)
	r.PerplexityNetwork = collectPerplexityNetwork(raw)
	r.Globals = collectGlobals(raw)
	r.DOMMarkers = collectDOMMarkers(raw)
	r.Canvas = collectCanvas(raw)
	r.WebGL = collectWebGL(raw)
	r.Navigator = raw.Navigator

	all := r.AllSignals()
	r.Score = normalizeScore(all)
	return r
}

func normalizeScore(sigs []signal.AnomalySignal) int {
	sum := signal.Sum(sigs)
	denom := len(sigs) * 10
	if denom < 50 {
		denom = 50
	}
	score := int(roundFloat(float64(sum) / float64(denom) * 100))
	if score > 100 {
		score = 100
	}
	return score
}

func roundFloat(f float64) float64 {
	if f < 0 {
		return float64(int(f - 0.5))
	}
	return float64(int(f + 0.5))
}

func collectWebDriver(raw RawProbe) Group {
	var sigs []signal.AnomalySignal
	if raw.WebDriverNow {
		sigs = append(sigs, signal.AnomalySignal{Name: "webdriver.true", Value: 1, Weight: 10})
	}
	if raw.WebDriverNow && !raw.WebDriverAtLoad {
		sigs = append(sigs, signal.AnomalySignal{Name: "webdriver.changed_mid_session", Value: 1, Weight: 10})
	}
	if raw.WebDriverGetterReplaced {
		sigs = append(sigs, signal.AnomalySignal{Name: "webdriver.getter_replaced", Value: 1, Weight: 9})
	}
	return Group{Detected: len(sigs) > 0, Signals: sigs}
}

func collectHeadless(raw RawProbe) Group {
	var sigs []signal.AnomalySignal
	add := func(name string, weight int) {
		sigs = append(sigs, signal.AnomalySignal{Name: name, Value: 1, Weight: weight})
	}
	if raw.PluginCount == 0 {
		add("headless.empty_plugins", 6)
	}
	if len(raw.Languages) == 0 {
		add("headless.empty_languages", 7)
	}
	chromeUA := strings.Contains(raw.UserAgent, "Chrome")
	if chromeUA && !raw.HasChromeGlobal {
		add("headless.missing_chrome_global", 8)
	}
	if headlessUARe.MatchString(raw.UserAgent) {
		add("headless.ua_match", 10)
	}
	if raw.OuterWidth == 0 && raw.OuterHeight == 0 {
		add("headless.zero_outer_dimensions", 8)
	}
	if raw.ScreenWidth == 0 && raw.ScreenHeight == 0 {
		add("headless.zero_screen_dimensions", 7)
	}
	if chromeUA && !raw.HasConnectionAPI {
		add("headless.missing_connection_api", 4)
	}
	detected := false
	for _, s := range sigs {
		if s.Weight >= 7 {
			detected = true
			break
		}
	}
	return Group{Detected: detected, Signals: sigs}
}

func collectExtensions(raw RawProbe) Group {
	var sigs []signal.AnomalySignal
	for _, id := range raw.ExtensionMarkupHits {
		sigs = append(sigs, signal.AnomalySignal{Name: "extensions.markup_match." + id, Value: 1, Weight: raw.ExtensionMarkupWeight})
	}
	if raw.MCPGlobalPresent {
		sigs = append(sigs, signal.AnomalySignal{Name: "extensions.mcp_global", Value: 1, Weight: 8})
	}
	if raw.ClaudeRuntimePresent {
		sigs = append(sigs, signal.AnomalySignal{Name: "extensions.claude_runtime", Value: 1, Weight: 8})
	}
	return Group{Detected: len(sigs) > 0, Signals: sigs}
}

func collectCometExtension(raw RawProbe, store session.Store) Group {
	var sigs []signal.AnomalySignal
	if session.CometDetected(store) {
		sigs = append(sigs, signal.AnomalySignal{Name: "comet.extension_cached_positive", Value: 1, Weight: 10})
	}
	if raw.CometResourceScriptOrLinkHit {
		sigs = append(sigs, signal.AnomalySignal{Name: "comet.extension_resource_reference", Value: 1, Weight: 10})
	}
	if raw.CometStylesheetHit {
		sigs = append(sigs, signal.AnomalySignal{Name: "comet.extension_stylesheet", Value: 1, Weight: 10})
	}
	if raw.CometResourceProbeSuccess {
		sigs = append(sigs, signal.AnomalySignal{Name: "comet.extension_resource_probe", Value: 1, Weight: 10})
		session.MarkCometDetected(store)
	}
	return Group{Detected: len(sigs) > 0, Signals: sigs}
}

func collectPerplexityNetwork(raw RawProbe) Group {
	var sigs []signal.AnomalySignal
	for _, name := range raw.NetworkResourceNames {
		if strings.Contains(name, "perplexity.ai/agent") || strings.Contains(name, "perplexity.ai/rest/sse") {
			sigs = append(sigs, signal.AnomalySignal{Name: "comet.network_target_match", Value: 1, Weight: 9})
			break
		}
	}
	return Group{Detected: len(sigs) > 0, Signals: sigs}
}

func collectGlobals(raw RawProbe) Group {
	var sigs []signal.AnomalySignal
	for _, name := range raw.AutomationGlobalsPresent {
		weight := raw.AutomationGlobalWeights[name]
		if weight == 0 {
			weight = 5
		}
		sigs = append(sigs, signal.AnomalySignal{Name: "globals.automation." + name, Value: 1, Weight: weight})
	}
	for _, name := range raw.CDCPropertyNamesPresent {
		if cdcPropertyRe.MatchString(name) {
			sigs = append(sigs, signal.AnomalySignal{Name: "globals.cdc_property", Value: 1, Weight: 10})
		}
	}
	return Group{Detected: len(sigs) > 0, Signals: sigs}
}

func collectDOMMarkers(raw RawProbe) Group {
	var sigs []signal.AnomalySignal
	for _, hit := range raw.DOMMarkerHits {
		weight := raw.DOMMarkerWeight[hit]
		if weight == 0 {
			weight = 6
		}
		sigs = append(sigs, signal.AnomalySignal{Name: "dom_markers." + hit, Value: 1, Weight: weight})
	}
	return Group{Detected: len(sigs) > 0, Signals: sigs}
}

func collectCanvas(raw RawProbe) Group {
	var sigs []signal.AnomalySignal
	if raw.CanvasProbeErrored {
		sigs = append(sigs, signal.AnomalySignal{Name: "canvas.error", Value: 1, Weight: 5})
	} else if raw.CanvasDataURLLength > 0 && raw.CanvasDataURLLength < 1000 {
		sigs = append(sigs, signal.AnomalySignal{Name: "canvas.data.short", Value: float64(raw.CanvasDataURLLength), Weight: 6})
	}
	return Group{Detected: len(sigs) > 0, Signals: sigs}
}

func collectWebGL(raw RawProbe) Group {
	var sigs []signal.AnomalySignal
	if raw.WebGLMissing {
		sigs = append(sigs, signal.AnomalySignal{Name: "webgl.missing", Value: 1, Weight: 5})
	} else if badRendererRe.MatchString(raw.WebGLRenderer) {
		sigs = append(sigs, signal.AnomalySignal{Name: "webgl.software_renderer", Value: 1, Weight: 8})
	}
	return Group{Detected: len(sigs) > 0, Signals: sigs}
}
