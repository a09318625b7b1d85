// Package fingerprint implements the Fingerprint Collector: it scores a
// bounded set of runtime/environment probe values reported by the browser
// sensor. The browser only reports raw values; every weight and threshold
// lives here.
package fingerprint

import "github.com/shortontech/gotrack/internal/detect/signal"

// CometExtensionID is the Perplexity Comet agent extension id.
const CometExtensionID = "npclhjbddhklpbnacpjloidibaggcgon"

// RawProbe carries the unscored values the browser sensor observed.
type RawProbe struct {
	UserAgent string

	WebDriverNow        bool
	WebDriverAtLoad      bool
	WebDriverGetterReplaced bool

	PluginCount       int
	Languages         []string
	HasChromeGlobal   bool
	OuterWidth        int
	OuterHeight       int
	ScreenWidth       int
	ScreenHeight      int
	HasConnectionAPI  bool

	ExtensionMarkupHits   []string // ids from a static registry matched in DOM/stylesheets
	ExtensionMarkupWeight int
	MCPGlobalPresent      bool
	ClaudeRuntimePresent  bool

	CometResourceScriptOrLinkHit bool
	CometStylesheetHit           bool
	CometResourceProbeSuccess    bool // result of the 4-candidate race, if it ran

	NetworkResourceNames []string // performance.getEntriesByType('resource') names

	AutomationGlobalsPresent []string // names present on window, from the static list
	AutomationGlobalWeights  map[string]int
	CDCPropertyNamesPresent  []string // document own-property names matching ^(\$?cdc_|_cdc_|...)

	DOMMarkerHits   []string
	DOMMarkerWeight map[string]int

	CanvasDataURLLength int
	CanvasProbeErrored  bool

	WebGLVendor   string
	WebGLRenderer string
	WebGLMissing  bool

	Navigator NavigatorSnapshot
}

// NavigatorSnapshot is a structured, score-free snapshot for the report.
type NavigatorSnapshot struct {
	UserAgent           string   `json:"userAgent,omitempty"`
	Platform            string   `json:"platform,omitempty"`
	HardwareConcurrency int      `json:"hardwareConcurrency,omitempty"`
	DeviceMemory        int      `json:"deviceMemory,omitempty"`
	MaxTouchPoints      int      `json:"maxTouchPoints,omitempty"`
	Languages           []string `json:"languages,omitempty"`
	CookieEnabled       bool     `json:"cookieEnabled,omitempty"`
	DoNotTrack          string   `json:"doNotTrack,omitempty"`
	PluginCount         int      `json:"pluginCount,omitempty"`
}

// Group is a named sub-probe result.
type Group struct {
	Detected bool                   `json:"detected,omitempty"`
	Signals  []signal.AnomalySignal `json:"signals,omitempty"`
}

// Result is the Fingerprint Collector's output.
type Result struct {
	WebDriver         Group             `json:"webdriver"`
	Headless          Group             `json:"headless"`
	Extensions        Group             `json:"extensions"`
	CometExtension    Group             `json:"cometExtension"`
	PerplexityNetwork Group             `json:"perplexityNetwork"`
	Globals           Group             `json:"globals"`
	DOMMarkers        Group             `json:"domMarkers"`
	Canvas            Group             `json:"canvas"`
	WebGL             Group             `json:"webgl"`
	Navigator         NavigatorSnapshot `json:"navigator"`
	Score             int               `json:"score"`
}

// AllSignals flattens every scored group's signals, used by the Analyzer
// for agent-signal extraction.
func (r Result) AllSignals() []signal.AnomalySignal {
	var out []signal.AnomalySignal
	for _, g := range []Group{r.WebDriver, r.Headless, r.Extensions, r.CometExtension, r.PerplexityNetwork, r.Globals, r.DOMMarkers, r.Canvas, r.WebGL} {
		out = append(out, g.Signals...)
	}
	return out
}
