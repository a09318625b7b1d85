package httpx

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shortontech/gotrack/internal/detect/fingerprint"
	"github.com/shortontech/gotrack/internal/detect/injection"
	"github.com/shortontech/gotrack/internal/detect/orchestrator"
	"github.com/shortontech/gotrack/internal/detect/recorder"
	"github.com/shortontech/gotrack/internal/detect/report"
	"github.com/shortontech/gotrack/internal/detect/signal"
	"github.com/shortontech/gotrack/internal/event"
)

const detectMaxBodyBytes = 2 << 20 // 2MiB, generous for a batched telemetry post

// DetectEnv wires the detection endpoints to a session registry and the
// same event sink fan-out /collect uses.
type DetectEnv struct {
	Cfg      orchestrator.Config
	Registry *orchestrator.Registry
	Emit     func(event.Event)
	SensorJS []byte // the served GET /detect/sensor.js body
}

// Sensor serves the embedded browser sensor script.
func (d *DetectEnv) Sensor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/javascript")
	h.Set("Cache-Control", "public, max-age=3600")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(d.SensorJS)
}

// Report accepts a pre-built reporting RPC envelope and forwards it into
// the sink fan-out. A ConfigurationOmission (no session key configured, or
// a key mismatch) is accepted-and-discarded rather than rejected, so a
// verification failure never leaks the detection engine's presence.
func (d *DetectEnv) Report(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, detectMaxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	var rpc report.RPC
	if err := json.Unmarshal(body, &rpc); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if d.Cfg.SessionKey == "" || rpc.SessKey != d.Cfg.SessionKey {
		if d.Cfg.Debug {
			log.Printf("detect: report rejected, session key mismatch")
		}
	} else if d.Emit != nil {
		d.Emit(event.Event{Type: "detection_report", Detection: json.RawMessage(body)})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ingestRequest is the raw telemetry batch a page posts on each analysis
// tick: newly captured events, any injection observations, and the
// current unscored probe snapshot.
type ingestRequest struct {
	ContextID    string           `json:"contextId"`
	Init         bool             `json:"init"`
	PageURL      string           `json:"pageUrl"`
	PageTitle    string           `json:"pageTitle"`
	Events       []ingestEvent    `json:"events"`
	Observations []observationDTO `json:"observations"`
	Probe        probeDTO         `json:"probe"`
}

type targetDTO struct {
	Tag    string  `json:"tag"`
	ID     string  `json:"id"`
	Class  string  `json:"class"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	CX     float64 `json:"cx"`
	CY     float64 `json:"cy"`
}

func (t targetDTO) toTarget() recorder.TargetDescriptor {
	return recorder.TargetDescriptor{Tag: t.Tag, ID: t.ID, Class: t.Class, Width: t.Width, Height: t.Height, CX: t.CX, CY: t.CY}
}

// ingestEvent is a single normalized telemetry record. Type selects which
// Recorder ingest method applies; the remaining fields are a superset of
// what any one event kind needs.
type ingestEvent struct {
	Type        string     `json:"type"`
	TS          int64      `json:"ts"`
	X           float64    `json:"x"`
	Y           float64    `json:"y"`
	Key         string     `json:"key"`
	ScrollX     float64    `json:"scrollX"`
	ScrollY     float64    `json:"scrollY"`
	PointerType string     `json:"pointerType"`
	Target      *targetDTO `json:"target"`
}

func applyEvent(r *recorder.Recorder, ev ingestEvent) {
	switch ev.Type {
	case "mousemove":
		r.IngestMouseMove(ev.TS, ev.X, ev.Y)
	case "hover_over", "hover_out":
		typ := recorder.HoverOver
		if ev.Type == "hover_out" {
			typ = recorder.HoverOut
		}
		key := ""
		if ev.Target != nil {
			key = ev.Target.toTarget().Key()
		}
		r.IngestHover(key, ev.TS, typ)
	case "click":
		target := recorder.TargetDescriptor{}
		if ev.Target != nil {
			target = ev.Target.toTarget()
		}
		r.IngestClick(ev.TS, ev.X, ev.Y, target)
	case "mousedown":
		r.IngestMouseDown(ev.TS)
	case "mouseup":
		r.IngestMouseUp(ev.TS)
	case "keydown":
		r.IngestKeyDown(ev.TS, ev.Key)
	case "keyup":
		r.IngestKeyUp(ev.TS)
	case "scroll":
		r.IngestScroll(ev.TS, ev.ScrollX, ev.ScrollY)
	case "focusin", "focusout":
		phase := recorder.FocusIn
		if ev.Type == "focusout" {
			phase = recorder.FocusOut
		}
		target := recorder.TargetDescriptor{}
		if ev.Target != nil {
			target = ev.Target.toTarget()
		}
		r.IngestFocusChange(target, ev.TS, phase)
	case "pointerdown":
		r.IngestPointerEvent(recorder.PointerDown, ev.X, ev.Y, ev.TS, ev.PointerType)
	case "pointermove":
		r.IngestPointerEvent(recorder.PointerMove, ev.X, ev.Y, ev.TS, ev.PointerType)
	}
}

type observationDTO struct {
	Tag              string               `json:"tag"`
	ID               string               `json:"id"`
	Class            string               `json:"class"`
	Src              string               `json:"src"`
	Href             string               `json:"href"`
	LeafText         string               `json:"leafText"`
	HasShadowRoot    bool                 `json:"hasShadowRoot"`
	ComputedPosition string               `json:"computedPosition"`
	Width            float64              `json:"width"`
	Height           float64              `json:"height"`
	ZIndex           int                  `json:"zIndex"`
	MutatedAttribute string               `json:"mutatedAttribute"`
	Source           signal.FindingSource `json:"source"`
}

func (o observationDTO) toObservation() injection.Observation {
	return injection.Observation{
		Tag: o.Tag, ID: o.ID, Class: o.Class, Src: o.Src, Href: o.Href,
		LeafText: o.LeafText, HasShadowRoot: o.HasShadowRoot,
		ComputedPosition: o.ComputedPosition, Width: o.Width, Height: o.Height, ZIndex: o.ZIndex,
		MutatedAttribute: o.MutatedAttribute, Source: o.Source,
	}
}

type probeDTO struct {
	UserAgent string `json:"userAgent"`

	WebDriverNow            bool `json:"webDriverNow"`
	WebDriverAtLoad         bool `json:"webDriverAtLoad"`
	WebDriverGetterReplaced bool `json:"webDriverGetterReplaced"`

	PluginCount      int      `json:"pluginCount"`
	Languages        []string `json:"languages"`
	HasChromeGlobal  bool     `json:"hasChromeGlobal"`
	OuterWidth       int      `json:"outerWidth"`
	OuterHeight      int      `json:"outerHeight"`
	ScreenWidth      int      `json:"screenWidth"`
	ScreenHeight     int      `json:"screenHeight"`
	HasConnectionAPI bool     `json:"hasConnectionAPI"`

	ExtensionMarkupHits   []string `json:"extensionMarkupHits"`
	ExtensionMarkupWeight int      `json:"extensionMarkupWeight"`
	MCPGlobalPresent      bool     `json:"mcpGlobalPresent"`
	ClaudeRuntimePresent  bool     `json:"claudeRuntimePresent"`

	CometResourceScriptOrLinkHit bool `json:"cometResourceScriptOrLinkHit"`
	CometStylesheetHit           bool `json:"cometStylesheetHit"`
	CometResourceProbeSuccess    bool `json:"cometResourceProbeSuccess"`

	NetworkResourceNames []string `json:"networkResourceNames"`

	AutomationGlobalsPresent []string       `json:"automationGlobalsPresent"`
	AutomationGlobalWeights  map[string]int `json:"automationGlobalWeights"`
	CDCPropertyNamesPresent  []string       `json:"cdcPropertyNamesPresent"`

	DOMMarkerHits   []string       `json:"domMarkerHits"`
	DOMMarkerWeight map[string]int `json:"domMarkerWeight"`

	CanvasDataURLLength int  `json:"canvasDataURLLength"`
	CanvasProbeErrored  bool `json:"canvasProbeErrored"`

	WebGLVendor   string `json:"webglVendor"`
	WebGLRenderer string `json:"webglRenderer"`
	WebGLMissing  bool   `json:"webglMissing"`

	Navigator fingerprint.NavigatorSnapshot `json:"navigator"`
}

func (p probeDTO) toRawProbe() fingerprint.RawProbe {
	return fingerprint.RawProbe{
		UserAgent:                    p.UserAgent,
		WebDriverNow:                 p.WebDriverNow,
		WebDriverAtLoad:              p.WebDriverAtLoad,
		WebDriverGetterReplaced:      p.WebDriverGetterReplaced,
		PluginCount:                  p.PluginCount,
		Languages:                    p.Languages,
		HasChromeGlobal:              p.HasChromeGlobal,
		OuterWidth:                   p.OuterWidth,
		OuterHeight:                  p.OuterHeight,
		ScreenWidth:                  p.ScreenWidth,
		ScreenHeight:                 p.ScreenHeight,
		HasConnectionAPI:             p.HasConnectionAPI,
		ExtensionMarkupHits:          p.ExtensionMarkupHits,
		ExtensionMarkupWeight:        p.ExtensionMarkupWeight,
		MCPGlobalPresent:             p.MCPGlobalPresent,
		ClaudeRuntimePresent:         p.ClaudeRuntimePresent,
		CometResourceScriptOrLinkHit: p.CometResourceScriptOrLinkHit,
		CometStylesheetHit:           p.CometStylesheetHit,
		CometResourceProbeSuccess:    p.CometResourceProbeSuccess,
		NetworkResourceNames:         p.NetworkResourceNames,
		AutomationGlobalsPresent:     p.AutomationGlobalsPresent,
		AutomationGlobalWeights:      p.AutomationGlobalWeights,
		CDCPropertyNamesPresent:      p.CDCPropertyNamesPresent,
		DOMMarkerHits:                p.DOMMarkerHits,
		DOMMarkerWeight:              p.DOMMarkerWeight,
		CanvasDataURLLength:          p.CanvasDataURLLength,
		CanvasProbeErrored:           p.CanvasProbeErrored,
		WebGLVendor:                  p.WebGLVendor,
		WebGLRenderer:                p.WebGLRenderer,
		WebGLMissing:                 p.WebGLMissing,
		Navigator:                    p.Navigator,
	}
}

// Ingest applies a raw telemetry batch to the addressed session's Recorder
// and Injection Observer, then runs (and, past the score floor, ships) a
// fresh analysis, returning the combined result so a caller that wants
// synchronous feedback (tests, a debug console) can read it directly.
func (d *DetectEnv) Ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, detectMaxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ContextID == "" {
		http.Error(w, "missing contextId", http.StatusBadRequest)
		return
	}
	if d.Registry == nil {
		http.Error(w, "detection engine disabled", http.StatusServiceUnavailable)
		return
	}

	eng := d.Registry.Engine(req.ContextID)
	for _, ev := range req.Events {
		applyEvent(eng.Recorder(), ev)
	}
	for _, obs := range req.Observations {
		eng.Observer().Ingest(obs.toObservation())
	}

	now := time.Now()
	probe := req.Probe.toRawProbe()

	var combined report.Combined
	if req.Init {
		combined = eng.Init(orchestrator.InitOptions{
			ContextID: req.ContextID,
			RawProbe:  probe,
			PageURL:   req.PageURL,
			PageTitle: req.PageTitle,
		}, now)
	} else {
		combined = eng.CollectAndReport(orchestrator.CollectOptions{
			RawProbe:  probe,
			PageURL:   req.PageURL,
			PageTitle: req.PageTitle,
		}, now)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(combined)
}
