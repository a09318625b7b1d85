// Package report defines the wire payload shapes the Orchestrator ships to
// the backend: the reporting RPC envelope (sesskey/contextid/sessionid/
// signaltype/signaldata) and the combined-report JSON body it carries.
package report

import (
	"encoding/json"
	"sort"

	"github.com/shortontech/gotrack/internal/detect/analyzer"
	"github.com/shortontech/gotrack/internal/detect/fingerprint"
	"github.com/shortontech/gotrack/internal/detect/injection"
	"github.com/shortontech/gotrack/internal/detect/signal"
)

// SignalType enumerates the reporting RPC's signaltype field.
type SignalType string

const (
	SignalFingerprint SignalType = "fingerprint"
	SignalCombined    SignalType = "combined"
	SignalUnload       SignalType = "unload"
)

// RPC is the outbound reporting RPC / beacon envelope. SignalData carries
// the JSON-stringified payload, not a nested object, matching the wire
// contract the backend expects.
type RPC struct {
	SessKey    string     `json:"sesskey"`
	ContextID  string     `json:"contextid"`
	SessionID  string     `json:"sessionid"`
	SignalType SignalType `json:"signaltype"`
	SignalData string     `json:"signaldata"`
}

// InteractionSection is the Analyzer's contribution to a combined report.
type InteractionSection struct {
	EventCounts analyzer.EventCounts   `json:"eventCounts"`
	Anomalies   []signal.AnomalySignal `json:"anomalies"`
	Score       int                    `json:"score"`
}

// InjectionSignalGroup is one (type,name) group of injection findings,
// summarized for the wire.
type InjectionSignalGroup struct {
	Name      string   `json:"name"`
	Count     int      `json:"count"`
	MaxWeight int      `json:"maxWeight"`
	Examples  []string `json:"examples,omitempty"`
}

// InjectionSection is the Injection Observer's contribution.
type InjectionSection struct {
	DetectionCounts int                    `json:"detectionCounts"`
	Signals         []InjectionSignalGroup `json:"signals"`
	Score           int                    `json:"score"`
}

// CometSection is the agent-category extraction's contribution.
type CometSection struct {
	Detected    bool                    `json:"detected"`
	SignalCount int                     `json:"signalCount"`
	Signals     []signal.AnomalySignal  `json:"signals"`
	Score       int                     `json:"score"`
}

// Combined is the full combined-report body, serialized into RPC.SignalData.
type Combined struct {
	SessionID     string              `json:"sessionId"`
	Timestamp     int64               `json:"timestamp"`
	PageURL       string              `json:"pageUrl"`
	PageTitle     string              `json:"pageTitle"`
	Fingerprint   fingerprint.Result  `json:"fingerprint"`
	Interaction   InteractionSection  `json:"interaction"`
	Injection     InjectionSection    `json:"injection"`
	Comet         CometSection        `json:"comet"`
	CombinedScore int                 `json:"combinedScore"`
	Verdict       string              `json:"verdict"`
	DetectedAgent *string             `json:"detectedAgent"`
}

// BuildInjectionSection groups raw InjectionFindings by name into the wire
// shape, capping examples at 3 per group to keep payloads bounded.
func BuildInjectionSection(rep injection.Report) InjectionSection {
	type agg struct {
		maxWeight int
		count     int
		examples  []string
	}
	groups := map[string]*agg{}
	var order []string
	for _, f := range rep.Findings {
		g, ok := groups[f.Name]
		if !ok {
			g = &agg{}
			groups[f.Name] = g
			order = append(order, f.Name)
		}
		if f.Weight > g.maxWeight {
			g.maxWeight = f.Weight
		}
		g.count++
		if len(g.examples) < 3 {
			example := f.Attribute
			if example == "" {
				example = f.Text
			}
			if example == "" {
				example = f.Value
			}
			if example != "" {
				g.examples = append(g.examples, example)
			}
		}
	}
	sort.Strings(order)

	out := InjectionSection{DetectionCounts: len(rep.Findings), Score: rep.Score}
	for _, name := range order {
		g := groups[name]
		out.Signals = append(out.Signals, InjectionSignalGroup{
			Name: name, Count: g.count, MaxWeight: g.maxWeight, Examples: g.examples,
		})
	}
	return out
}

// BuildCometSection wraps an analyzer.AgentResult into the wire shape.
func BuildCometSection(agent analyzer.AgentResult) CometSection {
	return CometSection{
		Detected:    len(agent.Signals) > 0,
		SignalCount: len(agent.Signals),
		Signals:     agent.Signals,
		Score:       agent.Score,
	}
}

// Marshal JSON-stringifies v for use as RPC.SignalData. Errors are
// swallowed per the engine's propagation policy; a failed marshal yields
// an empty signaldata, never a thrown error.
func Marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
