// Package orchestrator implements the Orchestrator: it owns a detection
// session's identity and configuration, composes the Event Recorder,
// Fingerprint Collector, Injection Observer, and Analyzer, and produces
// the combined score, verdict, and outbound reports.
package orchestrator

import (
	"github.com/shortontech/gotrack/internal/detect/fingerprint"
	"github.com/shortontech/gotrack/internal/detect/injection"
)

// Config holds the engine's runtime configuration.
type Config struct {
	Enabled         bool
	ReportInterval  int64 // ms, informational: the browser sensor owns the timer
	MinReportScore  int
	SessionKey      string
	Debug           bool
}

// DefaultConfig returns the engine's out-of-the-box configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		ReportInterval: 30000,
		MinReportScore: 10,
	}
}

// Verdict is one of the five fixed buckets the combined score maps to.
type Verdict string

const (
	VerdictLikelyHuman        Verdict = "LIKELY_HUMAN"
	VerdictLowSuspicion       Verdict = "LOW_SUSPICION"
	VerdictSuspicious         Verdict = "SUSPICIOUS"
	VerdictProbableAgent      Verdict = "PROBABLE_AGENT"
	VerdictHighConfidenceAgent Verdict = "HIGH_CONFIDENCE_AGENT"
)

// VerdictForScore applies the fixed closed-interval thresholds.
func VerdictForScore(score int) Verdict {
	switch {
	case score >= 80:
		return VerdictHighConfidenceAgent
	case score >= 60:
		return VerdictProbableAgent
	case score >= 40:
		return VerdictSuspicious
	case score >= 20:
		return VerdictLowSuspicion
	default:
		return VerdictLikelyHuman
	}
}

// DetectedAgentName is the agent identity string reported once any agent
// signal is present.
const DetectedAgentName = "comet_agentic"

// InitOptions carries everything Init needs beyond the Engine's own
// config: the browser-sensor-reported context id and the first raw
// fingerprint probe (collected synchronously on page load).
type InitOptions struct {
	ContextID   string
	RawProbe    fingerprint.RawProbe
	PageURL     string
	PageTitle   string
	Observations []injection.Observation
}

// CollectOptions carries the inputs collectAndReport/runAnalysis need on
// each call: a fresh raw probe and page metadata. Event/observation
// ingestion happens separately through Engine.Recorder() /
// Engine.Observer() as the browser sensor reports batches.
type CollectOptions struct {
	RawProbe  fingerprint.RawProbe
	PageURL   string
	PageTitle string
}
