// Package injection implements the Injection Observer: it scores raw
// structural element descriptors reported by the browser's mutation
// observer and initial DOM scan against pattern registries and heuristics.
package injection

import "github.com/shortontech/gotrack/internal/detect/signal"

// Observation is a raw, DOM-reference-free structural descriptor of one
// element, reported by the browser sensor.
type Observation struct {
	Tag           string
	ID            string
	Class         string
	Src           string
	Href          string
	LeafText      string // non-empty only for leaf elements
	HasShadowRoot bool

	ComputedPosition string // "fixed", "absolute", "static", ...
	Width            float64
	Height           float64
	ZIndex           int

	MutatedAttribute string // set only for attribute-change mutations
	Source           signal.FindingSource
}

// Report is the Injection Observer's analyze() output.
type Report struct {
	Findings []signal.InjectionFinding `json:"findings"`
	Score    int                       `json:"score"`
}
