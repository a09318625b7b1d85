package injection

import "sync"

// observationCap bounds the accumulated observation buffer so a
// long-lived page cannot grow it unboundedly, mirroring the same cap
// used for the recorder's own per-event-type stores.
const observationCap = 500

// Observer accumulates structural observations reported by the browser's
// mutation observer and initial DOM scan, and re-scores them on demand.
// It is the stateful counterpart to the pure Analyze function, exposing
// a startMonitoring/stopMonitoring/analyze contract.
type Observer struct {
	mu      sync.Mutex
	started bool
	debug   bool

	observations []Observation
}

func NewObserver() *Observer {
	return &Observer{}
}

// StartMonitoring is idempotent.
func (o *Observer) StartMonitoring(debug bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true
	o.debug = debug
}

// StopMonitoring is idempotent.
func (o *Observer) StopMonitoring() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = false
}

// Ingest records observations from the initial scan or a later mutation
// batch. A MutationFailure on one observation (malformed input) never
// stops ingestion of the rest; callers are expected to have already
// normalized entries before calling Ingest.
func (o *Observer) Ingest(obs ...Observation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observations = append(o.observations, obs...)
	if len(o.observations) > observationCap {
		o.observations = o.observations[len(o.observations)-observationCap:]
	}
}

// Analyze scores the accumulated observations. Stateless Analyze is used
// internally so the scoring rules live in exactly one place.
func (o *Observer) Analyze() Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Analyze(o.observations)
}

// Debug reports whether the observer was started with diagnostics on.
func (o *Observer) Debug() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.debug
}
