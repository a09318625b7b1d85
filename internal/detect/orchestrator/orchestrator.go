package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shortontech/gotrack/internal/detect/analyzer"
	"github.com/shortontech/gotrack/internal/detect/fingerprint"
	"github.com/shortontech/gotrack/internal/detect/injection"
	"github.com/shortontech/gotrack/internal/detect/recorder"
	"github.com/shortontech/gotrack/internal/detect/report"
	"github.com/shortontech/gotrack/internal/detect/session"
)

// Engine composes the Event Recorder, Fingerprint Collector, Injection
// Observer, and Analyzer for one tab-scoped detection session, and derives
// the combined score and verdict for that session.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	store session.Store
	emit  func(report.RPC)

	recorder      *recorder.Recorder
	observer      *injection.Observer
	analyzerCache analyzer.Cache

	contextID   string
	sessionID   string
	initialized bool
	lastSeen    time.Time
}

// New builds an idle Engine. Init must be called before any ingest/collect
// method is used.
func New(store session.Store, cfg Config, emit func(report.RPC)) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		emit:     emit,
		recorder: recorder.New(store),
		observer: injection.NewObserver(),
	}
}

// Recorder exposes the Event Recorder so the HTTP layer can forward
// individual ingest calls (mousemove, click, keydown, ...) directly.
func (e *Engine) Recorder() *recorder.Recorder { return e.recorder }

// Observer exposes the Injection Observer for the same reason.
func (e *Engine) Observer() *injection.Observer { return e.observer }

// LastSeen reports when the engine last processed a request, for the
// Registry's idle reaper.
func (e *Engine) LastSeen() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}

func (e *Engine) touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}

// Init starts monitoring, restores or creates the session, ingests any
// initial injection observations from the page's first DOM scan, and
// collects the first fingerprint probe. It emits an immediate
// fingerprint-only report if that probe's score already clears
// minReportScore. Init is idempotent: a second call is a no-op.
func (e *Engine) Init(opts InitOptions, now time.Time) report.Combined {
	e.mu.Lock()
	if !e.cfg.Enabled {
		e.mu.Unlock()
		return report.Combined{}
	}
	if e.initialized {
		e.mu.Unlock()
		return report.Combined{}
	}
	e.initialized = true
	e.contextID = opts.ContextID
	e.mu.Unlock()

	sess := session.Restore(e.store, now)
	sess.Touch(e.store)
	e.mu.Lock()
	e.sessionID = sess.ID
	e.mu.Unlock()

	e.recorder.StartMonitoring(opts.ContextID, now)
	e.observer.StartMonitoring(e.cfg.Debug)
	if len(opts.Observations) > 0 {
		e.observer.Ingest(opts.Observations...)
	}
	e.touch(now)

	fp := fingerprint.Collect(opts.RawProbe, e.store)
	if fp.Score < e.cfg.MinReportScore {
		return report.Combined{}
	}

	combined := report.Combined{
		SessionID:   sess.ID,
		Timestamp:   now.UnixMilli(),
		PageURL:     opts.PageURL,
		PageTitle:   opts.PageTitle,
		Fingerprint: fp,
		Verdict:     string(VerdictForScore(fp.Score)),
	}
	e.ship(report.SignalFingerprint, combined)
	return combined
}

// CollectAndReport re-collects the fingerprint, re-analyzes the current
// interaction and injection state, derives the combined score and
// verdict, ships a combined report if it clears minReportScore, and
// always returns the full result.
func (e *Engine) CollectAndReport(opts CollectOptions, now time.Time) report.Combined {
	e.mu.Lock()
	enabled := e.cfg.Enabled
	minScore := e.cfg.MinReportScore
	sessionID := e.sessionID
	e.mu.Unlock()
	if !enabled {
		return report.Combined{}
	}
	e.touch(now)

	fp := fingerprint.Collect(opts.RawProbe, e.store)
	state := e.recorder.RawState()
	interaction := e.analyzerCache.Get(state)
	inj := e.observer.Analyze()

	agentSignals := analyzer.ExtractAgentSignals(interaction.Anomalies, fp, inj)
	agentResult := analyzer.AgentResult{Signals: agentSignals, Score: analyzer.AgentScore(agentSignals)}

	combinedScore := combine(interaction.Score, inj.Score, fp.Score, agentResult.Score)
	verdict := VerdictForScore(combinedScore)

	var detected *string
	if len(agentSignals) > 0 {
		name := DetectedAgentName
		detected = &name
	}

	combined := report.Combined{
		SessionID:     sessionID,
		Timestamp:     now.UnixMilli(),
		PageURL:       opts.PageURL,
		PageTitle:     opts.PageTitle,
		Fingerprint:   fp,
		Interaction:   report.InteractionSection{EventCounts: interaction.EventCounts, Anomalies: interaction.Anomalies, Score: interaction.Score},
		Injection:     report.BuildInjectionSection(inj),
		Comet:         report.BuildCometSection(agentResult),
		CombinedScore: combinedScore,
		Verdict:       string(verdict),
		DetectedAgent: detected,
	}

	if combinedScore >= minScore {
		e.ship(report.SignalCombined, combined)
	}
	return combined
}

// RunAnalysis is CollectAndReport's read-only sibling: it computes and
// returns the same result but never ships a report, for callers that want
// the current verdict without triggering a beacon.
func (e *Engine) RunAnalysis(opts CollectOptions, now time.Time) report.Combined {
	e.mu.Lock()
	sessionID := e.sessionID
	e.mu.Unlock()
	e.touch(now)

	fp := fingerprint.Collect(opts.RawProbe, e.store)
	state := e.recorder.RawState()
	interaction := e.analyzerCache.Get(state)
	inj := e.observer.Analyze()

	agentSignals := analyzer.ExtractAgentSignals(interaction.Anomalies, fp, inj)
	agentResult := analyzer.AgentResult{Signals: agentSignals, Score: analyzer.AgentScore(agentSignals)}
	combinedScore := combine(interaction.Score, inj.Score, fp.Score, agentResult.Score)

	var detected *string
	if len(agentSignals) > 0 {
		name := DetectedAgentName
		detected = &name
	}

	return report.Combined{
		SessionID:     sessionID,
		Timestamp:     now.UnixMilli(),
		PageURL:       opts.PageURL,
		PageTitle:     opts.PageTitle,
		Fingerprint:   fp,
		Interaction:   report.InteractionSection{EventCounts: interaction.EventCounts, Anomalies: interaction.Anomalies, Score: interaction.Score},
		Injection:     report.BuildInjectionSection(inj),
		Comet:         report.BuildCometSection(agentResult),
		CombinedScore: combinedScore,
		Verdict:       string(VerdictForScore(combinedScore)),
		DetectedAgent: detected,
	}
}

// Unload flushes a final forced snapshot and ships an unload signal.
func (e *Engine) Unload(now time.Time) {
	e.recorder.SaveSnapshot(now, true)
	e.mu.Lock()
	sessionID := e.sessionID
	e.mu.Unlock()
	e.ship(report.SignalUnload, report.Combined{SessionID: sessionID, Timestamp: now.UnixMilli()})
}

// Shutdown stops monitoring on both stateful components. The Engine may
// be Init'd again afterward, starting a fresh in-memory window (the
// persistent snapshot in the store is untouched).
func (e *Engine) Shutdown() {
	e.recorder.StopMonitoring()
	e.observer.StopMonitoring()
	e.mu.Lock()
	e.initialized = false
	e.mu.Unlock()
}

// ship builds the reporting RPC envelope and hands it to the configured
// emit function. Per the missing-sessionKey configuration rule, a report
// is silently dropped (not sent, not queued) rather than shipped without
// authentication.
func (e *Engine) ship(t report.SignalType, payload report.Combined) {
	e.mu.Lock()
	sessKey := e.cfg.SessionKey
	contextID := e.contextID
	sessionID := e.sessionID
	debug := e.cfg.Debug
	emit := e.emit
	e.mu.Unlock()

	if sessKey == "" {
		if debug {
			log.Printf("detect: report suppressed, no session key configured")
		}
		return
	}
	if emit == nil {
		return
	}
	emit(report.RPC{
		SessKey:    sessKey,
		ContextID:  contextID,
		SessionID:  sessionID,
		SignalType: t,
		SignalData: report.Marshal(payload),
	})
}

// combine composes the interaction sub-score as a base, with additive
// bumps from the injection, fingerprint, and agent-category sub-scores,
// saturating at 100.
func combine(interactionScore, injectionScore, fingerprintScore, agentScore int) int {
	score := interactionScore

	switch {
	case injectionScore >= 50:
		score += 25
	case injectionScore >= 25:
		score += 15
	case injectionScore >= 10:
		score += 5
	}

	switch {
	case fingerprintScore >= 70:
		score += 30
	case fingerprintScore >= 40:
		score += 15
	case fingerprintScore >= 20:
		score += 5
	}

	switch {
	case agentScore >= 70:
		if score < 80 {
			score = 80
		}
		score += 10
	case agentScore >= 40:
		score += 15
	case agentScore >= 20:
		score += 5
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Registry owns one Engine per tab context, scoping each to its own
// namespaced view of the shared session.Store, and reaps engines that
// have gone quiet past an idle timeout. The reaper goroutine follows the
// ctx.Done()/ticker select pattern the Kafka sink uses for its delivery
// report loop.
type Registry struct {
	mu          sync.Mutex
	baseStore   session.Store
	cfg         Config
	emit        func(report.RPC)
	idleTimeout time.Duration
	engines     map[string]*Engine
}

func NewRegistry(baseStore session.Store, cfg Config, emit func(report.RPC), idleTimeout time.Duration) *Registry {
	return &Registry{
		baseStore:   baseStore,
		cfg:         cfg,
		emit:        emit,
		idleTimeout: idleTimeout,
		engines:     make(map[string]*Engine),
	}
}

// Engine returns the engine for contextID, creating one on first use.
func (reg *Registry) Engine(contextID string) *Engine {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.engines[contextID]
	if !ok {
		e = New(session.Namespaced(reg.baseStore, contextID), reg.cfg, reg.emit)
		reg.engines[contextID] = e
	}
	return e
}

// Reap shuts down and drops every engine whose last activity is older
// than the registry's idle timeout.
func (reg *Registry) Reap(now time.Time) {
	reg.mu.Lock()
	stale := make([]string, 0)
	for id, e := range reg.engines {
		if now.Sub(e.LastSeen()) > reg.idleTimeout {
			stale = append(stale, id)
		}
	}
	reg.mu.Unlock()

	for _, id := range stale {
		reg.mu.Lock()
		e := reg.engines[id]
		delete(reg.engines, id)
		reg.mu.Unlock()
		if e != nil {
			e.Shutdown()
		}
	}
}

// StartReaper runs Reap on a fixed interval until ctx is cancelled.
func (reg *Registry) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				reg.Reap(now)
			}
		}
	}()
}

// Shutdown stops every engine currently tracked by the registry.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	engines := make([]*Engine, 0, len(reg.engines))
	for _, e := range reg.engines {
		engines = append(engines, e)
	}
	reg.engines = make(map[string]*Engine)
	reg.mu.Unlock()

	for _, e := range engines {
		e.Shutdown()
	}
}
