package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/edgecheck/edgecheck/pkg/types"
)

// Store maintains in-memory gauges and counters for diagnostic telemetry.
type Store struct {
	sessions         atomic.Int64
	sessionsExpired  atomic.Uint64
	runsInFlight     atomic.Int64
	runsRejected     atomic.Uint64
	latencySamples   atomic.Uint64
	lastMedianBits   atomic.Uint64
	readiness        atomic.Pointer[readinessVerdict]
	readinessChanges labeledCounter
	validations      labeledCounter
	verdicts         labeledCounter
	upstreamFailures labeledCounter
	routingWarnings  atomic.Uint64
	runsCompleted    atomic.Uint64
}

// readinessVerdict is the last answer of the health checker. Categories are
// only kept while not ready.
type readinessVerdict struct {
	ready      bool
	reason     string
	categories []ReadinessCategory
}

// ReadinessCategory captures a categorized readiness reason with severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	store := &Store{}
	store.lastMedianBits.Store(math.Float64bits(math.NaN()))
	return store
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	Sessions             int64
	SessionsExpiredTotal uint64
	RunsInFlight         int64
	RunsRejectedTotal    uint64
	RunsCompletedTotal   uint64
	LatencySamplesTotal  uint64
	LastMedianMs         float64
	Validations          map[string]uint64
	Verdicts             map[string]uint64
	UpstreamFailures     map[string]uint64
	RoutingWarningsTotal uint64
	Ready                bool
	ReadyReason          string
	ReadyCategories      []ReadinessCategory
	ReadinessChanges     map[string]uint64 // keyed by resulting state
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Sessions:             s.sessions.Load(),
		SessionsExpiredTotal: s.sessionsExpired.Load(),
		RunsInFlight:         s.runsInFlight.Load(),
		RunsRejectedTotal:    s.runsRejected.Load(),
		RunsCompletedTotal:   s.runsCompleted.Load(),
		LatencySamplesTotal:  s.latencySamples.Load(),
		LastMedianMs:         math.Float64frombits(s.lastMedianBits.Load()),
		Validations:          s.validations.snapshot(),
		Verdicts:             s.verdicts.snapshot(),
		UpstreamFailures:     s.upstreamFailures.snapshot(),
		RoutingWarningsTotal: s.routingWarnings.Load(),
		ReadinessChanges:     s.readinessChanges.snapshot(),
	}
	if v := s.readiness.Load(); v != nil {
		snap.Ready = v.ready
		snap.ReadyReason = v.reason
		snap.ReadyCategories = append([]ReadinessCategory(nil), v.categories...)
	}
	return snap
}

// RunRecorder returns an implementation of RunRecorder backed by the store.
func (s *Store) RunRecorder() RunRecorder {
	return runRecorder{store: s}
}

// SessionRecorder returns an implementation of SessionRecorder backed by the store.
func (s *Store) SessionRecorder() SessionRecorder {
	return sessionRecorder{store: s}
}

type runRecorder struct {
	store *Store
}

func (r runRecorder) RunStarted() {
	r.store.runsInFlight.Add(1)
}

func (r runRecorder) RunFinished() {
	r.store.runsInFlight.Add(-1)
}

func (r runRecorder) RunRejected() {
	r.store.runsRejected.Add(1)
}

type sessionRecorder struct {
	store *Store
}

func (r sessionRecorder) ObserveSessions(count int) {
	if count < 0 {
		count = 0
	}
	r.store.sessions.Store(int64(count))
}

func (r sessionRecorder) IncSessionsExpired(n int) {
	if n > 0 {
		r.store.sessionsExpired.Add(uint64(n))
	}
}

// Record implements events.Recorder and folds pipeline events into counters.
func (s *Store) Record(event types.Event) {
	switch event.Type {
	case types.EventValidated:
		outcome, _ := event.Details["outcome"].(string)
		s.validations.inc(outcome)
	case types.EventTraceFailed:
		s.upstreamFailures.inc("trace")
	case types.EventCatalogUnavailable:
		s.upstreamFailures.inc("catalog")
	case types.EventClientLookupFailed:
		s.upstreamFailures.inc("client")
	case types.EventLatencyMeasured:
		if n, ok := event.Details["samples"].(int); ok && n > 0 {
			s.latencySamples.Add(uint64(n))
		}
		if median, ok := event.Details["median_ms"].(float64); ok {
			s.lastMedianBits.Store(math.Float64bits(median))
		}
		verdict, _ := event.Details["verdict"].(string)
		s.verdicts.inc(verdict)
	case types.EventRoutingWarning:
		s.routingWarnings.Add(1)
	case types.EventStateChanged:
		if event.State == types.StateStage2Complete {
			s.runsCompleted.Add(1)
		}
	}
}

// ObserveReadiness stores the checker's latest verdict. The first verdict and
// every flip after it count as a change.
func (s *Store) ObserveReadiness(ready bool, reason string, categories []ReadinessCategory) {
	next := &readinessVerdict{ready: ready}
	if !ready {
		next.reason = reason
		next.categories = dedupeCategories(categories)
	}
	if prev := s.readiness.Swap(next); prev == nil || prev.ready != ready {
		state := "not_ready"
		if ready {
			state = "ready"
		}
		s.readinessChanges.inc(state)
	}
}

// labeledCounter is a set of counters keyed by a single label value.
type labeledCounter struct {
	values sync.Map // string -> *atomic.Uint64
}

func (c *labeledCounter) inc(label string) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "unknown"
	}
	if value, ok := c.values.Load(label); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, _ := c.values.LoadOrStore(label, counter)
	actual.(*atomic.Uint64).Add(1)
}

func (c *labeledCounter) snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	c.values.Range(func(key, value any) bool {
		out[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return out
}

func dedupeCategories(categories []ReadinessCategory) []ReadinessCategory {
	var out []ReadinessCategory
	seen := make(map[ReadinessCategory]bool, len(categories))
	for _, c := range categories {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		c.Severity = strings.ToLower(strings.TrimSpace(c.Severity))
		if c.Severity == "" {
			c.Severity = "unknown"
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	lines := []string{
		"# HELP edgecheck_sessions_number Number of diagnostic sessions currently registered.",
		"# TYPE edgecheck_sessions_number gauge",
		fmt.Sprintf("edgecheck_sessions_number %d", snap.Sessions),
		"# HELP edgecheck_sessions_expired_total Total sessions evicted after their TTL.",
		"# TYPE edgecheck_sessions_expired_total counter",
		fmt.Sprintf("edgecheck_sessions_expired_total %d", snap.SessionsExpiredTotal),
		"# HELP edgecheck_runs_in_flight_number Diagnostic runs currently executing.",
		"# TYPE edgecheck_runs_in_flight_number gauge",
		fmt.Sprintf("edgecheck_runs_in_flight_number %d", snap.RunsInFlight),
		"# HELP edgecheck_runs_rejected_total Runs rejected because the concurrency limit was reached.",
		"# TYPE edgecheck_runs_rejected_total counter",
		fmt.Sprintf("edgecheck_runs_rejected_total %d", snap.RunsRejectedTotal),
		"# HELP edgecheck_runs_completed_total Stage-2 runs that reached stage2_complete.",
		"# TYPE edgecheck_runs_completed_total counter",
		fmt.Sprintf("edgecheck_runs_completed_total %d", snap.RunsCompletedTotal),
		"# HELP edgecheck_latency_samples_total Successful latency samples recorded.",
		"# TYPE edgecheck_latency_samples_total counter",
		fmt.Sprintf("edgecheck_latency_samples_total %d", snap.LatencySamplesTotal),
		"# HELP edgecheck_latency_last_median_ms Median of the most recent latency run.",
		"# TYPE edgecheck_latency_last_median_ms gauge",
		fmt.Sprintf("edgecheck_latency_last_median_ms %s", formatFloat(snap.LastMedianMs)),
		"# HELP edgecheck_routing_warnings_total Long-path routing warnings raised.",
		"# TYPE edgecheck_routing_warnings_total counter",
		fmt.Sprintf("edgecheck_routing_warnings_total %d", snap.RoutingWarningsTotal),
	}
	lines = appendLabeled(lines, "edgecheck_validations_total", "Stage-1 validations by outcome.", "outcome", snap.Validations)
	lines = appendLabeled(lines, "edgecheck_verdicts_total", "Latency verdicts by class.", "verdict", snap.Verdicts)
	lines = appendLabeled(lines, "edgecheck_upstream_failures_total", "Degraded stage-2 lookups by step.", "step", snap.UpstreamFailures)
	lines = appendLabeled(lines, "edgecheck_readiness_changes_total", "Readiness verdict flips by resulting state.", "state", snap.ReadinessChanges)
	lines = append(lines,
		"# HELP edgecheck_ready Latest readiness verdict (1=ready), labeled with its reason.",
		"# TYPE edgecheck_ready gauge",
		readyLine(snap),
		"# HELP edgecheck_ready_categories_info Failing readiness conditions by severity.",
		"# TYPE edgecheck_ready_categories_info gauge",
	)
	cats := snap.ReadyCategories
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	for _, cat := range cats {
		lines = append(lines, fmt.Sprintf("edgecheck_ready_categories_info{category=%q,severity=%q} 1", cat.Name, cat.Severity))
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func readyLine(snap Snapshot) string {
	if snap.Ready {
		return `edgecheck_ready{reason="ready"} 1`
	}
	reason := snap.ReadyReason
	if reason == "" {
		reason = "unknown"
	}
	return fmt.Sprintf("edgecheck_ready{reason=%q} 0", reason)
}

func appendLabeled(lines []string, name, help, label string, values map[string]uint64) []string {
	lines = append(lines,
		fmt.Sprintf("# HELP %s %s", name, help),
		fmt.Sprintf("# TYPE %s counter", name),
	)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s{%s=%q} %d", name, label, k, values[k]))
	}
	return lines
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
