package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edgecheck/edgecheck/internal/clientgeo"
	"github.com/edgecheck/edgecheck/internal/edge"
	"github.com/edgecheck/edgecheck/internal/events"
	"github.com/edgecheck/edgecheck/internal/latency"
	"github.com/edgecheck/edgecheck/internal/logging"
	"github.com/edgecheck/edgecheck/internal/origin"
	"github.com/edgecheck/edgecheck/internal/validate"
	"github.com/edgecheck/edgecheck/pkg/types"
)

var (
	// ErrInvalidTransition is returned when a trigger is not allowed from the current state.
	ErrInvalidTransition = errors.New("session: invalid transition")
	// ErrBusy is returned while another trigger of the same session is in flight.
	ErrBusy = errors.New("session: run in progress")
	// ErrSuperseded is returned by a run whose session was reset before it finished.
	ErrSuperseded = errors.New("session: reset during run")
)

type Validator interface {
	Validate(ctx context.Context, originURL string) types.ValidationResult
	StatusURL(originURL string) (string, error)
}

type EdgeLocator interface {
	Locate(ctx context.Context, originURL string, catalog edge.Source) types.EdgeResult
}

type LatencySampler interface {
	Measure(ctx context.Context, targetURL string, count int) types.LatencySummary
}

type ClientLocator interface {
	Lookup(ctx context.Context) (types.ClientInfo, error)
}

// Dependencies wires the pipeline steps. Nil fields fall back to the
// default network implementations.
type Dependencies struct {
	ID          string
	Validator   Validator
	Locator     EdgeLocator
	Sampler     LatencySampler
	Client      ClientLocator
	Catalog     edge.Source
	SampleCount int
	Recorder    events.Recorder
	Logger      logrus.FieldLogger
	Now         func() time.Time
}

// Machine drives one diagnostic session through its states. Readers may call
// Session concurrently with a running trigger.
type Machine struct {
	id          string
	validator   Validator
	locator     EdgeLocator
	sampler     LatencySampler
	client      ClientLocator
	source      edge.Source
	sampleCount int
	recorder    events.Recorder
	logger      logrus.FieldLogger
	now         func() time.Time

	mu         sync.Mutex
	current    types.Session
	catalog    *edge.CachedSource
	busy       bool
	generation uint64
}

func New(deps Dependencies) *Machine {
	id := deps.ID
	if id == "" {
		id = uuid.NewString()
	}
	validator := deps.Validator
	if validator == nil {
		validator = validate.New(validate.Dependencies{})
	}
	locator := deps.Locator
	if locator == nil {
		locator = edge.NewLocator(edge.Dependencies{})
	}
	sampler := deps.Sampler
	if sampler == nil {
		sampler = latency.NewSampler(latency.Dependencies{})
	}
	client := deps.Client
	if client == nil {
		client = clientgeo.NewLocator(clientgeo.Dependencies{})
	}
	source := deps.Catalog
	if source == nil {
		source = edge.HTTPSource{}
	}
	count := deps.SampleCount
	if count <= 0 {
		count = latency.DefaultCount
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = events.NoopRecorder{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	m := &Machine{
		id:          id,
		validator:   validator,
		locator:     locator,
		sampler:     sampler,
		client:      client,
		source:      source,
		sampleCount: count,
		recorder:    recorder,
		logger:      logger.WithField("session", id),
		now:         now,
	}
	m.current = m.fresh()
	m.catalog = edge.NewCachedSource(source)
	m.emit(types.EventSessionCreated, m.current.State, nil)
	return m
}

func (m *Machine) ID() string {
	return m.id
}

// Busy reports whether a trigger is in flight.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

// Session returns a snapshot of the current value.
func (m *Machine) Session() types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.current)
}

// Reset discards the session and the cached catalog and returns a fresh idle
// session. A run still in flight finishes against the discarded value.
func (m *Machine) Reset() types.Session {
	m.mu.Lock()
	m.generation++
	m.busy = false
	m.current = m.fresh()
	m.catalog = edge.NewCachedSource(m.source)
	snapshot := clone(m.current)
	m.mu.Unlock()

	m.emit(types.EventSessionReset, snapshot.State, nil)
	return snapshot
}

// Validate runs stage 1 for input on a fresh session. An unreachable or
// non-Emby endpoint is reported through the stage1_invalid state, not an error.
func (m *Machine) Validate(ctx context.Context, input string) (types.Session, error) {
	normalized := origin.Normalize(input)

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return types.Session{}, ErrBusy
	}
	switch m.current.State {
	case types.StateStage1Pending, types.StateStage2Running:
		m.mu.Unlock()
		return types.Session{}, ErrInvalidTransition
	}
	pending := m.fresh()
	pending.Input = input
	pending.State = types.StateStage1Pending
	m.current = pending
	m.catalog = edge.NewCachedSource(m.source)
	m.busy = true
	gen := m.generation
	m.mu.Unlock()
	m.emit(types.EventStateChanged, pending.State, nil)

	result := m.validator.Validate(ctx, normalized)
	next := applyValidation(pending, normalized, result)

	snapshot, err := m.finish(gen, next)
	if err != nil {
		return snapshot, err
	}
	details := map[string]any{"outcome": string(result.Outcome)}
	if result.Status != 0 {
		details["status"] = result.Status
	}
	m.emit(types.EventValidated, snapshot.State, details)
	m.logger.WithFields(logrus.Fields{"origin": normalized, "outcome": result.Outcome}).Info("validation finished")
	return snapshot, nil
}

// Diagnose runs stage 2 against the validated origin. Sub-steps run in
// order and degrade into notices; the run always ends in stage2_complete.
func (m *Machine) Diagnose(ctx context.Context) (types.Session, error) {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return types.Session{}, ErrBusy
	}
	switch m.current.State {
	case types.StateStage1Valid, types.StateStage2Complete:
	default:
		m.mu.Unlock()
		return types.Session{}, ErrInvalidTransition
	}
	running := beginDiagnosis(clone(m.current))
	running.UpdatedAt = m.now()
	m.current = running
	m.busy = true
	gen := m.generation
	catalog := m.catalog
	m.mu.Unlock()
	m.emit(types.EventStateChanged, running.State, nil)

	s := m.diagnoseEdge(ctx, running, catalog)
	if err := m.checkpoint(gen, s); err != nil {
		return types.Session{}, err
	}

	s = m.diagnoseLatency(ctx, s)
	if err := m.checkpoint(gen, s); err != nil {
		return types.Session{}, err
	}

	s = m.diagnoseClient(ctx, s)
	s.State = types.StateStage2Complete
	snapshot, err := m.finish(gen, s)
	if err != nil {
		return snapshot, err
	}
	m.logger.WithFields(logrus.Fields{
		"colo":    snapshot.Colo,
		"samples": len(snapshot.LatencySamples),
		"verdict": snapshot.Verdict,
	}).Info("diagnosis finished")
	return snapshot, nil
}

func (m *Machine) diagnoseEdge(ctx context.Context, s types.Session, catalog edge.Source) types.Session {
	result := m.locator.Locate(ctx, s.Origin, catalog)
	s = applyEdge(s, result)
	switch {
	case result.TraceErr != nil:
		m.emit(types.EventTraceFailed, s.State, map[string]any{"error": result.TraceErr.Error()})
	default:
		if result.CatalogErr != nil {
			m.emit(types.EventCatalogUnavailable, s.State, map[string]any{"error": result.CatalogErr.Error()})
		}
		m.emit(types.EventColoResolved, s.State, map[string]any{
			"colo":       result.Colo,
			"label":      result.Label,
			"catalog_ok": result.Colo != "" && result.CatalogErr == nil,
		})
	}
	return s
}

func (m *Machine) diagnoseLatency(ctx context.Context, s types.Session) types.Session {
	target, err := m.validator.StatusURL(s.Origin)
	if err != nil {
		// The origin passed stage 1, so this only happens with a broken validator.
		s.Notices = append(s.Notices, notice(StageLatency, types.NoticeError, "cannot build latency target: %v", err))
		return s
	}
	summary := m.sampler.Measure(ctx, target, m.sampleCount)
	s = applyLatency(s, summary)
	details := map[string]any{"requested": summary.Requested, "samples": len(summary.Samples)}
	if s.LatencyMedian != nil {
		details["median_ms"] = *s.LatencyMedian
		details["verdict"] = string(s.Verdict)
	}
	m.emit(types.EventLatencyMeasured, s.State, details)
	return s
}

func (m *Machine) diagnoseClient(ctx context.Context, s types.Session) types.Session {
	info, err := m.client.Lookup(ctx)
	s = applyClient(s, info, err)
	if err != nil {
		m.emit(types.EventClientLookupFailed, s.State, map[string]any{"error": err.Error()})
		return s
	}
	details := map[string]any{"source": info.Source}
	if s.Network != nil && s.Network.ASN != nil {
		details["asn"] = *s.Network.ASN
	}
	if s.DistanceMeters != nil {
		details["distance_m"] = *s.DistanceMeters
	}
	m.emit(types.EventClientLocated, s.State, details)
	if s.RoutingWarning != nil {
		m.emit(types.EventRoutingWarning, s.State, map[string]any{
			"asn":         s.RoutingWarning.ASN,
			"distance_km": s.RoutingWarning.DistanceKm,
		})
	}
	return s
}

// checkpoint publishes an intermediate value of a running trigger.
func (m *Machine) checkpoint(gen uint64, s types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return ErrSuperseded
	}
	s.UpdatedAt = m.now()
	m.current = s
	return nil
}

// finish commits the final value of a trigger and releases the machine.
func (m *Machine) finish(gen uint64, s types.Session) (types.Session, error) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return types.Session{}, ErrSuperseded
	}
	s.UpdatedAt = m.now()
	m.current = s
	m.busy = false
	snapshot := clone(s)
	m.mu.Unlock()

	m.emit(types.EventStateChanged, snapshot.State, nil)
	return snapshot, nil
}

func (m *Machine) fresh() types.Session {
	now := m.now()
	return types.Session{
		ID:             m.id,
		State:          types.StateIdle,
		CreatedAt:      now,
		UpdatedAt:      now,
		LatencySamples: []float64{},
	}
}

func (m *Machine) emit(kind types.EventType, state types.State, details map[string]any) {
	m.recorder.Record(types.Event{
		Type:      kind,
		Timestamp: m.now(),
		SessionID: m.id,
		State:     state,
		Details:   details,
	})
}
