package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgecheck/edgecheck/internal/metrics"
	"github.com/edgecheck/edgecheck/internal/session"
	"github.com/edgecheck/edgecheck/pkg/types"
)

// ErrNotFound signals the absence of a session with the requested id.
var ErrNotFound = errors.New("session not found")

// Factory builds the machine for a newly registered session id.
type Factory func(id string) *session.Machine

// Dependencies allow test overrides for clock and telemetry.
type Dependencies struct {
	Factory  Factory
	TTL      time.Duration
	Now      func() time.Time
	Recorder metrics.SessionRecorder
}

// Registry keeps the diagnostic sessions of the HTTP API in memory. Nothing
// survives a restart.
type Registry struct {
	factory  Factory
	ttl      time.Duration
	now      func() time.Time
	recorder metrics.SessionRecorder

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	machine  *session.Machine
	lastUsed time.Time
}

func NewRegistry(deps Dependencies) *Registry {
	factory := deps.Factory
	if factory == nil {
		factory = func(id string) *session.Machine {
			return session.New(session.Dependencies{ID: id})
		}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = metrics.NoopSessionRecorder{}
	}
	return &Registry{
		factory:  factory,
		ttl:      deps.TTL,
		now:      now,
		recorder: recorder,
		entries:  map[string]*entry{},
	}
}

// Create registers a new idle session.
func (r *Registry) Create(ctx context.Context) (*session.Machine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	machine := r.factory(id)
	if machine == nil {
		return nil, fmt.Errorf("create session %s: factory returned nil", id)
	}

	r.mu.Lock()
	r.entries[id] = &entry{machine: machine, lastUsed: r.now()}
	count := len(r.entries)
	r.mu.Unlock()

	r.recorder.ObserveSessions(count)
	return machine, nil
}

// Get returns the session and marks it as used.
func (r *Registry) Get(ctx context.Context, id string) (*session.Machine, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastUsed = r.now()
	return e.machine, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	count := len(r.entries)
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	r.recorder.ObserveSessions(count)
	return nil
}

// List returns snapshots of all sessions, most recently created first.
func (r *Registry) List(ctx context.Context) []types.Session {
	r.mu.RLock()
	results := make([]types.Session, 0, len(r.entries))
	for _, e := range r.entries {
		results = append(results, e.machine.Session())
	}
	r.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sweep evicts idle sessions unused for longer than the TTL and returns how
// many were removed. Sessions with a trigger in flight are kept.
func (r *Registry) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	removed := 0
	for id, e := range r.entries {
		if now.Sub(e.lastUsed) <= r.ttl || e.machine.Busy() {
			continue
		}
		delete(r.entries, id)
		removed++
	}
	count := len(r.entries)
	r.mu.Unlock()

	if removed > 0 {
		r.recorder.IncSessionsExpired(removed)
		r.recorder.ObserveSessions(count)
	}
	return removed
}

// Run sweeps expired sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// ComputeETag returns a strong validator for the serialized session.
func ComputeETag(s types.Session) string {
	payload, _ := json.Marshal(s)
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("\"%s\"", hex.EncodeToString(sum[:]))
}
