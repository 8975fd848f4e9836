package health

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/edgecheck/edgecheck/internal/metrics"
	"github.com/edgecheck/edgecheck/pkg/types"
)

const defaultFailureWindow = 5 * time.Minute

const (
	categoryRunCapacity  = "RUN_CAPACITY"
	categoryCatalogError = "CATALOG_ERROR"
	categoryClientError  = "CLIENT_LOOKUP_ERROR"
)

const (
	severityWarning  = "warning"
	severityCritical = "critical"
)

// Checker evaluates readiness of the diagnostic service. Failures of the
// shared third-party lookups keep the service not-ready for failureWindow.
type Checker struct {
	metrics       *metrics.Store
	runCapacity   int
	failureWindow time.Duration

	mu               sync.RWMutex
	catalogErr       string
	lastCatalogError time.Time
	clientErr        string
	lastClientError  time.Time
}

// NewChecker constructs a readiness checker bound to the provided metrics store.
func NewChecker(store *metrics.Store, runCapacity int, failureWindow time.Duration) *Checker {
	if failureWindow <= 0 {
		failureWindow = defaultFailureWindow
	}
	return &Checker{
		metrics:       store,
		runCapacity:   runCapacity,
		failureWindow: failureWindow,
	}
}

// ObserveCatalog records the outcome of a locations catalog load.
func (c *Checker) ObserveCatalog(ts time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.catalogErr = err.Error()
		c.lastCatalogError = ts
		return
	}
	c.catalogErr = ""
	c.lastCatalogError = time.Time{}
}

// ObserveClientLookup records the outcome of a client meta lookup.
func (c *Checker) ObserveClientLookup(ts time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.clientErr = err.Error()
		c.lastClientError = ts
		return
	}
	c.clientErr = ""
	c.lastClientError = time.Time{}
}

// Record implements events.Recorder.
func (c *Checker) Record(event types.Event) {
	switch event.Type {
	case types.EventCatalogUnavailable:
		c.ObserveCatalog(event.Timestamp, detailError(event))
	case types.EventColoResolved:
		if ok, _ := event.Details["catalog_ok"].(bool); ok {
			c.ObserveCatalog(event.Timestamp, nil)
		}
	case types.EventClientLookupFailed:
		c.ObserveClientLookup(event.Timestamp, detailError(event))
	case types.EventClientLocated:
		c.ObserveClientLookup(event.Timestamp, nil)
	}
}

func detailError(event types.Event) error {
	if msg, ok := event.Details["error"].(string); ok && msg != "" {
		return errors.New(msg)
	}
	return fmt.Errorf("%s", strings.ToLower(string(event.Type)))
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 3)
	categories := make([]metrics.ReadinessCategory, 0, 3)
	appendCategory := func(name, severity string) {
		categories = append(categories, metrics.ReadinessCategory{
			Name:     name,
			Severity: severity,
		})
	}

	if c.metrics != nil && c.runCapacity > 0 {
		snap := c.metrics.Snapshot()
		if snap.RunsInFlight >= int64(c.runCapacity) {
			reasons = append(reasons, "run capacity exhausted")
			appendCategory(categoryRunCapacity, severityWarning)
		}
	}

	c.mu.RLock()
	catalogErr := c.catalogErr
	lastCatalogError := c.lastCatalogError
	clientErr := c.clientErr
	lastClientError := c.lastClientError
	window := c.failureWindow
	c.mu.RUnlock()

	if catalogErr != "" && now.Sub(lastCatalogError) <= window {
		reasons = append(reasons, fmt.Sprintf("catalog lookups failing: %s", catalogErr))
		appendCategory(categoryCatalogError, severityCritical)
	}
	if clientErr != "" && now.Sub(lastClientError) <= window {
		reasons = append(reasons, fmt.Sprintf("client lookups failing: %s", clientErr))
		appendCategory(categoryClientError, severityWarning)
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		reasonText := strings.Join(reasons, "; ")
		if ready {
			c.metrics.ObserveReadiness(true, "", nil)
		} else {
			c.metrics.ObserveReadiness(false, reasonText, categories)
		}
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}
