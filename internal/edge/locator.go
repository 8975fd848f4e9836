package edge

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/edgecheck/edgecheck/internal/fetch"
	"github.com/edgecheck/edgecheck/internal/logging"
	"github.com/edgecheck/edgecheck/internal/origin"
	"github.com/edgecheck/edgecheck/pkg/types"
)

// Dependencies allow test overrides for transport and logging.
type Dependencies struct {
	Fetcher   *fetch.Client
	Logger    logrus.FieldLogger
	TracePath string
}

// Locator discovers the colo serving the client and resolves it against a catalog.
type Locator struct {
	fetcher   *fetch.Client
	logger    logrus.FieldLogger
	tracePath string
}

func NewLocator(deps Dependencies) *Locator {
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewClient(fetch.Dependencies{})
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	tracePath := deps.TracePath
	if tracePath == "" {
		tracePath = DefaultTracePath
	}
	return &Locator{fetcher: fetcher, logger: logger, tracePath: tracePath}
}

// Trace fetches and parses the trace endpoint on the authority of originURL.
func (l *Locator) Trace(ctx context.Context, originURL string) (Trace, error) {
	target, err := origin.Join(originURL, l.tracePath)
	if err != nil {
		return Trace{}, err
	}
	resp, err := l.fetcher.GetOK(ctx, target, fetch.AcceptText)
	if err != nil {
		return Trace{}, fmt.Errorf("trace %s: %w", target, err)
	}
	return ParseTrace(string(resp.Body)), nil
}

// Locate runs the trace step followed by catalog resolution. Both steps
// degrade: a trace failure is reported in TraceErr, a catalog failure in
// CatalogErr, and the label falls back to the raw colo code.
func (l *Locator) Locate(ctx context.Context, originURL string, catalog Source) types.EdgeResult {
	log := l.logger.WithField("origin", originURL)

	trace, err := l.Trace(ctx, originURL)
	if err != nil {
		log.WithError(err).Warn("trace lookup failed")
		return types.EdgeResult{TraceErr: err}
	}

	result := types.EdgeResult{Colo: trace.Colo, HostHint: trace.Host, Label: trace.Colo}
	if trace.Colo == "" {
		log.Warn("trace response carried no colo")
		return result
	}
	if catalog == nil {
		return result
	}

	cat, err := catalog.Load(ctx)
	if err != nil {
		log.WithError(err).Warn("locations catalog unavailable")
		result.CatalogErr = err
		return result
	}
	return Resolve(result, cat)
}

// Resolve fills label and location of result from catalog.
func Resolve(result types.EdgeResult, catalog *Catalog) types.EdgeResult {
	entry, ok := catalog.Lookup(result.Colo)
	if !ok {
		return result
	}
	if label := entry.Label(); label != "" {
		result.Label = label
	}
	if loc, ok := entry.Location(); ok {
		result.Location = &loc
	}
	return result
}
