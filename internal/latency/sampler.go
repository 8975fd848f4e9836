package latency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/edgecheck/edgecheck/internal/fetch"
	"github.com/edgecheck/edgecheck/internal/logging"
	"github.com/edgecheck/edgecheck/pkg/types"
)

// DefaultCount is the number of samples taken when the caller asks for none.
const DefaultCount = 8

// Dependencies allow test overrides for transport, clock, pacing and logging.
type Dependencies struct {
	Fetcher *fetch.Client
	Logger  logrus.FieldLogger
	// Interval is the minimum gap between sample starts. Zero disables pacing.
	Interval time.Duration
	Now      func() time.Time
}

// Sampler measures round-trip time with strictly sequential requests, one in
// flight at a time, so samples do not contend for connections.
type Sampler struct {
	fetcher *fetch.Client
	logger  logrus.FieldLogger
	limit   rate.Limit
	now     func() time.Time
}

func NewSampler(deps Dependencies) *Sampler {
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewClient(fetch.Dependencies{})
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	limit := rate.Inf
	if deps.Interval > 0 {
		limit = rate.Every(deps.Interval)
	}
	return &Sampler{
		fetcher: fetcher,
		logger:  logger,
		limit:   limit,
		now:     now,
	}
}

// Measure issues count cache-busted GETs against targetURL and summarises the
// successful ones. Failed attempts are dropped. A cancelled context stops the
// run and returns what was gathered so far. Pacing applies per call, so
// concurrent runs sharing a Sampler do not slow each other down.
func (s *Sampler) Measure(ctx context.Context, targetURL string, count int) types.LatencySummary {
	if count <= 0 {
		count = DefaultCount
	}
	log := s.logger.WithField("target", targetURL)
	limiter := rate.NewLimiter(s.limit, 1)

	samples := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			log.WithError(err).Debug("sampling interrupted")
			break
		}
		rtt, err := s.sample(ctx, CacheBust(targetURL, s.now(), i))
		if err != nil {
			log.WithError(err).WithField("attempt", i).Debug("latency sample dropped")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		samples = append(samples, rtt)
	}

	summary := types.LatencySummary{
		Requested: count,
		Samples:   samples,
		Median:    MedianPtr(samples),
	}
	fields := logrus.Fields{"requested": count, "succeeded": len(samples)}
	if summary.Median != nil {
		fields["median_ms"] = *summary.Median
	}
	log.WithFields(fields).Info("latency measured")
	return summary
}

// sample times one request. Get drains the body before returning, so the
// elapsed time covers the complete transfer rather than header arrival.
func (s *Sampler) sample(ctx context.Context, url string) (float64, error) {
	start := time.Now()
	resp, err := s.fetcher.Get(ctx, url, fetch.AcceptJSON)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	if !resp.OK() {
		return 0, &fetch.HTTPError{URL: url, Status: resp.Status}
	}
	return float64(elapsed) / float64(time.Millisecond), nil
}

// CacheBust appends a ping_ts query parameter unique per attempt.
func CacheBust(targetURL string, now time.Time, attempt int) string {
	sep := "?"
	if strings.Contains(targetURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sping_ts=%d_%d", targetURL, sep, now.UnixMilli(), attempt)
}
