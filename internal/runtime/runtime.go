package runtime

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgecheck/edgecheck/internal/clientgeo"
	"github.com/edgecheck/edgecheck/internal/config"
	"github.com/edgecheck/edgecheck/internal/edge"
	"github.com/edgecheck/edgecheck/internal/events"
	"github.com/edgecheck/edgecheck/internal/fetch"
	"github.com/edgecheck/edgecheck/internal/latency"
	"github.com/edgecheck/edgecheck/internal/logging"
	"github.com/edgecheck/edgecheck/internal/session"
	"github.com/edgecheck/edgecheck/internal/validate"
	"github.com/edgecheck/edgecheck/internal/verify"
)

type Option func(*options)

type options struct {
	logger     logrus.FieldLogger
	recorder   events.Recorder
	httpClient *http.Client
	resolver   clientgeo.IPResolver
	now        func() time.Time
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder adds a recorder next to the log recorder every session gets.
func WithRecorder(recorder events.Recorder) Option {
	return func(o *options) {
		o.recorder = recorder
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithResolver replaces the STUN resolver used by the GeoLite fallback.
func WithResolver(resolver clientgeo.IPResolver) Option {
	return func(o *options) {
		o.resolver = resolver
	}
}

func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Runtime holds the pipeline components built from a configuration. They are
// shared by every session it creates.
type Runtime struct {
	cfg       config.Config
	logger    logrus.FieldLogger
	recorder  events.Recorder
	now       func() time.Time
	validator *validate.Validator
	locator   *edge.Locator
	sampler   *latency.Sampler
	client    *clientgeo.Locator
	catalog   edge.Source
	geolite   *clientgeo.GeoLite
}

func New(cfg config.Config, opts ...Option) (*Runtime, error) {
	o := options{
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fetcher := fetch.NewClient(fetch.Dependencies{
		HTTPClient: o.httpClient,
		Logger:     o.logger,
		UserAgent:  cfg.Diagnostic.UserAgent,
		Timeout:    cfg.Diagnostic.RequestTimeout,
	})

	catalog, err := catalogSource(cfg.Catalog, cfg.Endpoints.LocationsURL, fetcher)
	if err != nil {
		return nil, err
	}

	geolite, err := clientgeo.OpenGeoLite(cfg.GeoIP.ASNDatabase, cfg.GeoIP.CityDatabase)
	if err != nil {
		return nil, err
	}
	clientDeps := clientgeo.Dependencies{
		Fetcher: fetcher,
		Logger:  o.logger,
		MetaURL: cfg.Endpoints.MetaURL,
	}
	if geolite != nil {
		clientDeps.Database = geolite
		clientDeps.Resolver = o.resolver
		if clientDeps.Resolver == nil {
			clientDeps.Resolver = clientgeo.STUNResolver{
				Servers: cfg.GeoIP.STUNServers,
				Timeout: cfg.GeoIP.STUNTimeout,
			}
		}
	}

	recorder := events.Recorder(events.LogRecorder{Logger: o.logger})
	if o.recorder != nil {
		recorder = events.NewMulti(recorder, o.recorder)
	}

	return &Runtime{
		cfg:      cfg,
		logger:   o.logger,
		recorder: recorder,
		now:      o.now,
		validator: validate.New(validate.Dependencies{
			Fetcher:    fetcher,
			Logger:     o.logger,
			StatusPath: cfg.Endpoints.StatusPath,
		}),
		locator: edge.NewLocator(edge.Dependencies{
			Fetcher:   fetcher,
			Logger:    o.logger,
			TracePath: cfg.Endpoints.TracePath,
		}),
		sampler: latency.NewSampler(latency.Dependencies{
			Fetcher:  fetcher,
			Logger:   o.logger,
			Interval: cfg.Diagnostic.Interval,
			Now:      o.now,
		}),
		client:  clientgeo.NewLocator(clientDeps),
		catalog: catalog,
		geolite: geolite,
	}, nil
}

func catalogSource(cfg config.CatalogConfig, locationsURL string, fetcher *fetch.Client) (edge.Source, error) {
	if cfg.File == "" {
		return edge.HTTPSource{Fetcher: fetcher, URL: locationsURL}, nil
	}
	src := edge.FileSource{Path: cfg.File, SignaturePath: cfg.SignatureFile}
	if cfg.PublicKey != "" {
		verifier, err := verify.NewMinisign(cfg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("catalog verifier: %w", err)
		}
		src.Verifier = verifier
	}
	return src, nil
}

// NewSession builds an idle session machine. An empty id lets the machine pick one.
func (r *Runtime) NewSession(id string) *session.Machine {
	return session.New(session.Dependencies{
		ID:          id,
		Validator:   r.validator,
		Locator:     r.locator,
		Sampler:     r.sampler,
		Client:      r.client,
		Catalog:     r.catalog,
		SampleCount: r.cfg.Diagnostic.SampleCount,
		Recorder:    r.recorder,
		Logger:      r.logger,
		Now:         r.now,
	})
}

// LogOptions maps the log section of the configuration onto logger options.
func LogOptions(cfg config.LogConfig) logging.Options {
	return logging.Options{
		Level:      cfg.Level,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

func (r *Runtime) Config() config.Config {
	return r.cfg
}

// Close releases the GeoLite readers, if any were opened.
func (r *Runtime) Close() error {
	if r.geolite == nil {
		return nil
	}
	err := r.geolite.Close()
	r.geolite = nil
	if err != nil {
		return fmt.Errorf("close geolite databases: %w", err)
	}
	return nil
}
