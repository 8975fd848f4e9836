package types

import "time"

// State is a node of the two-stage diagnostic state machine.
type State string

const (
	StateIdle           State = "idle"
	StateStage1Pending  State = "stage1_pending"
	StateStage1Valid    State = "stage1_valid"
	StateStage1Invalid  State = "stage1_invalid"
	StateStage2Running  State = "stage2_running"
	StateStage2Complete State = "stage2_complete"
)

// Verdict classifies a median round-trip time for streaming suitability.
type Verdict string

const (
	VerdictExcellent  Verdict = "excellent"
	VerdictVeryGood   Verdict = "very_good"
	VerdictAcceptable Verdict = "acceptable"
	VerdictPoor       Verdict = "poor"
)

// NoticeLevel mirrors the status severities a rendering layer shows.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Session is one diagnostic run. Values are treated as immutable: every
// transition produces a new Session.
type Session struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Input  string          `json:"input,omitempty"`
	Origin string          `json:"origin,omitempty"`
	Host   string          `json:"host,omitempty"`
	Server *ServerIdentity `json:"server,omitempty"`

	Colo      string        `json:"colo,omitempty"`
	EdgeLabel string        `json:"edge_label,omitempty"`
	Edge      *EdgeLocation `json:"edge,omitempty"`

	LatencySamples []float64 `json:"latency_samples_ms"`
	LatencyMedian  *float64  `json:"latency_median_ms,omitempty"`
	Verdict        Verdict   `json:"verdict,omitempty"`

	Network        *NetworkIdentity `json:"network,omitempty"`
	Client         *Coordinates     `json:"client,omitempty"`
	DistanceMeters *float64         `json:"distance_m,omitempty"`
	RoutingWarning *RoutingWarning  `json:"routing_warning,omitempty"`

	Notices []Notice `json:"notices,omitempty"`
}

// ServerIdentity is what the Emby public info endpoint reports about itself.
type ServerIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// EdgeLocation is a Cloudflare point-of-presence record from the locations catalog.
type EdgeLocation struct {
	Code        string  `json:"iata"`
	City        string  `json:"city"`
	CountryCode string  `json:"cca2"`
	Region      string  `json:"region,omitempty"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
}

// Coordinates returns the record's position.
func (e EdgeLocation) Coordinates() Coordinates {
	return Coordinates{Latitude: e.Latitude, Longitude: e.Longitude}
}

type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// NetworkIdentity describes the client's autonomous system. Both fields are
// optional; ASN is nil and Organization empty when the lookup omitted them.
type NetworkIdentity struct {
	ASN          *int   `json:"asn,omitempty"`
	Organization string `json:"organization,omitempty"`
}

// RoutingWarning is surfaced when a known carrier routes the client to a
// distant edge location. Rendering is left to the caller.
type RoutingWarning struct {
	Classification string  `json:"classification"`
	Carrier        string  `json:"carrier"`
	ASN            int     `json:"asn"`
	DistanceKm     float64 `json:"distance_km"`
	ThresholdKm    float64 `json:"threshold_km"`
	Message        string  `json:"message"`
	Links          []Link  `json:"links"`
}

type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Notice is a status line produced by a pipeline step.
type Notice struct {
	Stage   string      `json:"stage"`
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// LatencySummary is the reduced output of one sampling run. Samples keep
// chronological order; Median is nil when no sample succeeded.
type LatencySummary struct {
	Requested int       `json:"requested"`
	Samples   []float64 `json:"samples_ms"`
	Median    *float64  `json:"median_ms,omitempty"`
}

// EdgeResult is the outcome of trace parsing plus catalog resolution.
type EdgeResult struct {
	Colo       string        `json:"colo"`
	HostHint   string        `json:"host_hint,omitempty"`
	Label      string        `json:"label,omitempty"`
	Location   *EdgeLocation `json:"location,omitempty"`
	TraceErr   error         `json:"-"`
	CatalogErr error         `json:"-"`
}

// ClientInfo is what is known about the client after the meta lookup.
type ClientInfo struct {
	IP          string           `json:"ip,omitempty"`
	Coordinates *Coordinates     `json:"coordinates,omitempty"`
	Network     *NetworkIdentity `json:"network,omitempty"`
	Source      string           `json:"source,omitempty"`
}
