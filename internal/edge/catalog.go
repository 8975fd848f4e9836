package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/edgecheck/edgecheck/internal/fetch"
	"github.com/edgecheck/edgecheck/pkg/types"
)

// DefaultLocationsURL lists every Cloudflare colo with its coordinates.
const DefaultLocationsURL = "https://speed.cloudflare.com/locations"

// Entry is one record of the locations catalog. Coordinates are optional.
type Entry struct {
	Code        string   `json:"iata"`
	City        string   `json:"city"`
	CountryCode string   `json:"cca2"`
	Region      string   `json:"region"`
	Latitude    *float64 `json:"lat"`
	Longitude   *float64 `json:"lon"`
}

// UnmarshalJSON keeps the record when lat or lon are not JSON numbers; only
// the offending coordinate is left unset.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code        string          `json:"iata"`
		City        string          `json:"city"`
		CountryCode string          `json:"cca2"`
		Region      string          `json:"region"`
		Latitude    json.RawMessage `json:"lat"`
		Longitude   json.RawMessage `json:"lon"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Entry{
		Code:        raw.Code,
		City:        raw.City,
		CountryCode: raw.CountryCode,
		Region:      raw.Region,
		Latitude:    numeric(raw.Latitude),
		Longitude:   numeric(raw.Longitude),
	}
	return nil
}

func numeric(raw json.RawMessage) *float64 {
	var v float64
	if len(raw) == 0 || string(raw) == "null" || json.Unmarshal(raw, &v) != nil {
		return nil
	}
	return &v
}

// Location converts the entry into a record with coordinates. It reports
// false when either coordinate is missing.
func (e Entry) Location() (types.EdgeLocation, bool) {
	if e.Latitude == nil || e.Longitude == nil {
		return types.EdgeLocation{}, false
	}
	return types.EdgeLocation{
		Code:        e.Code,
		City:        e.City,
		CountryCode: e.CountryCode,
		Region:      e.Region,
		Latitude:    *e.Latitude,
		Longitude:   *e.Longitude,
	}, true
}

// Label renders "<city>, <cca2> - (<iata>)", or "" when the entry has no city.
func (e Entry) Label() string {
	if e.City == "" {
		return ""
	}
	return fmt.Sprintf("%s, %s - (%s)", e.City, e.CountryCode, e.Code)
}

// Catalog indexes entries by upper-cased code.
type Catalog struct {
	entries []Entry
	byCode  map[string]Entry
}

func NewCatalog(entries []Entry) *Catalog {
	c := &Catalog{
		entries: make([]Entry, 0, len(entries)),
		byCode:  make(map[string]Entry, len(entries)),
	}
	for _, e := range entries {
		code := strings.ToUpper(strings.TrimSpace(e.Code))
		if code == "" {
			continue
		}
		c.entries = append(c.entries, e)
		if _, exists := c.byCode[code]; !exists {
			c.byCode[code] = e
		}
	}
	return c
}

// ParseCatalog decodes the JSON array served by the locations endpoint.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode locations catalog: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		// Records with unexpected field types are skipped, not fatal.
		if err := json.Unmarshal(item, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return NewCatalog(entries), nil
}

// Lookup matches code case-insensitively.
func (c *Catalog) Lookup(code string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Entry{}, false
	}
	e, ok := c.byCode[code]
	return e, ok
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Source provides the locations catalog.
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
}

// HTTPSource fetches the catalog from a URL.
type HTTPSource struct {
	Fetcher *fetch.Client
	URL     string
}

func (s HTTPSource) Load(ctx context.Context) (*Catalog, error) {
	url := s.URL
	if url == "" {
		url = DefaultLocationsURL
	}
	fetcher := s.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewClient(fetch.Dependencies{})
	}
	resp, err := fetcher.GetOK(ctx, url, fetch.AcceptJSON)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(resp.Body)
}

// SignatureVerifier checks a detached signature over catalog bytes. name is the
// base name of the catalog file.
type SignatureVerifier interface {
	Verify(name string, payload, signature []byte) error
}

// FileSource reads a catalog snapshot from disk. With a Verifier, the bytes
// that are parsed are the bytes that were verified.
type FileSource struct {
	Path          string
	SignaturePath string
	Verifier      SignatureVerifier
}

func (s FileSource) Load(ctx context.Context) (*Catalog, error) {
	if strings.TrimSpace(s.Path) == "" {
		return nil, errors.New("catalog file path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", s.Path, err)
	}
	if s.Verifier != nil {
		sigPath := s.SignaturePath
		if sigPath == "" {
			sigPath = s.Path + ".minisig"
		}
		sig, err := os.ReadFile(sigPath)
		if err != nil {
			return nil, fmt.Errorf("read catalog signature %q: %w", sigPath, err)
		}
		if err := s.Verifier.Verify(filepath.Base(s.Path), data, sig); err != nil {
			return nil, fmt.Errorf("verify catalog %q: %w", s.Path, err)
		}
	}
	return ParseCatalog(data)
}

// CachedSource memoises the first successful load. Failures are not cached,
// so a later stage-2 run of the same session retries the lookup.
type CachedSource struct {
	src Source

	mu      sync.Mutex
	catalog *Catalog
}

func NewCachedSource(src Source) *CachedSource {
	return &CachedSource{src: src}
}

func (c *CachedSource) Load(ctx context.Context) (*Catalog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.catalog != nil {
		return c.catalog, nil
	}
	if c.src == nil {
		return nil, errors.New("catalog source not configured")
	}
	catalog, err := c.src.Load(ctx)
	if err != nil {
		return nil, err
	}
	c.catalog = catalog
	return catalog, nil
}
