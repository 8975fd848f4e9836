package clientgeo

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgecheck/edgecheck/internal/fetch"
	"github.com/edgecheck/edgecheck/pkg/types"
)

func metaServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

type fakeDatabase struct {
	info  types.ClientInfo
	err   error
	calls []string
}

func (f *fakeDatabase) Lookup(ip net.IP) (types.ClientInfo, error) {
	f.calls = append(f.calls, ip.String())
	return f.info, f.err
}

type fakeResolver struct {
	ip  net.IP
	err error
}

func (f fakeResolver) PublicIP(context.Context) (net.IP, error) {
	return f.ip, f.err
}

func TestParseMetaFlexibleFields(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		asn    *int
		coords bool
		lat    float64
		org    string
	}{
		{name: "numeric asn", body: `{"asn":3320,"asOrganization":"Deutsche Telekom AG","latitude":"52.52","longitude":"13.40"}`, asn: intPtr(3320), coords: true, lat: 52.52, org: "Deutsche Telekom AG"},
		{name: "string asn", body: `{"asn":"3320","latitude":"52.52","longitude":"13.40"}`, asn: intPtr(3320), coords: true, lat: 52.52},
		{name: "empty coordinates", body: `{"asn":13335,"latitude":"","longitude":""}`, asn: intPtr(13335)},
		{name: "garbage coordinates", body: `{"latitude":"north","longitude":"13.4"}`},
		{name: "numeric coordinates", body: `{"latitude":50.1,"longitude":8.6}`, coords: true, lat: 50.1},
		{name: "null asn", body: `{"asn":null,"asOrganization":"X"}`, org: "X"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info, err := ParseMeta([]byte(tc.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if tc.coords != (info.Coordinates != nil) {
				t.Fatalf("coordinates presence mismatch: %+v", info.Coordinates)
			}
			if tc.coords && info.Coordinates.Latitude != tc.lat {
				t.Fatalf("expected latitude %v got %v", tc.lat, info.Coordinates.Latitude)
			}
			var gotASN *int
			var gotOrg string
			if info.Network != nil {
				gotASN = info.Network.ASN
				gotOrg = info.Network.Organization
			}
			if (tc.asn == nil) != (gotASN == nil) || (tc.asn != nil && *tc.asn != *gotASN) {
				t.Fatalf("asn mismatch: want %v got %v", tc.asn, gotASN)
			}
			if gotOrg != tc.org {
				t.Fatalf("expected org %q got %q", tc.org, gotOrg)
			}
		})
	}
}

func TestParseMetaRejectsNonJSON(t *testing.T) {
	if _, err := ParseMeta([]byte("<html>")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestLookupFromMeta(t *testing.T) {
	server := metaServer(t, http.StatusOK, `{"clientIp":"203.0.113.7","asn":3320,"latitude":"52.52","longitude":"13.40"}`)
	db := &fakeDatabase{}
	locator := NewLocator(Dependencies{
		Fetcher:  fetch.NewClient(fetch.Dependencies{HTTPClient: server.Client()}),
		MetaURL:  server.URL,
		Database: db,
	})

	info, err := locator.Lookup(context.Background())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if info.Source != SourceMeta || info.IP != "203.0.113.7" {
		t.Fatalf("unexpected info %+v", info)
	}
	if len(db.calls) != 0 {
		t.Fatalf("complete meta must not consult the database")
	}
}

func TestLookupFillsMissingFieldsFromDatabase(t *testing.T) {
	server := metaServer(t, http.StatusOK, `{"clientIp":"203.0.113.7","asn":3320,"latitude":"","longitude":""}`)
	db := &fakeDatabase{info: types.ClientInfo{
		Coordinates: &types.Coordinates{Latitude: 48.1, Longitude: 11.6},
		Network:     &types.NetworkIdentity{ASN: intPtr(9999), Organization: "Other"},
	}}
	locator := NewLocator(Dependencies{
		Fetcher:  fetch.NewClient(fetch.Dependencies{HTTPClient: server.Client()}),
		MetaURL:  server.URL,
		Database: db,
	})

	info, err := locator.Lookup(context.Background())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(db.calls) != 1 || db.calls[0] != "203.0.113.7" {
		t.Fatalf("expected lookup of meta client ip, got %v", db.calls)
	}
	if info.Coordinates == nil || info.Coordinates.Latitude != 48.1 {
		t.Fatalf("expected coordinates from database, got %+v", info.Coordinates)
	}
	if *info.Network.ASN != 3320 {
		t.Fatalf("meta asn must win, got %d", *info.Network.ASN)
	}
	if info.Network.Organization != "Other" {
		t.Fatalf("expected organization filled, got %q", info.Network.Organization)
	}
	if info.Source != SourceMetaGeoIP {
		t.Fatalf("expected merged source, got %q", info.Source)
	}
}

func TestLookupFallsBackToResolverWhenMetaFails(t *testing.T) {
	server := metaServer(t, http.StatusBadGateway, `oops`)
	db := &fakeDatabase{info: types.ClientInfo{Network: &types.NetworkIdentity{ASN: intPtr(3320)}}}
	locator := NewLocator(Dependencies{
		Fetcher:  fetch.NewClient(fetch.Dependencies{HTTPClient: server.Client()}),
		MetaURL:  server.URL,
		Database: db,
		Resolver: fakeResolver{ip: net.ParseIP("198.51.100.1")},
	})

	info, err := locator.Lookup(context.Background())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if info.Source != SourceGeoIP || info.IP != "198.51.100.1" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Coordinates != nil {
		t.Fatalf("coordinates must stay absent")
	}
}

func TestLookupFailureWithoutFallback(t *testing.T) {
	server := metaServer(t, http.StatusInternalServerError, `oops`)
	locator := NewLocator(Dependencies{
		Fetcher: fetch.NewClient(fetch.Dependencies{HTTPClient: server.Client()}),
		MetaURL: server.URL,
	})

	info, err := locator.Lookup(context.Background())
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if fetch.StatusOf(err) != http.StatusInternalServerError {
		t.Fatalf("expected wrapped http status, got %v", err)
	}
	if info.Coordinates != nil || info.Network != nil {
		t.Fatalf("fields must be absent on failure: %+v", info)
	}
}

func TestLookupResolverFailureKeepsError(t *testing.T) {
	server := metaServer(t, http.StatusInternalServerError, `oops`)
	locator := NewLocator(Dependencies{
		Fetcher:  fetch.NewClient(fetch.Dependencies{HTTPClient: server.Client()}),
		MetaURL:  server.URL,
		Database: &fakeDatabase{},
		Resolver: fakeResolver{err: errors.New("stun down")},
	})

	if _, err := locator.Lookup(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestOpenGeoLiteWithoutPaths(t *testing.T) {
	db, err := OpenGeoLite("", "")
	if err != nil || db != nil {
		t.Fatalf("expected nil database, got %v %v", db, err)
	}
	if _, err := OpenGeoLite(t.TempDir()+"/missing.mmdb", ""); err == nil {
		t.Fatalf("expected error for missing database")
	}
}

func intPtr(v int) *int { return &v }
