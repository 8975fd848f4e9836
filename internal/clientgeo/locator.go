package clientgeo

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/edgecheck/edgecheck/internal/fetch"
	"github.com/edgecheck/edgecheck/internal/logging"
	"github.com/edgecheck/edgecheck/pkg/types"
)

const (
	SourceMeta      = "meta"
	SourceGeoIP     = "geoip"
	SourceMetaGeoIP = "meta+geoip"
)

// ErrNoData is returned when neither the meta lookup nor the fallback produced anything.
var ErrNoData = errors.New("client location unavailable")

// Dependencies allow test overrides. Database and Resolver are optional;
// without Database no fallback is attempted.
type Dependencies struct {
	Fetcher  *fetch.Client
	Logger   logrus.FieldLogger
	MetaURL  string
	Database Database
	Resolver IPResolver
}

// Locator determines the client's network identity and approximate position.
type Locator struct {
	fetcher  *fetch.Client
	logger   logrus.FieldLogger
	metaURL  string
	database Database
	resolver IPResolver
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
	metaURL := deps.MetaURL
	if metaURL == "" {
		metaURL = DefaultMetaURL
	}
	return &Locator{
		fetcher:  fetcher,
		logger:   logger,
		metaURL:  metaURL,
		database: deps.Database,
		resolver: deps.Resolver,
	}
}

// Lookup queries the meta endpoint and, when configured, fills missing fields
// from the local databases. The returned error describes the meta failure; it
// is only returned when no field could be determined at all.
func (l *Locator) Lookup(ctx context.Context) (types.ClientInfo, error) {
	info, metaErr := l.meta(ctx)
	if metaErr != nil {
		l.logger.WithError(metaErr).Debug("meta lookup failed")
	}
	if complete(info) || l.database == nil {
		if metaErr != nil {
			return types.ClientInfo{}, fmt.Errorf("%w: %w", ErrNoData, metaErr)
		}
		return info, nil
	}

	ip, err := l.publicIP(ctx, info.IP)
	if err != nil {
		l.logger.WithError(err).Debug("public ip discovery failed")
		return finish(info, metaErr)
	}
	fallback, err := l.database.Lookup(ip)
	if err != nil {
		l.logger.WithError(err).WithField("ip", ip.String()).Debug("geoip lookup incomplete")
	}
	merged := merge(info, fallback)
	if merged.IP == "" {
		merged.IP = ip.String()
	}
	return finish(merged, metaErr)
}

func (l *Locator) meta(ctx context.Context) (types.ClientInfo, error) {
	resp, err := l.fetcher.GetOK(ctx, l.metaURL, fetch.AcceptJSON)
	if err != nil {
		return types.ClientInfo{}, fmt.Errorf("meta %s: %w", l.metaURL, err)
	}
	info, err := ParseMeta(resp.Body)
	if err != nil {
		return types.ClientInfo{}, fmt.Errorf("meta %s: %w", l.metaURL, err)
	}
	return info, nil
}

func (l *Locator) publicIP(ctx context.Context, known string) (net.IP, error) {
	if ip := net.ParseIP(known); ip != nil {
		return ip, nil
	}
	if l.resolver == nil {
		return nil, errors.New("no public ip and no resolver configured")
	}
	return l.resolver.PublicIP(ctx)
}

func complete(info types.ClientInfo) bool {
	return info.Coordinates != nil && info.Network != nil && info.Network.ASN != nil
}

// merge keeps primary's fields and fills the missing ones from secondary.
func merge(primary, secondary types.ClientInfo) types.ClientInfo {
	out := primary
	filled := false
	if out.Coordinates == nil && secondary.Coordinates != nil {
		coords := *secondary.Coordinates
		out.Coordinates = &coords
		filled = true
	}
	if secondary.Network != nil {
		network := types.NetworkIdentity{}
		if out.Network != nil {
			network = *out.Network
		}
		if network.ASN == nil && secondary.Network.ASN != nil {
			asn := *secondary.Network.ASN
			network.ASN = &asn
			filled = true
		}
		if network.Organization == "" && secondary.Network.Organization != "" {
			network.Organization = secondary.Network.Organization
			filled = true
		}
		if network.ASN != nil || network.Organization != "" {
			out.Network = &network
		}
	}
	if filled {
		if primary.Source == SourceMeta {
			out.Source = SourceMetaGeoIP
		} else {
			out.Source = SourceGeoIP
		}
	}
	return out
}

func finish(info types.ClientInfo, metaErr error) (types.ClientInfo, error) {
	if info.Coordinates == nil && info.Network == nil {
		if metaErr != nil {
			return types.ClientInfo{}, fmt.Errorf("%w: %w", ErrNoData, metaErr)
		}
	}
	return info, nil
}
