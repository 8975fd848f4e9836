package clientgeo

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/edgecheck/edgecheck/pkg/types"
)

// Database resolves an IP to network and position data.
type Database interface {
	Lookup(ip net.IP) (types.ClientInfo, error)
}

// GeoLite opens MaxMind ASN and City databases. Either path may be empty.
type GeoLite struct {
	asn  *geoip2.Reader
	city *geoip2.Reader
}

// OpenGeoLite opens the configured databases. It returns nil, nil when no
// path is configured.
func OpenGeoLite(asnPath, cityPath string) (*GeoLite, error) {
	if asnPath == "" && cityPath == "" {
		return nil, nil
	}
	db := &GeoLite{}
	if asnPath != "" {
		reader, err := geoip2.Open(asnPath)
		if err != nil {
			return nil, fmt.Errorf("open asn database %s: %w", asnPath, err)
		}
		db.asn = reader
	}
	if cityPath != "" {
		reader, err := geoip2.Open(cityPath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open city database %s: %w", cityPath, err)
		}
		db.city = reader
	}
	return db, nil
}

// Lookup returns whatever the open databases know about ip.
func (g *GeoLite) Lookup(ip net.IP) (types.ClientInfo, error) {
	if ip == nil {
		return types.ClientInfo{}, errors.New("geolite lookup: nil ip")
	}
	info := types.ClientInfo{IP: ip.String(), Source: SourceGeoIP}
	var errs []error

	if g.asn != nil {
		rec, err := g.asn.ASN(ip)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("asn lookup: %w", err))
		case rec.AutonomousSystemNumber != 0:
			asn := int(rec.AutonomousSystemNumber)
			info.Network = &types.NetworkIdentity{ASN: &asn, Organization: rec.AutonomousSystemOrganization}
		}
	}
	if g.city != nil {
		rec, err := g.city.City(ip)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("city lookup: %w", err))
		case rec.Location.Latitude != 0 || rec.Location.Longitude != 0:
			info.Coordinates = &types.Coordinates{Latitude: rec.Location.Latitude, Longitude: rec.Location.Longitude}
		}
	}
	return info, errors.Join(errs...)
}

func (g *GeoLite) Close() error {
	if g == nil {
		return nil
	}
	var errs []error
	if g.asn != nil {
		errs = append(errs, g.asn.Close())
	}
	if g.city != nil {
		errs = append(errs, g.city.Close())
	}
	return errors.Join(errs...)
}
