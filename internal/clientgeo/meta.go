package clientgeo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/edgecheck/edgecheck/pkg/types"
)

// DefaultMetaURL reports the caller's IP, approximate position and autonomous system.
const DefaultMetaURL = "https://speed.cloudflare.com/meta"

// flexValue accepts a JSON number or a JSON string holding a number.
type flexValue struct {
	raw string
	set bool
}

func (v *flexValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = flexValue{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = flexValue{raw: strings.TrimSpace(s), set: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		// Objects, arrays and booleans are treated as absent.
		*v = flexValue{}
		return nil
	}
	*v = flexValue{raw: n.String(), set: true}
	return nil
}

func (v flexValue) float() (float64, bool) {
	if !v.set || v.raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func (v flexValue) int() (int, bool) {
	if !v.set || v.raw == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v.raw); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(v.raw, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

type metaDocument struct {
	ClientIP       string    `json:"clientIp"`
	ASN            flexValue `json:"asn"`
	ASOrganization string    `json:"asOrganization"`
	Latitude       flexValue `json:"latitude"`
	Longitude      flexValue `json:"longitude"`
}

// ParseMeta extracts the client information from a meta document. Fields
// that are missing or unparseable are left absent.
func ParseMeta(body []byte) (types.ClientInfo, error) {
	var doc metaDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return types.ClientInfo{}, fmt.Errorf("decode meta: %w", err)
	}

	info := types.ClientInfo{IP: strings.TrimSpace(doc.ClientIP), Source: SourceMeta}
	lat, latOK := doc.Latitude.float()
	lon, lonOK := doc.Longitude.float()
	if latOK && lonOK {
		info.Coordinates = &types.Coordinates{Latitude: lat, Longitude: lon}
	}

	network := types.NetworkIdentity{Organization: strings.TrimSpace(doc.ASOrganization)}
	if asn, ok := doc.ASN.int(); ok {
		network.ASN = &asn
	}
	if network.ASN != nil || network.Organization != "" {
		info.Network = &network
	}
	return info, nil
}
