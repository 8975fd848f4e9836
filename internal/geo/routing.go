package geo

import (
	"github.com/edgecheck/edgecheck/pkg/types"
)

const (
	// RoutingThresholdKm is the client-to-edge distance from which a path counts as implausibly long.
	RoutingThresholdKm = 600.0

	ClassificationLongPath = "long_path_routing"
	carrierName            = "Deutsche Telekom"
)

// carrierASNs are the address blocks announced by Deutsche Telekom.
var carrierASNs = map[int]struct{}{
	3320:  {},
	48951: {},
	5483:  {},
	5391:  {},
	6855:  {},
	12713: {},
	8412:  {},
	13036: {},
	12912: {},
	5588:  {},
	5603:  {},
	6878:  {},
	2773:  {},
}

var routingLinks = []types.Link{
	{Title: "NetzBremse.de", URL: "https://netzbremse.de"},
	{Title: "VPN", URL: "https://youtu.be/jv-uYoh-cz0"},
}

const routingMessage = "You are connected through a Deutsche Telekom network. In some cases traffic is routed " +
	"to a distant Cloudflare location on the network side, which can cause long loading times and packet loss. " +
	"Using a VPN service may help as a test, since most VPN providers peer with Telekom and reach a closer edge. " +
	"On the free Cloudflare plan a closer path is not guaranteed."

// IsCarrierASN reports whether asn belongs to the carrier the routing heuristic watches.
func IsCarrierASN(asn int) bool {
	_, ok := carrierASNs[asn]
	return ok
}

// EvaluateRouting returns a warning when both inputs are known, the distance
// is at least RoutingThresholdKm and the ASN is one of the carrier's.
func EvaluateRouting(asn *int, distanceMeters *float64) *types.RoutingWarning {
	if asn == nil || distanceMeters == nil {
		return nil
	}
	km := *distanceMeters / 1000
	if km < RoutingThresholdKm {
		return nil
	}
	if !IsCarrierASN(*asn) {
		return nil
	}
	return &types.RoutingWarning{
		Classification: ClassificationLongPath,
		Carrier:        carrierName,
		ASN:            *asn,
		DistanceKm:     km,
		ThresholdKm:    RoutingThresholdKm,
		Message:        routingMessage,
		Links:          append([]types.Link(nil), routingLinks...),
	}
}
