package session

import (
	"github.com/edgecheck/edgecheck/internal/geo"
	"github.com/edgecheck/edgecheck/internal/latency"
	"github.com/edgecheck/edgecheck/pkg/types"
)

// derive recomputes every derived field of s from its sources.
func derive(s types.Session) types.Session {
	s.LatencyMedian = latency.MedianPtr(s.LatencySamples)
	s.Verdict = ""
	if s.LatencyMedian != nil {
		s.Verdict = latency.Classify(*s.LatencyMedian)
	}

	s.DistanceMeters = nil
	if s.Client != nil && s.Edge != nil {
		d := geo.Distance(*s.Client, s.Edge.Coordinates())
		s.DistanceMeters = &d
	}

	var asn *int
	if s.Network != nil {
		asn = s.Network.ASN
	}
	s.RoutingWarning = geo.EvaluateRouting(asn, s.DistanceMeters)
	return s
}

// clone returns a deep copy so callers never share slices or pointers with the machine.
func clone(s types.Session) types.Session {
	out := s
	if s.Server != nil {
		v := *s.Server
		out.Server = &v
	}
	if s.Edge != nil {
		v := *s.Edge
		out.Edge = &v
	}
	out.LatencySamples = append([]float64{}, s.LatencySamples...)
	if s.LatencyMedian != nil {
		v := *s.LatencyMedian
		out.LatencyMedian = &v
	}
	if s.Network != nil {
		v := *s.Network
		if s.Network.ASN != nil {
			asn := *s.Network.ASN
			v.ASN = &asn
		}
		out.Network = &v
	}
	if s.Client != nil {
		v := *s.Client
		out.Client = &v
	}
	if s.DistanceMeters != nil {
		v := *s.DistanceMeters
		out.DistanceMeters = &v
	}
	if s.RoutingWarning != nil {
		v := *s.RoutingWarning
		v.Links = append([]types.Link(nil), s.RoutingWarning.Links...)
		out.RoutingWarning = &v
	}
	out.Notices = append([]types.Notice(nil), s.Notices...)
	return out
}
