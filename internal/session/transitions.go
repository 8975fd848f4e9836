package session

import (
	"fmt"

	"github.com/edgecheck/edgecheck/internal/fetch"
	"github.com/edgecheck/edgecheck/internal/geo"
	"github.com/edgecheck/edgecheck/internal/latency"
	"github.com/edgecheck/edgecheck/internal/origin"
	"github.com/edgecheck/edgecheck/pkg/types"
)

const (
	StageValidate = "validate"
	StageEdge     = "edge"
	StageLatency  = "latency"
	StageClient   = "client"
)

func notice(stage string, level types.NoticeLevel, format string, args ...any) types.Notice {
	return types.Notice{Stage: stage, Level: level, Message: fmt.Sprintf(format, args...)}
}

// applyValidation moves a pending session to valid or invalid.
func applyValidation(s types.Session, normalized string, result types.ValidationResult) types.Session {
	if result.Valid() {
		server := *result.Server
		s.State = types.StateStage1Valid
		s.Origin = normalized
		s.Host = origin.Host(normalized)
		s.Server = &server
		s.Notices = append(s.Notices, notice(StageValidate, types.NoticeInfo,
			"Emby server %q (version %s) is reachable", server.Name, server.Version))
		return s
	}

	s.State = types.StateStage1Invalid
	switch result.Outcome {
	case types.OutcomeMalformedURL:
		s.Notices = append(s.Notices, notice(StageValidate, types.NoticeError, "the link is not a usable URL"))
	case types.OutcomeHTTPError:
		s.Notices = append(s.Notices, notice(StageValidate, types.NoticeError,
			"server answered HTTP %d; this does not look like a reachable Emby server", result.Status))
	case types.OutcomeInvalidShape:
		s.Notices = append(s.Notices, notice(StageValidate, types.NoticeError,
			"the response is not an Emby public info document"))
	default:
		msg := result.Message
		if msg == "" {
			msg = "request failed"
		}
		s.Notices = append(s.Notices, notice(StageValidate, types.NoticeError, "network problem: %s", msg))
	}
	return s
}

// beginDiagnosis clears stage-2 results and keeps everything stage 1 produced.
func beginDiagnosis(s types.Session) types.Session {
	s.State = types.StateStage2Running
	s.Colo = ""
	s.EdgeLabel = ""
	s.Edge = nil
	s.LatencySamples = []float64{}
	s.Network = nil
	s.Client = nil

	kept := make([]types.Notice, 0, len(s.Notices))
	for _, n := range s.Notices {
		if n.Stage == StageValidate {
			kept = append(kept, n)
		}
	}
	s.Notices = kept
	return derive(s)
}

func applyEdge(s types.Session, result types.EdgeResult) types.Session {
	if result.TraceErr != nil {
		msg := "trace request failed"
		if status := fetch.StatusOf(result.TraceErr); status != 0 {
			msg = fmt.Sprintf("trace request failed: HTTP %d", status)
		} else if fetch.IsNetwork(result.TraceErr) {
			msg = "trace request failed: network problem"
		}
		s.Notices = append(s.Notices, notice(StageEdge, types.NoticeError, "%s", msg))
		return s
	}

	s.Colo = result.Colo
	s.EdgeLabel = result.Label
	if result.Location != nil {
		loc := *result.Location
		s.Edge = &loc
	}
	if s.Host == "" && result.HostHint != "" {
		s.Host = result.HostHint
	}

	if result.CatalogErr != nil {
		s.Notices = append(s.Notices, notice(StageEdge, types.NoticeWarn, "Cloudflare location list unavailable"))
	}
	if result.Colo == "" {
		s.Notices = append(s.Notices, notice(StageEdge, types.NoticeWarn,
			"no colo value found; is the server really reachable through Cloudflare?"))
	} else {
		s.Notices = append(s.Notices, notice(StageEdge, types.NoticeInfo, "Cloudflare location: %s", result.Label))
	}
	return s
}

func applyLatency(s types.Session, summary types.LatencySummary) types.Session {
	s.LatencySamples = append([]float64{}, summary.Samples...)
	s = derive(s)
	if s.LatencyMedian == nil {
		s.Notices = append(s.Notices, notice(StageLatency, types.NoticeWarn,
			"none of the %d latency samples succeeded", summary.Requested))
		return s
	}
	s.Notices = append(s.Notices, notice(StageLatency, types.NoticeInfo,
		"median latency %s over %d/%d samples: %s",
		latency.FormatMs(*s.LatencyMedian), len(s.LatencySamples), summary.Requested, latency.Describe(s.Verdict)))
	return s
}

func applyClient(s types.Session, info types.ClientInfo, err error) types.Session {
	if err != nil {
		s.Notices = append(s.Notices, notice(StageClient, types.NoticeWarn, "client location unavailable"))
		return derive(s)
	}
	if info.Network != nil {
		network := *info.Network
		s.Network = &network
	}
	if info.Coordinates != nil {
		coords := *info.Coordinates
		s.Client = &coords
	}
	s = derive(s)
	if s.DistanceMeters != nil {
		s.Notices = append(s.Notices, notice(StageClient, types.NoticeInfo,
			"distance to the Cloudflare location: %s", geo.FormatDistance(*s.DistanceMeters)))
	}
	if s.RoutingWarning != nil {
		s.Notices = append(s.Notices, notice(StageClient, types.NoticeWarn, "%s", s.RoutingWarning.Message))
	}
	return s
}
