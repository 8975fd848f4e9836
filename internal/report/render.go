package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/edgecheck/edgecheck/internal/geo"
	"github.com/edgecheck/edgecheck/internal/latency"
	"github.com/edgecheck/edgecheck/pkg/types"
)

const missing = "-"

// WriteJSON writes the session as indented JSON.
func WriteJSON(w io.Writer, s types.Session) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return nil
}

// WriteText writes a plain text summary of the session for terminals.
func WriteText(w io.Writer, s types.Session) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Server:    %s\n", serverLine(s))
	fmt.Fprintf(&b, "Host:      %s\n", orMissing(s.Host))
	fmt.Fprintf(&b, "State:     %s\n", s.State)

	if s.State == types.StateStage2Complete || s.State == types.StateStage2Running {
		fmt.Fprintf(&b, "Edge:      %s\n", orMissing(s.EdgeLabel))
		fmt.Fprintf(&b, "Latency:   %s\n", latencyLine(s))
		fmt.Fprintf(&b, "Network:   %s\n", networkLine(s.Network))
		distance := missing
		if s.DistanceMeters != nil {
			distance = orMissing(geo.FormatDistance(*s.DistanceMeters))
		}
		fmt.Fprintf(&b, "Distance:  %s\n", distance)
	}

	if warning := s.RoutingWarning; warning != nil {
		fmt.Fprintf(&b, "\nWARNING (%s): %s\n", warning.Carrier, warning.Message)
		for _, link := range warning.Links {
			fmt.Fprintf(&b, "  %s: %s\n", link.Title, link.URL)
		}
	}

	if len(s.Notices) > 0 {
		b.WriteString("\n")
		for _, n := range s.Notices {
			fmt.Fprintf(&b, "[%s] %s: %s\n", n.Level, n.Stage, n.Message)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func serverLine(s types.Session) string {
	if s.Server == nil {
		return missing
	}
	if s.Server.Version == "" {
		return s.Server.Name
	}
	return fmt.Sprintf("%s (Emby %s)", s.Server.Name, s.Server.Version)
}

func latencyLine(s types.Session) string {
	if s.LatencyMedian == nil {
		return missing
	}
	line := fmt.Sprintf("%s median of %d", latency.FormatMs(*s.LatencyMedian), len(s.LatencySamples))
	if desc := latency.Describe(s.Verdict); desc != "" {
		line += ", " + desc
	}
	return line
}

func networkLine(n *types.NetworkIdentity) string {
	if n == nil {
		return missing
	}
	var parts []string
	if n.ASN != nil {
		parts = append(parts, fmt.Sprintf("AS%d", *n.ASN))
	}
	if n.Organization != "" {
		parts = append(parts, n.Organization)
	}
	if len(parts) == 0 {
		return missing
	}
	return strings.Join(parts, " ")
}

func orMissing(v string) string {
	if v == "" {
		return missing
	}
	return v
}
