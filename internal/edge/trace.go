package edge

import (
	"strings"
)

// DefaultTracePath is the Cloudflare diagnostic endpoint served on every proxied hostname.
const DefaultTracePath = "/cdn-cgi/trace"

// Trace is the parsed body of a /cdn-cgi/trace response.
type Trace struct {
	Colo   string
	Host   string
	Fields map[string]string
}

// ParseTrace reads newline separated key=value pairs. Lines without '=' are
// ignored; a missing colo yields an empty Colo rather than an error.
func ParseTrace(body string) Trace {
	trace := Trace{Fields: make(map[string]string)}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSuffix(line, "\r")
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		trace.Fields[key] = value
		switch key {
		case "colo":
			trace.Colo = value
		case "h":
			trace.Host = value
		}
	}
	return trace
}
