package origin

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrMalformed reports input that cannot be turned into a usable origin.
var ErrMalformed = errors.New("malformed origin URL")

var (
	schemePattern     = regexp.MustCompile(`(?i)^https?://`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize turns free-form user input into a canonical absolute URL. It
// returns "" for empty input. Embedded paths are kept.
func Normalize(raw string) string {
	input := strings.TrimSpace(raw)
	if input == "" {
		return ""
	}
	if !schemePattern.MatchString(input) {
		input = "https://" + input
	}
	input = whitespacePattern.ReplaceAllString(input, "")
	return strings.TrimSuffix(input, "/")
}

// Authority returns scheme://host[:port] of u, dropping any path, query or
// fragment.
func Authority(u string) (string, error) {
	parsed, err := parse(u)
	if err != nil {
		return "", err
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

// Host returns the host[:port] of u or "" when u cannot be parsed.
func Host(u string) string {
	parsed, err := parse(u)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// Join appends path to the authority of u.
func Join(u, path string) (string, error) {
	authority, err := Authority(u)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return authority + path, nil
}

func parse(u string) (*url.URL, error) {
	if strings.TrimSpace(u) == "" {
		return nil, ErrMalformed
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrMalformed
	}
	if parsed.Host == "" || parsed.Hostname() == "" {
		return nil, ErrMalformed
	}
	parsed.Scheme = scheme
	return parsed, nil
}
