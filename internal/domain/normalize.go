// Package domain turns user-supplied targets into bare hostnames.
package domain

import (
	"errors"
	"net/url"
	"strings"
)

var (
	// ErrEmptyDomain is returned when nothing usable is left after trimming.
	ErrEmptyDomain = errors.New("domain is required")

	// ErrInvalidDomain is returned for scheme-qualified input that does not parse
	// into a URL with a host.
	ErrInvalidDomain = errors.New("domain is not a valid host or URL")
)

const schemeSeparator = "://"

// Normalize returns the bare hostname for raw.
//
// Input without a scheme is treated as a host and only whitespace-trimmed.
// Input with a scheme is parsed as a URL and reduced to its host, port stripped.
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyDomain
	}

	if !strings.Contains(trimmed, schemeSeparator) {
		return trimmed, nil
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", ErrInvalidDomain
	}

	host := strings.TrimSpace(u.Hostname())
	if host == "" {
		if u.Host == "" {
			return "", ErrInvalidDomain
		}
		return "", ErrEmptyDomain
	}

	return host, nil
}
