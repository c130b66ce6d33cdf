// Package endpoint computes the ordered list of candidate URLs for a
// logical backend path. It performs no I/O; the transport layer decides
// which candidate wins.
package endpoint

import (
	"net/url"
	"strings"
)

// DevFallback is the well-known local backend address tried last during
// development.
const DevFallback = "http://localhost:4000"

// devPorts are the ports the frontend is known to be served from in
// development. Seeing one of them enables the DevFallback candidate.
var devPorts = map[string]bool{
	"3000": true,
	"4000": true,
	"5173": true,
	"8080": true,
}

// routerPrefixes are backend router prefixes that may already be part of a
// configured base URL. Longest prefix first so /api/auth wins over /api.
var routerPrefixes = []string{"/api/auth", "/api"}

// Candidate is one URL to try for a logical request.
type Candidate struct {
	URL      string
	Relative bool // resolved against the origin rather than the configured base
}

// Resolver turns logical paths into ordered candidate lists.
type Resolver struct {
	Base   string // configured absolute API base, may be empty
	Origin string // origin the client runs under, may be empty
}

// Candidates returns the URLs to try, in order: the configured base (with
// duplicated router prefixes stripped), the same path on the origin, and in
// development the well-known local port.
func (r Resolver) Candidates(path string) []Candidate {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var out []Candidate
	if r.Base != "" {
		out = append(out, Candidate{URL: joinBase(r.Base, path)})
	}
	if r.Origin != "" {
		out = append(out, Candidate{URL: strings.TrimSuffix(r.Origin, "/") + path, Relative: true})
	}
	if r.devOrigin() {
		out = append(out, Candidate{URL: DevFallback + path})
	}
	return out
}

// devOrigin reports whether the origin is served from a known development
// port.
func (r Resolver) devOrigin() bool {
	u, err := url.Parse(r.Origin)
	if err != nil {
		return false
	}
	return devPorts[u.Port()]
}

// joinBase appends path to base, stripping a router prefix that the base
// already ends with so configured bases like https://host/api do not produce
// /api/api/... URLs.
func joinBase(base, path string) string {
	base = strings.TrimSuffix(base, "/")
	for _, prefix := range routerPrefixes {
		if !strings.HasSuffix(base, prefix) {
			continue
		}
		if path == prefix {
			path = "/"
			break
		}
		if strings.HasPrefix(path, prefix+"/") {
			path = strings.TrimPrefix(path, prefix)
			break
		}
	}
	return base + path
}
