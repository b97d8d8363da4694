// Package endpoint maintains the network location of the receiving peer.
//
// The Resolver combines a static fallback, passive mDNS discovery, and
// explicit manual override with last-writer-wins semantics. Exactly one
// endpoint is current at any time; it is shared by all source pipelines
// and replaced as a whole unit, never mutated in place.
package endpoint

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// BasePath is the upload path the receiver serves; the other routes
	// are derived from it by suffix replacement.
	BasePath = "/upload"

	// DefaultHost and DefaultPort form the hardcoded fallback applied at
	// startup so pipelines are never blocked waiting for discovery.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the receiver's listen port, also the default for
	// manual overrides that omit the port.
	DefaultPort = 3000
)

// Endpoint is the address of the receiving peer.
type Endpoint struct {
	Host string
	Port int
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// URL returns the base upload URL, e.g. "http://10.0.0.5:4000/upload".
func (e Endpoint) URL() string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), BasePath)
}

// URLFor returns the URL for a sibling route by replacing the upload
// suffix, e.g. URLFor("/sms") -> "http://host:port/sms". An empty suffix
// returns the base URL.
func (e Endpoint) URLFor(suffix string) string {
	if suffix == "" || suffix == BasePath {
		return e.URL()
	}
	base := strings.TrimSuffix(e.URL(), BasePath)
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	return base + suffix
}

// String implements fmt.Stringer.
func (e Endpoint) String() string {
	return e.URL()
}
