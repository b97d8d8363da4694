package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"

	"fastsync/internal/logging"
)

const (
	// ServiceType is the well-known mDNS service type the receiver
	// advertises.
	ServiceType = "_photosync._tcp"

	// ServiceDomain is the mDNS browse domain.
	ServiceDomain = "local."
)

var errNoAddress = errors.New("service entry carries no usable address")

// MDNSBrowser browses for receiver advertisements using mDNS-SD.
// It implements Browser.
type MDNSBrowser struct {
	service string
	domain  string
	logger  *slog.Logger
}

// NewMDNSBrowser creates a browser for the well-known receiver service type.
func NewMDNSBrowser(logger *slog.Logger) *MDNSBrowser {
	return &MDNSBrowser{
		service: ServiceType,
		domain:  ServiceDomain,
		logger:  logging.Default(logger).With("component", "mdns-browser"),
	}
}

// Browse implements Browser. It blocks until ctx is cancelled, feeding
// every discovered entry to the listener. Resolution happens inside the
// mDNS library; entries arriving here already carry host and port, so
// OnFound and OnResolved fire back to back.
func (b *MDNSBrowser) Browse(ctx context.Context, l Listener) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("create mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, b.service, b.domain, entries); err != nil {
		return fmt.Errorf("browse %s: %w", b.service, err)
	}

	// The entries channel is closed when ctx is cancelled.
	for entry := range entries {
		if entry == nil {
			continue
		}
		desc := ServiceDescriptor{Name: entry.Instance, Type: b.service}
		l.OnFound(desc)

		host := pickAddress(entry)
		if host == "" {
			l.OnResolveFailed(desc, errNoAddress)
			continue
		}
		l.OnResolved(host, entry.Port)
	}
	return nil
}

// pickAddress chooses an address from a service entry, preferring IPv4.
func pickAddress(entry *zeroconf.ServiceEntry) string {
	if len(entry.AddrIPv4) > 0 {
		return entry.AddrIPv4[0].String()
	}
	if len(entry.AddrIPv6) > 0 {
		return entry.AddrIPv6[0].String()
	}
	return ""
}
