package transport

import (
	"context"
	"fmt"
	"net"
)

// CheckEndpoint is a cheap liveness pre-filter: it validates the host:port
// shape and resolves the host name, without opening a connection. Used to
// weed out dead candidates before running discovery against a batch of
// endpoints.
func CheckEndpoint(ctx context.Context, address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}
	if port == "" {
		return fmt.Errorf("address %q is missing a port", address)
	}

	if ip := net.ParseIP(host); ip != nil {
		return nil
	}

	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		return fmt.Errorf("cannot resolve %q: %w", host, err)
	}
	return nil
}
