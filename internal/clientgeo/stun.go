package clientgeo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

// DefaultSTUNServer answers binding requests with the caller's mapped address.
const DefaultSTUNServer = "stun.cloudflare.com:3478"

// IPResolver discovers the public address of this host.
type IPResolver interface {
	PublicIP(ctx context.Context) (net.IP, error)
}

// STUNResolver tries each server in order and returns the first mapped address.
type STUNResolver struct {
	Servers []string
	Timeout time.Duration
}

func (r STUNResolver) PublicIP(ctx context.Context) (net.IP, error) {
	servers := r.Servers
	if len(servers) == 0 {
		servers = []string{DefaultSTUNServer}
	}
	var lastErr error
	for _, server := range servers {
		ip, err := bindingRequest(ctx, server, r.Timeout)
		if err == nil {
			return ip, nil
		}
		lastErr = fmt.Errorf("stun %s: %w", server, err)
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("stun: no server answered")
	}
	return nil, lastErr
}

func bindingRequest(ctx context.Context, server string, timeout time.Duration) (net.IP, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return nil, errors.New("empty server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}
	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return nil, err
	}
	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return nil, err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan net.IP, 1)
	fail := make(chan error, 1)

	go func() {
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			var addr stun.XORMappedAddress
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr.IP
		})
		if err != nil {
			fail <- err
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case ip := <-result:
		return ip, nil
	case err := <-fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
