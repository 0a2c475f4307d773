package netutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrNoAddr is returned when neither the preferred address nor any
// candidate could be bound.
var ErrNoAddr = errors.New("no available bind address")

// CandidateAddrs expands ports into addresses on the host of preferred.
// The preferred address itself is skipped.
func CandidateAddrs(preferred string, ports []int) ([]string, error) {
	host, _, err := net.SplitHostPort(preferred)
	if err != nil {
		return nil, fmt.Errorf("bind address %q: %w", preferred, err)
	}
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		addr := net.JoinHostPort(host, strconv.Itoa(p))
		if addr == preferred {
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

// Listen binds preferred, or the first free candidate when autoFallback is
// set. The returned listener is handed straight to http.Server.Serve so the
// port cannot be taken between selection and use.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	ln, err := net.Listen("tcp", preferred)
	if err == nil {
		return ln, nil
	}
	if !autoFallback {
		return nil, fmt.Errorf("preferred bind address in use: %s: %w", preferred, err)
	}

	for _, addr := range candidates {
		if ln, err := net.Listen("tcp", addr); err == nil {
			return ln, nil
		}
	}
	return nil, ErrNoAddr
}
