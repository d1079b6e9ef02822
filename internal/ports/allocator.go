package ports

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoFreePort is returned when the scan window is exhausted. The caller
// must treat this as fatal: it indicates host resource exhaustion, and
// retrying would not help.
var ErrNoFreePort = errors.New("no free port in scan window")

// DefaultWindow bounds how many consecutive ports Allocate probes.
const DefaultWindow = 100

// listenFn is swapped in tests to simulate occupied ports.
type listenFn func(network, address string) (net.Listener, error)

// Allocator finds an unused local TCP port by scanning upward from a base.
type Allocator struct {
	listen listenFn
}

// NewAllocator builds an allocator probing real loopback sockets.
func NewAllocator() *Allocator {
	return &Allocator{listen: net.Listen}
}

// Allocate scans from base upward and returns the first free port.
// It probes at most window candidates; window <= 0 uses DefaultWindow.
func (a *Allocator) Allocate(base, window int) (int, error) {
	if base <= 0 || base > 65535 {
		return 0, fmt.Errorf("invalid base port: %d", base)
	}
	if window <= 0 {
		window = DefaultWindow
	}

	for port := base; port < base+window && port <= 65535; port++ {
		ln, err := a.listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, nil
	}

	return 0, fmt.Errorf("%w: scanned %d ports from %d", ErrNoFreePort, window, base)
}

// NewAllocatorForTests builds an allocator with an injected listen function.
func NewAllocatorForTests(listen func(network, address string) (net.Listener, error)) *Allocator {
	return &Allocator{listen: listen}
}
