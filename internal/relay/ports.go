package relay

import (
	"errors"
	"net"
	"strconv"
	"syscall"

	"github.com/matst80/portmux/internal/obs"
)

// portAllocator hands out client-facing listener ports starting at a base,
// keeping a cursor at the lowest port not known to be in use. Freed ports
// below the cursor rewind it, so allocation prefers the lowest gap and the
// exposed port range stays compact under churn. Only the relay loop touches
// the allocator, so it needs no locking.
type portAllocator struct {
	host string
	next int
}

func newPortAllocator(host string, base int) *portAllocator {
	return &portAllocator{host: host, next: base}
}

// acquire binds a listener at the cursor, advancing past ports already in
// use. Any error other than address-in-use aborts the allocation.
func (a *portAllocator) acquire() (net.Listener, int, error) {
	port := a.next
	for {
		ln, err := net.Listen("tcp", net.JoinHostPort(a.host, strconv.Itoa(port)))
		if err == nil {
			bound := ln.Addr().(*net.TCPAddr).Port
			a.next = bound + 1
			return ln, bound, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, 0, err
		}
		obs.Debug("ports.in_use", obs.Fields{"port": port})
		port++
	}
}

// release returns a port to the allocator. The cursor rewinds to the freed
// port when it is lower, giving first-fit reuse.
func (a *portAllocator) release(port int) {
	if port < a.next {
		a.next = port
	}
}
