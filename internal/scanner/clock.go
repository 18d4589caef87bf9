package scanner

import (
	"context"
	"net"
	"time"
)

// Clock abstracts wall-clock time and timers.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the real clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ReachabilityProbe reports whether any network path exists. It is a coarse
// check: true does not mean the provider will answer.
type ReachabilityProbe interface {
	Reachable(ctx context.Context) bool
}

// ProbeFunc adapts a function to ReachabilityProbe.
type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) Reachable(ctx context.Context) bool { return f(ctx) }

// InterfaceProbe reports the network reachable when at least one non-loopback
// interface is up and has an address assigned.
type InterfaceProbe struct {
	// interfaces lists the host's interfaces; nil uses net.Interfaces
	interfaces func() ([]net.Interface, error)
}

func (p InterfaceProbe) Reachable(ctx context.Context) bool {
	list := p.interfaces
	if list == nil {
		list = net.Interfaces
	}

	ifaces, err := list()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
