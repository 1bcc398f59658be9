package headers

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// hostWidth is how much of a resolved hostname is kept for display.
	hostWidth = 15
	// lookupTimeout bounds a single reverse lookup.
	lookupTimeout = time.Second * 2
)

// Endpoint renders an address as ip:port.
func Endpoint(ap netip.AddrPort) string {
	return ap.Addr().Unmap().String() + ":" + strconv.Itoa(int(ap.Port()))
}

// Date renders the capture date of a message as YYYY/MM/DD.
func Date(t time.Time) string { return t.Format("2006/01/02") }

// Time renders the capture time of a message with microseconds.
func Time(t time.Time) string { return t.Format("15:04:05.000000") }

// Resolver performs reverse DNS lookups, remembering every answer (including
// failures) so each address is only ever looked up once.
type Resolver struct {
	mu     sync.Mutex
	cache  map[netip.Addr]string
	lookup func(ctx context.Context, addr string) ([]string, error)
}

// NewResolver returns a Resolver using the system resolver.
func NewResolver() *Resolver {
	return NewResolverFunc(net.DefaultResolver.LookupAddr)
}

// NewResolverFunc returns a Resolver using lookup to resolve addresses.
func NewResolverFunc(lookup func(ctx context.Context, addr string) ([]string, error)) *Resolver {
	return &Resolver{
		cache:  make(map[netip.Addr]string),
		lookup: lookup,
	}
}

// Hostname returns the first name a resolves to, or its textual address if
// it has none.
func (r *Resolver) Hostname(a netip.Addr) string {
	a = a.Unmap()
	r.mu.Lock()
	name, ok := r.cache[a]
	r.mu.Unlock()
	if ok {
		return name
	}

	name = a.String()
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	if names, err := r.lookup(ctx, a.String()); err == nil && len(names) > 0 {
		name = strings.TrimSuffix(names[0], ".")
	}

	r.mu.Lock()
	r.cache[a] = name
	r.mu.Unlock()
	return name
}

// HostEndpoint renders an address as host:port, the host trimmed to a fixed
// display width.
func (r *Resolver) HostEndpoint(ap netip.AddrPort) string {
	host := r.Hostname(ap.Addr())
	if len(host) > hostWidth {
		host = host[:hostWidth]
	}
	return host + ":" + strconv.Itoa(int(ap.Port()))
}
