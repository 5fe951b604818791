package relay

import (
	"fmt"
	"net"
	"time"
)

// proxyEndpoint is one registered backend: its tunnel socket, the client
// listener allocated for it, and the port clients use to reach it.
type proxyEndpoint struct {
	id          string
	tunnel      net.Conn
	remoteAddr  string
	listener    net.Listener
	clientPort  int
	connectedAt time.Time
}

// clientConn is one accepted public client, routed to the proxy endpoint
// owning the port it connected to.
type clientConn struct {
	tag      string
	conn     net.Conn
	peerAddr string
	port     int
}

// registry holds the relational state of the relay: proxy endpoints indexed
// by id and by client port, and client connections indexed by tag. It is
// owned exclusively by the relay loop; every mutation happens there.
type registry struct {
	proxies map[string]*proxyEndpoint
	byPort  map[int]*proxyEndpoint
	clients map[string]*clientConn
}

func newRegistry() *registry {
	return &registry{
		proxies: make(map[string]*proxyEndpoint),
		byPort:  make(map[int]*proxyEndpoint),
		clients: make(map[string]*clientConn),
	}
}

func (r *registry) addProxy(ep *proxyEndpoint) error {
	if _, exists := r.proxies[ep.id]; exists {
		return fmt.Errorf("proxy id already registered: %s", ep.id)
	}
	if other, exists := r.byPort[ep.clientPort]; exists {
		return fmt.Errorf("client port %d already owned by proxy %s", ep.clientPort, other.id)
	}
	r.proxies[ep.id] = ep
	r.byPort[ep.clientPort] = ep
	return nil
}

// removeProxy drops both indexes for ep. A missing index entry means the
// registry invariants were already broken and is reported, not papered over.
func (r *registry) removeProxy(ep *proxyEndpoint) error {
	if _, exists := r.proxies[ep.id]; !exists {
		return fmt.Errorf("proxy %s missing from id index", ep.id)
	}
	if _, exists := r.byPort[ep.clientPort]; !exists {
		return fmt.Errorf("proxy %s missing from port index %d", ep.id, ep.clientPort)
	}
	delete(r.proxies, ep.id)
	delete(r.byPort, ep.clientPort)
	return nil
}

func (r *registry) addClient(cc *clientConn) error {
	if _, exists := r.clients[cc.tag]; exists {
		return fmt.Errorf("duplicate client tag: %s", cc.tag)
	}
	r.clients[cc.tag] = cc
	return nil
}

func (r *registry) removeClient(tag string) *clientConn {
	cc := r.clients[tag]
	delete(r.clients, tag)
	return cc
}

// clientsOnPort returns every live client routed through the given port.
func (r *registry) clientsOnPort(port int) []*clientConn {
	var out []*clientConn
	for _, cc := range r.clients {
		if cc.port == port {
			out = append(out, cc)
		}
	}
	return out
}
