package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matst80/portmux/internal/directory"
	"github.com/matst80/portmux/internal/obs"
	"github.com/matst80/portmux/internal/proto"
	"github.com/matst80/portmux/internal/ratelimit"
)

// clientReadSize bounds a single read from a client socket.
const clientReadSize = 16 * 1024

// Config holds the relay's listening parameters.
type Config struct {
	Host           string
	ProxyPort      int
	ClientBasePort int
}

// Relay multiplexes many public client connections over one tunnel socket
// per registered proxy. A single loop goroutine owns the registry and the
// port allocator and performs every state transition and relay write;
// acceptor and reader goroutines only deliver events to it. The directory
// store is the one piece of state read from outside the loop.
type Relay struct {
	cfg     Config
	dir     directory.Store
	limiter *ratelimit.Limiter

	proxyLn net.Listener
	reg     *registry
	ports   *portAllocator
	events  chan event
	stopCh  chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup

	running       atomic.Bool
	activeProxies atomic.Int64
	activeClients atomic.Int64
	totalProxies  atomic.Int64
	totalRejects  atomic.Int64
}

type event any

type proxyConnEvent struct{ conn net.Conn }

type clientConnEvent struct {
	conn net.Conn
	port int
}

type clientDataEvent struct {
	tag  string
	data []byte
}

type clientClosedEvent struct {
	tag string
	err error
}

type tunnelFrameEvent struct {
	id    string
	frame []byte
}

type tunnelClosedEvent struct {
	id  string
	err error
}

// New builds a relay. limiter may be nil to disable handshake limiting.
func New(cfg Config, dir directory.Store, limiter *ratelimit.Limiter) *Relay {
	return &Relay{
		cfg:     cfg,
		dir:     dir,
		limiter: limiter,
		reg:     newRegistry(),
		ports:   newPortAllocator(cfg.Host, cfg.ClientBasePort),
		events:  make(chan event, 256),
		stopCh:  make(chan struct{}),
	}
}

// Start binds the proxy listener and launches the event loop. It returns
// once the relay is accepting proxies.
func (r *Relay) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.ProxyPort)))
	if err != nil {
		return fmt.Errorf("listen proxy: %w", err)
	}
	r.proxyLn = ln
	r.running.Store(true)
	obs.Info("relay.start", obs.Fields{"proxy_addr": ln.Addr().String(), "client_base_port": r.cfg.ClientBasePort})
	r.wg.Add(2)
	go func() { defer r.wg.Done(); r.acceptProxies() }()
	go func() { defer r.wg.Done(); r.loop() }()
	return nil
}

// Stop ends the loop without flushing in-flight data and waits for all
// relay goroutines to exit. Safe to call more than once.
func (r *Relay) Stop() {
	r.stop.Do(func() {
		close(r.stopCh)
		if r.proxyLn != nil {
			_ = r.proxyLn.Close()
		}
	})
	r.wg.Wait()
}

// Running reports whether the loop has started and not yet shut down.
func (r *Relay) Running() bool { return r.running.Load() }

// ProxyAddr returns the bound proxy listener address.
func (r *Relay) ProxyAddr() net.Addr { return r.proxyLn.Addr() }

// Stats is a point-in-time snapshot of relay counters.
type Stats struct {
	Proxies      int64 `json:"proxies"`
	Clients      int64 `json:"clients"`
	TotalProxies int64 `json:"total_proxies"`
	Rejects      int64 `json:"rejects"`
}

func (r *Relay) Stats() Stats {
	return Stats{
		Proxies:      r.activeProxies.Load(),
		Clients:      r.activeClients.Load(),
		TotalProxies: r.totalProxies.Load(),
		Rejects:      r.totalRejects.Load(),
	}
}

// post delivers an event to the loop unless the relay is stopping.
func (r *Relay) post(ev event) {
	select {
	case r.events <- ev:
	case <-r.stopCh:
	}
}

func (r *Relay) loop() {
	defer r.shutdown()
	for {
		select {
		case <-r.stopCh:
			return
		case ev := <-r.events:
			r.dispatch(ev)
		}
	}
}

func (r *Relay) dispatch(ev event) {
	switch e := ev.(type) {
	case proxyConnEvent:
		r.onProxyConn(e.conn)
	case clientConnEvent:
		r.onClientConn(e.conn, e.port)
	case clientDataEvent:
		r.onClientData(e.tag, e.data)
	case clientClosedEvent:
		r.onClientClosed(e.tag, e.err)
	case tunnelFrameEvent:
		r.onTunnelFrame(e.id, e.frame)
	case tunnelClosedEvent:
		r.onTunnelClosed(e.id, e.err)
	default:
		obs.Error("relay.unknown_event", obs.Fields{"event": fmt.Sprintf("%T", ev)})
	}
}

// shutdown tears down every endpoint. Runs on the loop goroutine, so the
// registry is still single-writer here.
func (r *Relay) shutdown() {
	r.running.Store(false)
	for _, ep := range r.reg.proxies {
		if err := r.teardownProxy(ep, false); err != nil {
			r.invariant("proxy.teardown", err)
		}
	}
	for tag := range r.reg.clients {
		r.dropClient(tag)
	}
	obs.Info("relay.stopped", obs.Fields{})
}

func (r *Relay) acceptProxies() {
	for {
		c, err := r.proxyLn.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				obs.Error("accept.proxy.temp", obs.Fields{"err": err.Error()})
				continue
			}
			return
		}
		r.post(proxyConnEvent{conn: c})
	}
}

func (r *Relay) acceptClients(ln net.Listener, port int) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				obs.Error("accept.client.temp", obs.Fields{"err": err.Error(), "port": port})
				continue
			}
			return
		}
		r.post(clientConnEvent{conn: c, port: port})
	}
}

// readTunnel delivers complete frames from one tunnel socket to the loop.
func (r *Relay) readTunnel(id string, conn net.Conn) {
	for {
		frame, err := proto.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil // orderly close
			}
			r.post(tunnelClosedEvent{id: id, err: err})
			return
		}
		r.post(tunnelFrameEvent{id: id, frame: frame})
	}
}

// readClient delivers bounded reads from one client socket to the loop.
func (r *Relay) readClient(tag string, conn net.Conn) {
	for {
		buf := make([]byte, clientReadSize)
		n, err := conn.Read(buf)
		if n > 0 {
			r.post(clientDataEvent{tag: tag, data: buf[:n]})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			r.post(clientClosedEvent{tag: tag, err: err})
			return
		}
	}
}

func (r *Relay) onProxyConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	if r.limiter != nil {
		ip, _, err := net.SplitHostPort(remote)
		if err != nil {
			ip = remote
		}
		if !r.limiter.Allow(ip) {
			obs.Warn("proxy.handshake.ratelimited", obs.Fields{"remote": remote})
			obs.ErrorsTotal.WithLabelValues("handshake_ratelimited").Inc()
			_ = conn.Close()
			return
		}
	}
	obs.Info("proxy.connected", obs.Fields{"remote": remote})
	// This read can stall the loop for its duration; registration is rare
	// and the id is 80 bytes, so that is accepted.
	id, err := proto.ReadID(conn)
	if err != nil {
		obs.Error("proxy.handshake.read", obs.Fields{"err": err.Error(), "remote": remote})
		obs.ErrorsTotal.WithLabelValues("handshake_read").Inc()
		_ = conn.Close()
		return
	}
	if _, exists := r.reg.proxies[id]; exists {
		obs.Warn("proxy.handshake.duplicate", obs.Fields{"proxy": id, "remote": remote})
		obs.HandshakeRejectsTotal.Inc()
		r.totalRejects.Add(1)
		_, _ = conn.Write([]byte{proto.Rejected})
		closeConn(conn, true)
		return
	}
	if _, err := conn.Write([]byte{proto.Accepted}); err != nil {
		obs.Error("proxy.handshake.write", obs.Fields{"err": err.Error(), "proxy": id})
		_ = conn.Close()
		return
	}
	ln, port, err := r.ports.acquire()
	if err != nil {
		obs.Error("proxy.listener.allocate", obs.Fields{"err": err.Error(), "proxy": id})
		obs.ErrorsTotal.WithLabelValues("allocate").Inc()
		_ = conn.Close()
		return
	}
	ep := &proxyEndpoint{
		id:          id,
		tunnel:      conn,
		remoteAddr:  remote,
		listener:    ln,
		clientPort:  port,
		connectedAt: time.Now(),
	}
	if err := r.reg.addProxy(ep); err != nil {
		r.invariant("proxy.register", err)
		_ = ln.Close()
		r.ports.release(port)
		_ = conn.Close()
		return
	}
	r.dir.Publish(id, port)
	r.activeProxies.Add(1)
	r.totalProxies.Add(1)
	obs.ActiveProxies.Inc()
	obs.ClientPortsInUse.Inc()
	obs.Info("proxy.registered", obs.Fields{"proxy": id, "client_port": port, "remote": remote})
	r.wg.Add(2)
	go func() { defer r.wg.Done(); r.acceptClients(ln, port) }()
	go func() { defer r.wg.Done(); r.readTunnel(id, conn) }()
}

func (r *Relay) onClientConn(conn net.Conn, port int) {
	if len(r.reg.proxies) == 0 {
		obs.Debug("client.no_proxies", obs.Fields{"remote": conn.RemoteAddr().String()})
		closeConn(conn, true)
		return
	}
	ep := r.reg.byPort[port]
	if ep == nil {
		// Accept raced with the owning proxy's teardown.
		obs.Debug("client.stale_listener", obs.Fields{"port": port})
		_ = conn.Close()
		return
	}
	tag := uuid.NewString()
	cc := &clientConn{tag: tag, conn: conn, peerAddr: conn.RemoteAddr().String(), port: port}
	if err := r.reg.addClient(cc); err != nil {
		r.invariant("client.register", err)
		_ = conn.Close()
		return
	}
	r.activeClients.Add(1)
	obs.ActiveClients.Inc()
	obs.Info("client.connected", obs.Fields{"remote": cc.peerAddr, "port": port, "tag": tag, "proxy": ep.id})
	r.wg.Add(1)
	go func() { defer r.wg.Done(); r.readClient(tag, conn) }()
}

func (r *Relay) onClientData(tag string, data []byte) {
	cc := r.reg.clients[tag]
	if cc == nil {
		return // removed while the read was in flight
	}
	ep := r.reg.byPort[cc.port]
	if ep == nil {
		r.invariant("client.route", fmt.Errorf("no proxy owns port %d of client %s", cc.port, tag))
		r.dropClient(tag)
		return
	}
	if err := proto.WriteFrame(ep.tunnel, proto.Envelope(tag, data)); err != nil {
		obs.Warn("tunnel.write", obs.Fields{"err": err.Error(), "proxy": ep.id})
		obs.ErrorsTotal.WithLabelValues("tunnel_write").Inc()
		if terr := r.teardownProxy(ep, false); terr != nil {
			r.invariant("proxy.teardown", terr)
		}
		return
	}
	obs.FramesRelayedTotal.WithLabelValues("to_proxy").Inc()
	obs.BytesRelayedTotal.WithLabelValues("to_proxy").Add(float64(len(data)))
	obs.Debug("relay.to_proxy", obs.Fields{"tag": tag, "bytes": len(data)})
}

func (r *Relay) onClientClosed(tag string, err error) {
	cc := r.reg.clients[tag]
	if cc == nil {
		return // cascade already removed it
	}
	if err != nil {
		obs.Warn("client.read", obs.Fields{"err": err.Error(), "tag": tag})
	} else {
		obs.Info("client.disconnected", obs.Fields{"tag": tag, "remote": cc.peerAddr})
	}
	r.dropClient(tag)
}

func (r *Relay) onTunnelFrame(id string, frame []byte) {
	ep := r.reg.proxies[id]
	if ep == nil {
		return // frame read raced with teardown
	}
	tag, payload, err := proto.SplitEnvelope(frame)
	if err != nil {
		obs.Error("frame.malformed", obs.Fields{"err": err.Error(), "proxy": id})
		obs.ErrorsTotal.WithLabelValues("malformed_frame").Inc()
		return
	}
	cc := r.reg.clients[tag]
	if cc == nil {
		// Client already gone; the proxy just doesn't know yet.
		obs.Debug("frame.client_gone", obs.Fields{"tag": tag, "proxy": id})
		return
	}
	if _, err := cc.conn.Write(payload); err != nil {
		// Reaped when its next read fails.
		obs.Warn("client.write", obs.Fields{"err": err.Error(), "tag": tag})
		obs.ErrorsTotal.WithLabelValues("client_write").Inc()
		return
	}
	obs.FramesRelayedTotal.WithLabelValues("to_client").Inc()
	obs.BytesRelayedTotal.WithLabelValues("to_client").Add(float64(len(payload)))
	obs.Debug("relay.to_client", obs.Fields{"tag": tag, "bytes": len(payload)})
}

func (r *Relay) onTunnelClosed(id string, err error) {
	ep := r.reg.proxies[id]
	if ep == nil {
		return // already torn down
	}
	if err != nil {
		obs.Warn("tunnel.read", obs.Fields{"err": err.Error(), "proxy": id})
	} else {
		obs.Info("proxy.disconnected", obs.Fields{"proxy": id})
	}
	if terr := r.teardownProxy(ep, true); terr != nil {
		r.invariant("proxy.teardown", terr)
	}
}

// teardownProxy releases everything ep owns, in order: tunnel socket,
// client listener plus its port, every client routed through that port,
// directory entry. Missing companion state aborts with an error rather than
// being silently tolerated.
func (r *Relay) teardownProxy(ep *proxyEndpoint, peerClosed bool) error {
	closeConn(ep.tunnel, !peerClosed)
	if ep.listener == nil {
		return fmt.Errorf("proxy %s has no client listener", ep.id)
	}
	_ = ep.listener.Close()
	r.ports.release(ep.clientPort)
	obs.ClientPortsInUse.Dec()
	clients := r.reg.clientsOnPort(ep.clientPort)
	for _, cc := range clients {
		r.dropClient(cc.tag)
	}
	if err := r.reg.removeProxy(ep); err != nil {
		return err
	}
	if !r.dir.Remove(ep.id) {
		return fmt.Errorf("proxy %s missing from directory", ep.id)
	}
	r.activeProxies.Add(-1)
	obs.ActiveProxies.Dec()
	obs.ProxySessionSeconds.Observe(time.Since(ep.connectedAt).Seconds())
	obs.Info("proxy.removed", obs.Fields{"proxy": ep.id, "client_port": ep.clientPort, "clients_closed": len(clients)})
	return nil
}

func (r *Relay) dropClient(tag string) {
	cc := r.reg.removeClient(tag)
	if cc == nil {
		return
	}
	_ = cc.conn.Close()
	r.activeClients.Add(-1)
	obs.ActiveClients.Dec()
}

func (r *Relay) invariant(op string, err error) {
	obs.Error(op, obs.Fields{"err": err.Error(), "invariant": true})
	obs.ErrorsTotal.WithLabelValues("invariant").Inc()
}

// closeConn closes c, first shutting down the write half when the peer may
// still be reading.
func closeConn(c net.Conn, shutdown bool) {
	if shutdown {
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}
	_ = c.Close()
}
