package main

import (
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/matst80/portmux/internal/obs"
	"github.com/matst80/portmux/internal/proto"
)

var errRejected = errors.New("relay rejected proxy id")

func main() {
	flag.Parse()
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	obs.Info("client.start", obs.Fields{"id": cfg.ID, "server": cfg.ServerAddr, "target": cfg.Target})
	for {
		err := runOnce(cfg.ServerAddr, cfg.ID, cfg.Target)
		if errors.Is(err, errRejected) {
			// Another proxy already holds this id; retrying cannot help.
			obs.Error("client.rejected", obs.Fields{"id": cfg.ID})
			os.Exit(1)
		}
		obs.Warn("client.tunnel_ended", obs.Fields{"err": errString(err)})
		time.Sleep(cfg.Retry)
		obs.Info("client.reconnecting", obs.Fields{"server": cfg.ServerAddr})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func runOnce(serverAddr, id, target string) error {
	tunnel, err := net.Dial("tcp", serverAddr)
	if err != nil {
		return err
	}
	defer tunnel.Close()
	if err := proto.WriteID(tunnel, id); err != nil {
		return err
	}
	var verdict [1]byte
	if _, err := io.ReadFull(tunnel, verdict[:]); err != nil {
		return err
	}
	if verdict[0] != proto.Accepted {
		return errRejected
	}
	obs.Info("client.registered", obs.Fields{"id": id})

	s := &session{tunnel: tunnel, target: target, locals: make(map[string]net.Conn)}
	defer s.closeAll()
	for {
		frame, err := proto.ReadFrame(tunnel)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		s.handleFrame(frame)
	}
}

// session is one established tunnel and the local connections multiplexed
// over it, one per relay-side client tag.
type session struct {
	tunnel net.Conn
	target string

	writeMu sync.Mutex // serializes frames onto the tunnel
	mu      sync.Mutex // guards locals
	locals  map[string]net.Conn
}

func (s *session) handleFrame(frame []byte) {
	tag, payload, err := proto.SplitEnvelope(frame)
	if err != nil {
		obs.Error("client.frame.malformed", obs.Fields{"err": err.Error()})
		return
	}
	local := s.localFor(tag)
	if local == nil {
		return
	}
	if _, err := local.Write(payload); err != nil {
		obs.Warn("client.local.write", obs.Fields{"err": err.Error(), "tag": tag})
		s.dropLocal(tag)
	}
}

// localFor returns the local connection for tag, dialing the target on
// first use.
func (s *session) localFor(tag string) net.Conn {
	s.mu.Lock()
	local, ok := s.locals[tag]
	s.mu.Unlock()
	if ok {
		return local
	}
	local, err := net.Dial("tcp", s.target)
	if err != nil {
		obs.Error("client.local.dial", obs.Fields{"err": err.Error(), "target": s.target, "tag": tag})
		return nil
	}
	s.mu.Lock()
	s.locals[tag] = local
	s.mu.Unlock()
	obs.Debug("client.local.open", obs.Fields{"tag": tag})
	go s.readLocal(tag, local)
	return local
}

// readLocal pumps local replies back over the tunnel, tagged.
func (s *session) readLocal(tag string, local net.Conn) {
	buf := make([]byte, 16*1024)
	for {
		n, err := local.Read(buf)
		if n > 0 {
			if werr := s.writeFrame(tag, buf[:n]); werr != nil {
				obs.Warn("client.tunnel.write", obs.Fields{"err": werr.Error(), "tag": tag})
				s.dropLocal(tag)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				obs.Warn("client.local.read", obs.Fields{"err": err.Error(), "tag": tag})
			}
			s.dropLocal(tag)
			return
		}
	}
}

func (s *session) writeFrame(tag string, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return proto.WriteFrame(s.tunnel, proto.Envelope(tag, data))
}

func (s *session) dropLocal(tag string) {
	s.mu.Lock()
	local, ok := s.locals[tag]
	delete(s.locals, tag)
	s.mu.Unlock()
	if ok {
		_ = local.Close()
	}
}

func (s *session) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tag, local := range s.locals {
		_ = local.Close()
		delete(s.locals, tag)
	}
}
