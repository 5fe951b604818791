package main

import (
	"time"

	"github.com/matst80/portmux/internal/relay"
)

// Stats represents current server stats for dashboards & API.
type Stats struct {
	Proxies      int64  `json:"proxies"`
	Clients      int64  `json:"clients"`
	TotalProxies int64  `json:"total_proxies"`
	Rejects      int64  `json:"rejects"`
	Now          string `json:"now"`
}

func collectStats(r *relay.Relay) Stats {
	s := r.Stats()
	return Stats{Proxies: s.Proxies, Clients: s.Clients, TotalProxies: s.TotalProxies, Rejects: s.Rejects, Now: time.Now().UTC().Format(time.RFC3339)}
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Proxies":      s.Proxies,
		"Clients":      s.Clients,
		"TotalProxies": s.TotalProxies,
		"Rejects":      s.Rejects,
	}
}
