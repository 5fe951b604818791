package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveProxies         = promauto.NewGauge(prometheus.GaugeOpts{Name: "portmux_active_proxies", Help: "Currently registered proxy endpoints"})
	ActiveClients         = promauto.NewGauge(prometheus.GaugeOpts{Name: "portmux_active_clients", Help: "Currently connected client connections"})
	ClientPortsInUse      = promauto.NewGauge(prometheus.GaugeOpts{Name: "portmux_client_ports_in_use", Help: "Client listener ports currently bound"})
	FramesRelayedTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "portmux_frames_relayed_total", Help: "Tunnel frames relayed by direction"}, []string{"direction"})
	BytesRelayedTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "portmux_bytes_relayed_total", Help: "Payload bytes relayed by direction"}, []string{"direction"})
	HandshakeRejectsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "portmux_handshake_rejects_total", Help: "Proxy handshakes rejected (duplicate id)"})
	ErrorsTotal           = promauto.NewCounterVec(prometheus.CounterOpts{Name: "portmux_errors_total", Help: "Errors by type"}, []string{"type"})
	ProxySessionSeconds   = promauto.NewHistogram(prometheus.HistogramOpts{Name: "portmux_proxy_session_seconds", Help: "Proxy endpoint lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.1, 2, 16)})
)
