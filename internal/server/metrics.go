package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the gateway's prometheus collectors on a private registry.
type metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	toolCalls *prometheus.CounterVec
}

func newMetrics(s *Server) *metrics {
	registry := prometheus.NewRegistry()
	m := &metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketmcp",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status.",
		}, []string{"method", "status"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketmcp",
			Name:      "tool_calls_total",
			Help:      "MCP tool invocations, by tool name.",
		}, []string{"tool"}),
	}
	registry.MustRegister(m.requests, m.toolCalls)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "ticketmcp",
		Name:      "active_sessions",
		Help:      "Sessions currently tracked across both transports.",
	}, func() float64 {
		return float64(s.sessions.Count() + s.legacySessions.Count())
	}))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "ticketmcp",
		Name:      "active_connections",
		Help:      "Live SSE streams.",
	}, func() float64 {
		return float64(s.streams.ActiveCount())
	}))
	return m
}

func (m *metrics) observeRequest(method string, status int) {
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *metrics) observeToolCall(tool string) {
	m.toolCalls.WithLabelValues(tool).Inc()
}
