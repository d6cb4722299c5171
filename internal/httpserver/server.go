package httpserver

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Mux *mux.Router
}

func New() *Server {
	return &Server{Mux: mux.NewRouter()}
}

// WithMetrics mounts the Prometheus handler at /metrics.
func (s *Server) WithMetrics() *Server {
	s.Mux.Handle("/metrics", promhttp.Handler())
	return s
}
