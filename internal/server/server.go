package server

import (
	"net/http"

	"go.uber.org/zap"

	"verimesh/internal/config"
	"verimesh/internal/consensus"
	"verimesh/internal/gossip"
	"verimesh/internal/lifecycle"
	"verimesh/internal/registry"
	"verimesh/internal/telemetry"
	"verimesh/internal/utils"
	"verimesh/internal/verify"
)

// Server is the HTTP boundary of one node: the signed peer-to-peer gossip
// endpoint, the claim-submission entry point, and the status surfaces.
type Server struct {
	cfg     *config.MainConfig
	reg     *registry.Registry
	gsp     *gossip.Coordinator
	engine  *verify.Engine
	cons    *consensus.Coordinator
	lifeval *lifecycle.Validator
	signer  utils.Signer
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

func New(cfg *config.MainConfig, reg *registry.Registry, gsp *gossip.Coordinator,
	engine *verify.Engine, cons *consensus.Coordinator, lifeval *lifecycle.Validator,
	signer utils.Signer, metrics *telemetry.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		reg:     reg,
		gsp:     gsp,
		engine:  engine,
		cons:    cons,
		lifeval: lifeval,
		signer:  signer,
		metrics: metrics,
		logger:  logger,
	}
}

// Handler builds the route table. Every route is instrumented.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	wp := s.cfg.WebPath

	mux.Handle(wp+"/gossip", s.metrics.Instrument("gossip", http.HandlerFunc(s.HandleGossip)))
	mux.Handle(wp+"/verify", s.metrics.Instrument("verify", http.HandlerFunc(s.handleVerify)))
	mux.Handle(wp+"/status", s.metrics.Instrument("status", http.HandlerFunc(s.handleStatus)))
	mux.Handle(wp+"/convergence", s.metrics.Instrument("convergence", http.HandlerFunc(s.handleConvergence)))
	mux.Handle(wp+"/suspects", s.metrics.Instrument("suspects", http.HandlerFunc(s.handleSuspects)))
	mux.Handle(wp+"/validations", s.metrics.Instrument("validations", http.HandlerFunc(s.handleValidations)))
	mux.Handle(wp+"/task", s.metrics.Instrument("task", http.HandlerFunc(s.handleTask)))
	mux.Handle(wp+"/health_check", s.metrics.Instrument("health", http.HandlerFunc(s.handleHealthCheck)))
	mux.Handle("/metrics", s.metrics.Handler())

	return mux
}

// ListenAndServe blocks serving the node's HTTP surface.
func (s *Server) ListenAndServe() error {
	return http.ListenAndServe(":"+s.cfg.Port, s.Handler())
}
