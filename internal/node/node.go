package node

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"verimesh/internal/config"
	"verimesh/internal/consensus"
	"verimesh/internal/dataType"
	"verimesh/internal/events"
	"verimesh/internal/gossip"
	"verimesh/internal/lifecycle"
	"verimesh/internal/registry"
	"verimesh/internal/server"
	"verimesh/internal/telemetry"
	"verimesh/internal/utils"
	"verimesh/internal/verify"
)

// Node owns every piece of one mesh participant's state: registry,
// gossip coordinator, task engine, agreement coordinator, validator,
// bus, metrics. Nothing is process-global, so many nodes can share one
// process in tests and simulations.
type Node struct {
	Cfg       *config.MainConfig
	Bus       *events.Bus
	Registry  *registry.Registry
	Gossip    *gossip.Coordinator
	Lifecycle *lifecycle.Validator
	Engine    *verify.Engine
	Consensus *consensus.Coordinator
	Metrics   *telemetry.Metrics
	Server    *server.Server

	logx   *utils.LogxManager
	signer utils.Signer

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New wires a node. A nil transport selects HTTP delivery against the
// configured peer endpoints; tests pass an in-memory transport.
func New(cfg *config.MainConfig, transport gossip.Transport, logx *utils.LogxManager) *Node {
	if logx == nil {
		logx = utils.NewManager(cfg.LogPath)
	}

	signer := utils.NewHMACSigner(cfg.GlobalSecret)
	if transport == nil {
		transport = server.NewHTTPTransport(cfg.WebPath, signer)
	}

	bus := events.NewBus()
	metrics := telemetry.New(cfg.NodeName)
	reg := registry.NewRegistry(cfg.HeartbeatInterval(), bus, logx.GetLogger("registry"))
	gsp := gossip.NewCoordinator(cfg, reg, transport, bus, metrics, logx.GetLogger("gossip"))

	lifeval := lifecycle.NewValidator(cfg, bus,
		func() int { return len(reg.ActivePeers()) }, logx.GetLogger("lifecycle"))
	engine := verify.NewEngine(cfg, reg, gsp, lifeval, bus, metrics, logx.GetLogger("verify"))
	cons := consensus.NewCoordinator(cfg, reg, gsp, signer, bus, metrics, logx.GetLogger("consensus"))
	engine.SetStateProber(cons.ConsistencyProbe)

	srv := server.New(cfg, reg, gsp, engine, cons, lifeval, signer, metrics, logx.GetLogger("server"))

	return &Node{
		Cfg:       cfg,
		Bus:       bus,
		Registry:  reg,
		Gossip:    gsp,
		Lifecycle: lifeval,
		Engine:    engine,
		Consensus: cons,
		Metrics:   metrics,
		Server:    srv,
		logx:      logx,
		signer:    signer,
		stopCh:    make(chan struct{}),
	}
}

// Start registers the configured peers and launches the periodic loops.
func (n *Node) Start() error {
	if err := n.Registry.AddPeer(n.Cfg.NodeName, "http://localhost:"+n.Cfg.Port); err != nil {
		return err
	}
	for _, peer := range n.Cfg.Peers {
		if err := n.Registry.AddPeer(peer.Name, peer.Address); err != nil {
			n.logx.GetLogger("node").Warn("skipping peer",
				zap.String("peer", peer.Name), zap.Error(err))
		}
	}

	n.Gossip.Start()
	go n.Registry.StartSweeper(n.Cfg.HeartbeatInterval(), n.stopCh)
	go n.heartbeatLoop()
	return nil
}

func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		n.Gossip.Stop()
		n.Bus.Close()
	})
}

// heartbeatLoop advertises liveness over gossip and refreshes the peer
// gauge.
func (n *Node) heartbeatLoop() {
	ticker := time.NewTicker(n.Cfg.HeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.Gossip.Publish(dataType.GossipMessage{
				Type:    dataType.GossipTypeHeartbeat,
				Content: n.Cfg.NodeName,
			})
			n.Metrics.Peers.Set(float64(len(n.Registry.ActivePeers())))
		}
	}
}
