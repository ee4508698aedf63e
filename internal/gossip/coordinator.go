package gossip

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"verimesh/internal/config"
	"verimesh/internal/dataType"
	"verimesh/internal/events"
	"verimesh/internal/registry"
	"verimesh/internal/telemetry"
)

const (
	// MaxAge bounds how long a message id stays in the seen-set and how
	// long an unconverged message keeps being pushed.
	MaxAge = 10 * time.Minute
	// MaxHops caps re-propagation depth as a second line of defense
	// behind the seen-set.
	MaxHops = 16
)

// Handler consumes a delivered gossip message. Handlers run on the
// delivery goroutine and must not block.
type Handler func(msg dataType.GossipMessage)

type pendingMessage struct {
	msg     dataType.GossipMessage
	acked   map[string]struct{}
	created time.Time
}

// Coordinator implements push-based epidemic dissemination: every round it
// contacts min(k, |active peers|) peers chosen at random and pushes the
// messages they have not acknowledged. Duplicate deliveries are no-ops via
// the seen-set, so reordering never threatens correctness.
type Coordinator struct {
	cfg       *config.MainConfig
	reg       *registry.Registry
	transport Transport
	seen      *dataType.SeenList
	bus       *events.Bus
	metrics   *telemetry.Metrics
	logger    *zap.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	pending  map[uint64]*pendingMessage // keyed by xxhash of message id

	localSeq int64
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewCoordinator(cfg *config.MainConfig, reg *registry.Registry, transport Transport,
	bus *events.Bus, metrics *telemetry.Metrics, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:       cfg,
		reg:       reg,
		transport: transport,
		seen:      dataType.NewSeenList(MaxAge),
		bus:       bus,
		metrics:   metrics,
		logger:    logger,
		handlers:  make(map[string][]Handler),
		pending:   make(map[uint64]*pendingMessage),
		stopCh:    make(chan struct{}),
	}
}

// Subscribe registers a handler for one message type.
func (c *Coordinator) Subscribe(msgType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], h)
}

// Start runs the round ticker and the seen-set sweeper.
func (c *Coordinator) Start() {
	go c.runRounds()
	go dataType.StartSeenListGC(c.seen, c.stopCh)
}

func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Publish originates a message on this node: enrich, mark seen, track for
// convergence, and push to the first fanout set.
func (c *Coordinator) Publish(msg dataType.GossipMessage) dataType.GossipMessage {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.Timestamp = time.Now().Unix()
	msg.OriginNode = c.cfg.NodeName
	msg.Seq = atomic.AddInt64(&c.localSeq, 1)

	c.seen.MarkSeen(msg.ID)
	c.track(msg)
	if c.metrics != nil {
		c.metrics.GossipMessagesTotal.WithLabelValues(msg.Type, "out").Inc()
	}
	c.pushRound(msg)
	return msg
}

// HandleMessage is the inbound path: dedup, deliver locally, re-broadcast.
// Applying a message twice is a no-op by construction.
func (c *Coordinator) HandleMessage(msg dataType.GossipMessage) {
	if msg.OriginNode != "" && msg.OriginNode != c.cfg.NodeName {
		c.reg.Heartbeat(msg.OriginNode)
	}

	if !c.seen.MarkSeen(msg.ID) {
		return
	}
	if c.metrics != nil {
		c.metrics.GossipMessagesTotal.WithLabelValues(msg.Type, "in").Inc()
	}

	c.mu.RLock()
	handlers := append([]Handler(nil), c.handlers[msg.Type]...)
	c.mu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}

	// Epidemic re-broadcast to infect peers the origin did not reach.
	if msg.HopCount < MaxHops {
		msg.HopCount++
		c.track(msg)
		c.pushRound(msg)
	}
}

func (c *Coordinator) track(msg dataType.GossipMessage) {
	key := xxhash.Sum64String(msg.ID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[key]; !exists {
		c.pending[key] = &pendingMessage{
			msg:     msg,
			acked:   make(map[string]struct{}),
			created: time.Now(),
		}
	}
}

// pushRound pushes one message to up to fanout unacked peers.
func (c *Coordinator) pushRound(msg dataType.GossipMessage) {
	key := xxhash.Sum64String(msg.ID)
	peers := c.unackedPeers(key)
	if len(peers) == 0 {
		return
	}

	k := c.cfg.EffectiveFanout(len(peers))
	perm := rand.Perm(len(peers))
	for i := 0; i < k; i++ {
		peer := peers[perm[i]]
		go c.sendTo(peer, msg, key)
	}
}

func (c *Coordinator) unackedPeers(key uint64) []dataType.Node {
	c.mu.RLock()
	pm := c.pending[key]
	var acked map[string]struct{}
	if pm != nil {
		acked = make(map[string]struct{}, len(pm.acked))
		for id := range pm.acked {
			acked[id] = struct{}{}
		}
	}
	c.mu.RUnlock()

	var out []dataType.Node
	for _, peer := range c.reg.ActivePeers() {
		if peer.ID == c.cfg.NodeName {
			continue
		}
		if _, ok := acked[peer.ID]; ok {
			continue
		}
		out = append(out, peer)
	}
	return out
}

func (c *Coordinator) sendTo(peer dataType.Node, msg dataType.GossipMessage, key uint64) {
	if err := c.transport.Send(peer, msg); err != nil {
		// Transient: demote and retry next round, never surface to callers.
		c.logger.Warn("gossip send failed",
			zap.String("peer", peer.ID), zap.String("msg", msg.ID), zap.Error(err))
		c.reg.MarkSuspected(peer.ID)
		if c.metrics != nil {
			c.metrics.GossipSendFailures.Inc()
		}
		if c.bus != nil {
			c.bus.Publish(events.PeerFailed, peer.ID)
		}
		return
	}

	c.mu.Lock()
	if pm, exists := c.pending[key]; exists {
		pm.acked[peer.ID] = struct{}{}
	}
	c.mu.Unlock()
}

func (c *Coordinator) runRounds() {
	ticker := time.NewTicker(c.cfg.GossipInterval())
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.round()
		}
	}
}

// round re-pushes every tracked message that has unacked peers, and drops
// messages past MaxAge from the pending table.
func (c *Coordinator) round() {
	if c.metrics != nil {
		c.metrics.GossipRoundsTotal.Inc()
	}

	now := time.Now()
	var resend []dataType.GossipMessage

	c.mu.Lock()
	for key, pm := range c.pending {
		if now.Sub(pm.created) > MaxAge {
			delete(c.pending, key)
			continue
		}
		resend = append(resend, pm.msg)
	}
	c.mu.Unlock()

	for _, msg := range resend {
		c.pushRound(msg)
	}
}

// ConvergenceFraction is the share of known non-failed peers (excluding
// this node) that have acknowledged the message.
func (c *Coordinator) ConvergenceFraction(msgID string) float64 {
	total := 0
	for _, peer := range c.reg.ActivePeers() {
		if peer.ID != c.cfg.NodeName {
			total++
		}
	}
	if total == 0 {
		return 1.0
	}

	key := xxhash.Sum64String(msgID)
	c.mu.RLock()
	defer c.mu.RUnlock()
	pm, exists := c.pending[key]
	if !exists {
		if c.seen.IsSeen(msgID) {
			return 1.0
		}
		return 0
	}
	return float64(len(pm.acked)) / float64(total)
}

// ConvergenceMetrics returns the delivery fraction of every tracked message.
func (c *Coordinator) ConvergenceMetrics() map[string]float64 {
	c.mu.RLock()
	ids := make([]string, 0, len(c.pending))
	for _, pm := range c.pending {
		ids = append(ids, pm.msg.ID)
	}
	c.mu.RUnlock()

	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		out[id] = c.ConvergenceFraction(id)
	}
	return out
}

// HasSeen reports whether the message id was already applied locally.
func (c *Coordinator) HasSeen(msgID string) bool {
	return c.seen.IsSeen(msgID)
}
