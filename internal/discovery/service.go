package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opsmesh/opsmesh/internal/a2a"
	"go.uber.org/zap"
)

var (
	// ErrValidation rejects a malformed registration.
	ErrValidation = errors.New("invalid registration")
	// ErrNotRegistered is returned for heartbeats from unknown agents.
	ErrNotRegistered = errors.New("agent not registered")
)

// Options tune the liveness windows of the service.
type Options struct {
	// Liveness is how long an agent may stay silent before it is marked
	// UNREACHABLE.
	Liveness time.Duration
	// Grace is how long an UNREACHABLE agent is kept before eviction.
	Grace time.Duration
	// SweepInterval is how often the sweep runs.
	SweepInterval time.Duration
}

// Service owns the agent registry: it processes registration, heartbeats
// and capability searches, and expires agents whose heartbeat has lapsed.
type Service struct {
	reg    *Registry
	opts   Options
	logger *zap.Logger
}

// NewService creates a discovery service with its own registry.
func NewService(opts Options, logger *zap.Logger) *Service {
	if opts.Liveness <= 0 {
		opts.Liveness = 60 * time.Second
	}
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 10 * time.Second
	}
	return &Service{reg: NewRegistry(), opts: opts, logger: logger}
}

// Registry exposes read-only access to the registry for observability.
func (s *Service) Registry() *Registry { return s.reg }

// Register adds or replaces the descriptor for card.AgentID. A card with no
// capabilities or an unsupported protocol version is rejected.
func (s *Service) Register(card a2a.AgentCard) error {
	if card.AgentID == "" {
		return fmt.Errorf("%w: empty agent_id", ErrValidation)
	}
	if len(card.Capabilities) == 0 {
		return fmt.Errorf("%w: agent %s declares no capabilities", ErrValidation, card.AgentID)
	}
	if card.ProtocolVersion == "" {
		card.ProtocolVersion = a2a.ProtocolVersion
	}
	if card.ProtocolVersion != a2a.ProtocolVersion {
		return fmt.Errorf("%w: agent %s speaks protocol %s, supported %s",
			ErrValidation, card.AgentID, card.ProtocolVersion, a2a.ProtocolVersion)
	}

	s.reg.put(&Descriptor{
		AgentCard:     card,
		Status:        a2a.StatusActive,
		LastHeartbeat: time.Now(),
	})
	s.logger.Info("agent registered",
		zap.String("agent", card.AgentID),
		zap.Int("capabilities", len(card.Capabilities)))
	return nil
}

// Deregister removes an agent. Removing an absent agent is a no-op.
func (s *Service) Deregister(agentID string) {
	if _, ok := s.reg.get(agentID); !ok {
		return
	}
	s.reg.delete(agentID)
	s.logger.Info("agent deregistered", zap.String("agent", agentID))
}

// Heartbeat refreshes an agent's liveness and status.
func (s *Service) Heartbeat(agentID string, status a2a.AgentStatus) error {
	ok := s.reg.update(agentID, func(d *Descriptor) {
		d.Status = status
		d.LastHeartbeat = time.Now()
	})
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, agentID)
	}
	return nil
}

// FindByCapability returns reachable agents declaring the capability,
// most idle first. An empty result is a normal, reportable condition.
func (s *Service) FindByCapability(name string) []Descriptor {
	return s.reg.byCapability(name)
}

// Sweep marks agents silent beyond the liveness window UNREACHABLE and
// evicts agents that stayed UNREACHABLE past the grace window.
func (s *Service) Sweep() {
	now := time.Now()
	for _, d := range s.reg.List() {
		silent := now.Sub(d.LastHeartbeat)
		switch {
		case d.Status != a2a.StatusUnreachable && silent > s.opts.Liveness:
			if err := s.markUnreachable(d.AgentID); err == nil {
				s.logger.Warn("agent unreachable",
					zap.String("agent", d.AgentID),
					zap.Duration("silent", silent))
			}
		case d.Status == a2a.StatusUnreachable && silent > s.opts.Liveness+s.opts.Grace:
			s.reg.delete(d.AgentID)
			s.logger.Warn("agent evicted", zap.String("agent", d.AgentID))
		}
	}
}

func (s *Service) markUnreachable(agentID string) error {
	ok := s.reg.update(agentID, func(d *Descriptor) {
		d.Status = a2a.StatusUnreachable
	})
	if !ok {
		return ErrNotRegistered
	}
	return nil
}

// Run sweeps periodically until the context is cancelled. Sweeping never
// blocks FindByCapability callers.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}
