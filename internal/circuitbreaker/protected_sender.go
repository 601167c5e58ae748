package circuitbreaker

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/lalithlochan/deadlines/internal/gateway"
)

// ProtectedSender wraps a gateway.Sender with a CircuitBreaker. While the
// circuit is open, Send fails fast with ErrCircuitOpen.
type ProtectedSender struct {
	sender  gateway.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender gateway.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Protect wraps each sender in its own breaker named after the channel it serves.
func Protect(logger *zap.Logger, onChange func(name string, from, to State), senders map[string]gateway.Sender) []gateway.Sender {
	out := make([]gateway.Sender, 0, len(senders))
	for name, s := range senders {
		cfg := DefaultConfig(name)
		cfg.OnStateChange = onChange
		out = append(out, NewProtectedSender(s, New(cfg, logger), logger))
	}
	return out
}

func (p *ProtectedSender) Send(ctx context.Context, msg gateway.Message) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.Name()),
			zap.String("message_id", msg.ID),
			zap.String("channel", msg.Destination.Channel),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	if err := p.sender.Send(ctx, msg); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker returns the underlying circuit breaker.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}

// Snapshot collects breaker stats from every ProtectedSender in senders,
// ordered by breaker name. Unprotected senders are skipped.
func Snapshot(senders []gateway.Sender) []Stats {
	out := make([]Stats, 0, len(senders))
	for _, s := range senders {
		if p, ok := s.(*ProtectedSender); ok {
			out = append(out, p.breaker.Stats())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
