package natsutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// AsyncPublisher is the part of nats.JetStreamContext used for publishing
type AsyncPublisher interface {
	PublishMsgAsync(m *nats.Msg, opts ...nats.PubOpt) (nats.PubAckFuture, error)
	PublishAsyncComplete() <-chan struct{}
}

// Publisher announces cycle results on JetStream
type Publisher struct {
	js             AsyncPublisher
	perOpportunity bool
	logger         *zap.SugaredLogger
}

// NewPublisher creates a publisher; perOpportunity also emits one message per opportunity
func NewPublisher(js AsyncPublisher, perOpportunity bool, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{js: js, perOpportunity: perOpportunity, logger: logger}
}

// Publish sends the batch and waits for the broker to ack it or ctx to end.
// Message ids are derived from the cycle id so a retried cycle is deduplicated.
func (p *Publisher) Publish(ctx context.Context, res domain.CycleResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if _, err := p.js.PublishMsgAsync(message(domain.SubjectBatch, res.ID, data)); err != nil {
		return fmt.Errorf("publish %s: %w", domain.SubjectBatch, err)
	}

	if p.perOpportunity {
		for _, op := range res.Opportunities {
			body, err := json.Marshal(op)
			if err != nil {
				return err
			}
			subject := domain.SubjectOpportunity(op.Symbol)
			if _, err := p.js.PublishMsgAsync(message(subject, res.ID+":"+op.Key(), body)); err != nil {
				p.logger.Warnf("Failed to publish %s: %v", subject, err)
			}
		}
	}

	select {
	case <-p.js.PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for publish acks: %w", ctx.Err())
	}
}

func message(subject, id string, data []byte) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Data = data
	m.Header.Set(nats.MsgIdHdr, id)
	return m
}
