package natsutil

import (
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// StreamManager is the part of nats.JetStreamContext used for stream setup
type StreamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// EnsureStream creates or updates a NATS JetStream stream.
// maxAge <= 0 keeps messages until the discard policy removes them.
func EnsureStream(js StreamManager, name string, subjects []string, maxAge time.Duration, logger *zap.SugaredLogger) error {
	config := &nats.StreamConfig{
		Name:       name,
		Subjects:   subjects,
		Storage:    nats.FileStorage,
		Replicas:   1,
		MaxAge:     maxAge,
		Discard:    nats.DiscardOld,
		Duplicates: 2 * time.Minute, // dedup window for Nats-Msg-Id
	}

	stream, err := js.StreamInfo(name)
	if stream != nil && err == nil {
		if _, err := js.UpdateStream(config); err != nil {
			logger.Errorf("Failed to update stream %s: %v", name, err)
			return err
		}
		logger.Infof("✅ Updated stream: %s", name)
		return nil
	}

	if _, err := js.AddStream(config); err != nil {
		logger.Errorf("Failed to create stream %s: %v", name, err)
		return err
	}
	logger.Infof("✅ Created stream: %s", name)
	return nil
}
