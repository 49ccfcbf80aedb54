package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/board-api/board"
	"taskboard/board-api/domain"
)

const publishTimeout = 5 * time.Second

// Publisher mirrors every broadcast snapshot to Redis: the latest snapshot is
// kept under a key and each one is published on a channel. It is an outbound
// notification only; the board never reads it back.
type Publisher struct {
	redis   *redis.Client
	channel string
	ttl     time.Duration
	mailbox *board.Mailbox
	logger  *log.Logger
}

// NewPublisher creates a publisher for channel. A non-positive ttl stores the
// latest snapshot without expiry.
func NewPublisher(client *redis.Client, channel string, ttl time.Duration, logger *log.Logger) *Publisher {
	if client == nil {
		panic("storage.NewPublisher: redis client is nil")
	}
	if logger == nil {
		panic("storage.NewPublisher: logger is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Publisher{
		redis:   client,
		channel: channel,
		ttl:     ttl,
		mailbox: board.NewMailbox(),
		logger:  logger,
	}
}

// Deliver queues s for publishing. It never blocks; snapshots not yet
// published are replaced by newer ones.
func (p *Publisher) Deliver(s domain.Snapshot) {
	p.mailbox.Deliver(s)
}

// Run publishes queued snapshots until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-p.mailbox.C():
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := p.Publish(pctx, s)
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				p.logger.WithError(err).WithField("revision", s.Revision).Warn("publish snapshot")
			}
		}
	}
}

// Publish stores s as the latest snapshot and announces it on the channel.
func (p *Publisher) Publish(ctx context.Context, s domain.Snapshot) error {
	data, err := sonic.ConfigStd.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	pipe := p.redis.Pipeline()
	pipe.Set(ctx, p.latestKey(), data, p.ttl)
	pipe.Publish(ctx, p.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish snapshot %d: %w", s.Revision, err)
	}
	p.logger.WithFields(log.Fields{"revision": s.Revision, "tasks": len(s.Tasks)}).Debug("snapshot published")
	return nil
}

// Latest returns the most recently published snapshot. ok is false when none
// is stored.
func (p *Publisher) Latest(ctx context.Context) (domain.Snapshot, bool, error) {
	data, err := p.redis.Get(ctx, p.latestKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	var s domain.Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &s); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, true, nil
}

func (p *Publisher) latestKey() string {
	return p.channel + ":latest"
}
