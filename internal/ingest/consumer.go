package ingest

import (
	"context"
	"time"
)

// MessageHandler processes the value of one message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, value []byte) error
}

// ConsumerOptions tunes retry behaviour. Zero values take defaults.
type ConsumerOptions struct {
	MinBackoff time.Duration // default 500ms
	MaxBackoff time.Duration // default 30s
}

// Consumer feeds messages from a source to a handler one at a time and
// commits each message only after the handler succeeded or rejected it
// permanently. Transient failures are retried with capped backoff until the
// context is cancelled, leaving the message uncommitted for redelivery.
type Consumer struct {
	source  MessageSource
	handler MessageHandler
	logger  Logger
	opts    ConsumerOptions
}

func NewConsumer(source MessageSource, handler MessageHandler, logger Logger, opts ConsumerOptions) *Consumer {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
		if opts.MaxBackoff < opts.MinBackoff {
			opts.MaxBackoff = opts.MinBackoff
		}
	}
	return &Consumer{
		source:  source,
		handler: handler,
		logger:  logger,
		opts:    opts,
	}
}

// Run consumes until ctx is cancelled. The message in hand when cancellation
// arrives is finished (handled and committed) before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")
	backoff := c.opts.MinBackoff
	for {
		msg, err := c.source.Fetch(ctx)
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped")
			return nil
		}
		if err != nil {
			c.logger.Error("fetching message", "error", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = c.nextBackoff(backoff)
			continue
		}
		backoff = c.opts.MinBackoff

		c.process(ctx, msg)
	}
}

// process handles one message, retrying transient failures.
func (c *Consumer) process(ctx context.Context, msg *Message) {
	work := context.WithoutCancel(ctx)
	backoff := c.opts.MinBackoff
	for attempt := 1; ; attempt++ {
		err := c.handler.HandleMessage(work, msg.Value)
		switch {
		case err == nil:
		case IsPermanent(err):
			c.logger.Warn("dropping message", "offset", msg.Offset, "partition", msg.Partition, "error", err)
		default:
			c.logger.Error("handling message", "offset", msg.Offset, "attempt", attempt, "error", err)
			if !sleepCtx(ctx, backoff) {
				c.logger.Warn("shutdown before message succeeded, leaving uncommitted", "offset", msg.Offset)
				return
			}
			backoff = c.nextBackoff(backoff)
			continue
		}

		if err := c.source.Commit(work, msg); err != nil {
			c.logger.Error("committing message", "offset", msg.Offset, "error", err)
		}
		return
	}
}

func (c *Consumer) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > c.opts.MaxBackoff {
		d = c.opts.MaxBackoff
	}
	return d
}

// sleepCtx waits for d or until ctx is done. Returns false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
