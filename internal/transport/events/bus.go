// Package events carries in-process domain events over a watermill gochannel.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// TopicArticleStored is published once per newly stored article.
const TopicArticleStored = "article.stored"

// ArticleStored is the payload of TopicArticleStored.
type ArticleStored struct {
	ArticleID string    `json:"article_id"`
	Source    string    `json:"source"`
	StoredAt  time.Time `json:"stored_at"`
}

// ArticleStoredHandler reacts to a stored article.
type ArticleStoredHandler func(ctx context.Context, evt ArticleStored) error

// Bus publishes and consumes events.
type Bus struct {
	pubsub  *gochannel.GoChannel
	logger  *zap.Logger
	workers int64
	wg      sync.WaitGroup
}

// New creates an in-process bus. workers bounds concurrent handler invocations per subscription.
func New(bufferSize int64, workers int, logger *zap.Logger) *Bus {
	if workers <= 0 {
		workers = 1
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: bufferSize},
			NewZapAdapter(logger),
		),
		logger:  logger,
		workers: int64(workers),
	}
}

// PublishArticleStored announces a stored article. It does not wait for consumers.
func (b *Bus) PublishArticleStored(ctx context.Context, evt ArticleStored) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", TopicArticleStored, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(TopicArticleStored, msg); err != nil {
		return fmt.Errorf("publish %s: %w", TopicArticleStored, err)
	}
	return nil
}

// SubscribeArticleStored starts consuming until ctx ends or the bus closes.
// Messages are acked on receipt; handler errors are logged and dropped.
func (b *Bus) SubscribeArticleStored(ctx context.Context, h ArticleStoredHandler) error {
	messages, err := b.pubsub.Subscribe(ctx, TopicArticleStored)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicArticleStored, err)
	}

	sem := semaphore.NewWeighted(b.workers)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range messages {
			var evt ArticleStored
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				b.logger.Error("Dropping malformed event",
					zap.String("topic", TopicArticleStored), zap.String("uuid", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			msg.Ack()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				defer sem.Release(1)
				if err := h(context.WithoutCancel(ctx), evt); err != nil {
					b.logger.Warn("Event handler failed",
						zap.String("topic", TopicArticleStored),
						zap.String("article_id", evt.ArticleID),
						zap.Error(err))
				}
			}()
		}
	}()
	return nil
}

// Close stops delivery and waits for running handlers.
func (b *Bus) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	if err != nil {
		return fmt.Errorf("close pubsub: %w", err)
	}
	return nil
}
