// Package notify fans task progress events out to external subscribers over
// redis pub/sub and websockets.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
)

// DefaultChannel is the redis channel progress events are published on.
const DefaultChannel = "task_progress"

const (
	publishQueue   = 256
	publishTimeout = 5 * time.Second
	drainTimeout   = 2 * time.Second
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type queuedEvent struct {
	ctx context.Context
	ev  task.Progress
}

// RedisPublisher publishes progress events as JSON on a redis channel.
// Notify only queues; a background goroutine publishes, so a slow server
// never delays the caller. Events are dropped when the queue is full.
type RedisPublisher struct {
	client  publisher
	closer  func() error
	channel string
	log     *logging.Logger

	mu     sync.RWMutex
	closed bool
	events chan queuedEvent
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

// NewRedisPublisher connects to the redis server at url (redis://...).
func NewRedisPublisher(ctx context.Context, url, channel string, log *logging.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisPublisher(client, client.Close, channel, log), nil
}

func newRedisPublisher(client publisher, closer func() error, channel string, log *logging.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logging.NewDiscard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &RedisPublisher{
		client:  client,
		closer:  closer,
		channel: channel,
		log:     log,
		events:  make(chan queuedEvent, publishQueue),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go p.run()
	return p
}

// Channel returns the channel events are published on.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Notify queues one event for publishing. It never blocks.
func (p *RedisPublisher) Notify(ctx context.Context, ev task.Progress) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- queuedEvent{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		p.log.WithTask(ctx, ev.TaskID).Debug("dropping progress event, redis publish queue full")
	}
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for q := range p.events {
		p.publish(q)
	}
}

func (p *RedisPublisher) publish(q queuedEvent) {
	payload, err := json.Marshal(q.ev)
	if err != nil {
		p.log.WithTask(q.ctx, q.ev.TaskID).WithError(err).Warn("marshal progress event")
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, publishTimeout)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.WithTask(q.ctx, q.ev.TaskID).WithError(err).Warn("publish progress event")
	}
}

// Close stops accepting events, gives queued ones a short grace period to
// be published, then aborts the rest and releases the redis connection.
func (p *RedisPublisher) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()

		timer := time.NewTimer(drainTimeout)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			p.cancel()
			<-p.done
		}
		p.cancel()

		if p.closer != nil {
			p.err = p.closer()
		}
	})
	return p.err
}
