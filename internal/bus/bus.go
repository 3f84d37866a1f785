package bus

import (
	"bot-orchestrator/internal/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Handler receives every message published on a channel matching its pattern.
type Handler func(ctx context.Context, channel string, payload []byte)

// Bus is the publish/subscribe transport plus a latest-value cache.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	SetCache(ctx context.Context, key string, value []byte) error
	// Subscribe registers handler for pattern and returns a function that removes it.
	Subscribe(pattern string, handler Handler) (func(), error)
	Close() error
}

// PublishEnvelope publishes env on its event channel and caches it as the latest value.
func PublishEnvelope(ctx context.Context, b Bus, env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	pubErr := b.Publish(ctx, models.EventChannel(env.Kind, env.Key), data)
	cacheErr := b.SetCache(ctx, models.CacheKey(string(env.Kind), env.Key), data)
	return errors.Join(pubErr, cacheErr)
}

// DefaultQueueSize is the per-subscription buffer of a MemoryBus.
const DefaultQueueSize = 1024

type subscription struct {
	pattern []string
	queue   *queue
}

// MemoryBus 是进程内的消息总线实现。每个订阅拥有独立的有界队列和消费协程,
// 队列满时丢弃消息并返回 ErrQueueFull, 发布方永远不会阻塞。
type MemoryBus struct {
	mu        sync.RWMutex
	subs      map[int]*subscription
	nextID    int
	cache     map[string][]byte
	queueSize int
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewMemoryBus creates a bus whose subscriptions buffer up to queueSize messages.
func NewMemoryBus(queueSize int, logger *zap.Logger) *MemoryBus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryBus{
		subs:      make(map[int]*subscription),
		cache:     make(map[string][]byte),
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrQueueClosed
	}

	msg := Message{Channel: channel, Payload: payload}
	var errs []error
	for _, sub := range b.subs {
		if !matchSegments(sub.pattern, strings.Split(channel, ":")) {
			continue
		}
		if err := sub.queue.TryPublish(msg); err != nil {
			b.logger.Warn("消息投递失败, 已丢弃", zap.String("channel", channel), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *MemoryBus) SetCache(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrQueueClosed
	}
	b.cache[key] = append([]byte(nil), value...)
	return nil
}

// Cache returns the latest value stored under key.
func (b *MemoryBus) Cache(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.cache[key]
	return v, ok
}

func (b *MemoryBus) Subscribe(pattern string, handler Handler) (func(), error) {
	segs := strings.Split(pattern, ":")
	for _, s := range segs {
		if _, err := path.Match(s, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrQueueClosed
	}

	id := b.nextID
	b.nextID++
	sub := &subscription{pattern: segs, queue: newQueue(b.queueSize)}
	b.subs[id] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.queue.Run(b.ctx, func(m Message) {
			b.deliver(handler, m)
		})
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			sub.queue.Close()
		})
	}
	return unsubscribe, nil
}

// deliver runs one handler call; a panicking handler does not take down the subscription.
func (b *MemoryBus) deliver(handler Handler, m Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("订阅处理函数 panic", zap.String("channel", m.Channel), zap.Any("panic", r))
		}
	}()
	handler(b.ctx, m.Channel, m.Payload)
}

// Close stops every subscription and waits for in-flight handlers to return.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.queue.Close()
		delete(b.subs, id)
	}
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}

// matchSegments matches a channel against a pattern segment by segment. Each pattern
// segment is a glob for one channel segment; a trailing "*" also swallows the rest.
func matchSegments(pattern, channel []string) bool {
	for i, p := range pattern {
		if i >= len(channel) {
			return false
		}
		if p == "*" && i == len(pattern)-1 {
			return true
		}
		if ok, _ := path.Match(p, channel[i]); !ok {
			return false
		}
	}
	return len(pattern) == len(channel)
}

// Match reports whether channel matches the subscription pattern.
func Match(pattern, channel string) bool {
	return matchSegments(strings.Split(pattern, ":"), strings.Split(channel, ":"))
}
