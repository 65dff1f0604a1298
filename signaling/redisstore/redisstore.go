package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peercall/signaling"
)

// Defaults for the Redis connection.
const (
	DefaultAddr        = "localhost:6379"
	DefaultPoolSize    = 10
	DefaultDialTimeout = 5 * time.Second
	DefaultKeyPrefix   = "peercall:"
)

// Config holds Redis connection settings. The zero value connects to a local
// unauthenticated instance.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password authenticates the connection; empty for no auth.
	Password string

	// DB selects the logical database.
	DB int

	// PoolSize bounds the connection pool.
	PoolSize int

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// KeyPrefix namespaces all keys and pub/sub channels.
	KeyPrefix string
}

func (c Config) withDefaults() Config {
	out := c
	if out.Addr == "" {
		out.Addr = DefaultAddr
	}
	if out.PoolSize <= 0 {
		out.PoolSize = DefaultPoolSize
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.KeyPrefix == "" {
		out.KeyPrefix = DefaultKeyPrefix
	}
	return out
}

// writeScript stores a node value and registers it as a child of its parent
// exactly once, atomically. KEYS: node value key, parent child set, parent
// child list. ARGV: payload, child key. Returns 1 when the child is new.
var writeScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1])
local added = redis.call('SADD', KEYS[2], ARGV[2])
if added == 1 then
	redis.call('RPUSH', KEYS[3], ARGV[2])
end
return added
`)

// event is the pub/sub wire format. Payload round-trips as base64 via the
// standard JSON encoding of byte slices.
type event struct {
	Kind    string `json:"kind"` // "child_added", "child_changed", "value"
	Key     string `json:"key,omitempty"`
	Payload []byte `json:"payload"`
}

const (
	kindChildAdded   = "child_added"
	kindChildChanged = "child_changed"
	kindValue        = "value"
)

// Store implements signaling.Channel on a Redis server.
type Store struct {
	client *redis.Client
	prefix string
	log    *logrus.Entry
}

// Compile-time interface check.
var _ signaling.Channel = (*Store)(nil)

// Open connects to Redis and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, signaling.NewTransportError("connect", cfg.Addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"addr":     cfg.Addr,
		"db":       cfg.DB,
	}).Info("connected to Redis signaling store")

	return &Store{
		client: client,
		prefix: cfg.KeyPrefix,
		log:    logrus.WithField("component", "redisstore"),
	}, nil
}

// Close releases the connection pool. Active subscriptions are closed
// individually by their owners.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) nodeKey(path string) string {
	return s.prefix + "node:" + path
}

func (s *Store) childSetKey(parent string) string {
	return s.prefix + "childset:" + parent
}

func (s *Store) childListKey(parent string) string {
	return s.prefix + "children:" + parent
}

func (s *Store) eventChannel(path string) string {
	return s.prefix + "evt:" + path
}

// Write stores payload at path, registers path under its parent on first
// write, and publishes change notifications.
func (s *Store) Write(ctx context.Context, path string, payload []byte) error {
	parent := signaling.ParentPath(path)
	key := signaling.LastSegment(path)

	added, err := writeScript.Run(ctx, s.client,
		[]string{s.nodeKey(path), s.childSetKey(parent), s.childListKey(parent)},
		payload, key,
	).Int()
	if err != nil {
		return signaling.NewTransportError("write", path, err)
	}

	kind := kindChildChanged
	if added == 1 {
		kind = kindChildAdded
	}
	if err := s.publish(ctx, parent, event{Kind: kind, Key: key, Payload: payload}); err != nil {
		return err
	}
	return s.publish(ctx, path, event{Kind: kindValue, Payload: payload})
}

func (s *Store) publish(ctx context.Context, path string, ev event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return signaling.NewTransportError("publish", path, err)
	}
	if err := s.client.Publish(ctx, s.eventChannel(path), msg).Err(); err != nil {
		return signaling.NewTransportError("publish", path, err)
	}
	return nil
}

// Read returns the payload at path.
func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	payload, err := s.client.Get(ctx, s.nodeKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, signaling.NewTransportError("read", path, signaling.ErrNotFound)
	}
	if err != nil {
		return nil, signaling.NewTransportError("read", path, err)
	}
	return payload, nil
}

// SubscribeChildAdded replays the existing children of path in insertion
// order, then delivers each newly created child. Replay and live events may
// overlap; duplicates are suppressed by child key.
func (s *Store) SubscribeChildAdded(path string, handler signaling.ChildHandler) (signaling.Subscription, error) {
	ctx := context.Background()

	pubsub, err := s.subscribe(ctx, path)
	if err != nil {
		return nil, err
	}

	// Replay after the pub/sub channel is live so nothing falls in the gap.
	seen := make(map[string]bool)
	keys, err := s.client.LRange(ctx, s.childListKey(path), 0, -1).Result()
	if err != nil {
		pubsub.Close()
		return nil, signaling.NewTransportError("subscribe", path, err)
	}
	for _, key := range keys {
		payload, err := s.client.Get(ctx, s.nodeKey(path+"/"+key)).Bytes()
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"path":  path,
				"key":   key,
				"error": err.Error(),
			}).Warn("skipping unreadable child during replay")
			continue
		}
		seen[key] = true
		handler(key, payload)
	}

	sub := newSubscription(pubsub)
	go sub.consume(func(ev event) {
		if ev.Kind != kindChildAdded || seen[ev.Key] {
			return
		}
		seen[ev.Key] = true
		handler(ev.Key, ev.Payload)
	})
	return sub, nil
}

// SubscribeChildChanged delivers rewrites of existing children of path.
func (s *Store) SubscribeChildChanged(path string, handler signaling.ChildHandler) (signaling.Subscription, error) {
	pubsub, err := s.subscribe(context.Background(), path)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(pubsub)
	go sub.consume(func(ev event) {
		if ev.Kind != kindChildChanged {
			return
		}
		handler(ev.Key, ev.Payload)
	})
	return sub, nil
}

// SubscribeValue delivers every write to path itself.
func (s *Store) SubscribeValue(path string, handler signaling.ValueHandler) (signaling.Subscription, error) {
	pubsub, err := s.subscribe(context.Background(), path)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(pubsub)
	go sub.consume(func(ev event) {
		if ev.Kind != kindValue {
			return
		}
		handler(ev.Payload)
	})
	return sub, nil
}

// subscribe opens a pub/sub subscription on path's event channel and waits
// for the server's confirmation so no event published after return is lost.
func (s *Store) subscribe(ctx context.Context, path string) (*redis.PubSub, error) {
	pubsub := s.client.Subscribe(ctx, s.eventChannel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, signaling.NewTransportError("subscribe", path, err)
	}
	return pubsub, nil
}

// storeSubscription wraps one pub/sub connection. The consumer goroutine
// exits when the connection closes.
type storeSubscription struct {
	pubsub *redis.PubSub
	once   sync.Once
}

func newSubscription(pubsub *redis.PubSub) *storeSubscription {
	return &storeSubscription{pubsub: pubsub}
}

func (s *storeSubscription) consume(deliver func(event)) {
	for msg := range s.pubsub.Channel() {
		var ev event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "consume",
				"channel":  msg.Channel,
				"error":    err.Error(),
			}).Warn("dropping undecodable store event")
			continue
		}
		deliver(ev)
	}
}

// Unsubscribe closes the pub/sub connection, stopping delivery.
func (s *storeSubscription) Unsubscribe() {
	s.once.Do(func() {
		if err := s.pubsub.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Unsubscribe",
				"error":    err.Error(),
			}).Debug("closing pub/sub failed")
		}
	})
}

// Purge deletes a call subtree: the record, both candidate lists, and the
// parent bookkeeping entries. Used by housekeeping, not by live calls.
func (s *Store) Purge(ctx context.Context, callPath string) error {
	parent := signaling.ParentPath(callPath)
	key := signaling.LastSegment(callPath)

	lists := []string{
		signaling.CallerCandidatesPath(callPath),
		signaling.CalleeCandidatesPath(callPath),
	}
	var keys []string
	for _, list := range lists {
		children, err := s.client.LRange(ctx, s.childListKey(list), 0, -1).Result()
		if err != nil {
			return signaling.NewTransportError("purge", callPath, err)
		}
		for _, child := range children {
			keys = append(keys, s.nodeKey(list+"/"+child))
		}
		keys = append(keys, s.childListKey(list), s.childSetKey(list))
	}
	keys = append(keys,
		s.nodeKey(callPath),
		s.childListKey(callPath),
		s.childSetKey(callPath),
	)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return signaling.NewTransportError("purge", callPath, err)
	}
	if err := s.client.SRem(ctx, s.childSetKey(parent), key).Err(); err != nil {
		return signaling.NewTransportError("purge", callPath, err)
	}
	if err := s.client.LRem(ctx, s.childListKey(parent), 0, key).Err(); err != nil {
		return signaling.NewTransportError("purge", callPath, err)
	}
	return nil
}
