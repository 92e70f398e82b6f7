package comms

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/logging"
)

// DefaultRedisTimeout bounds each Send round trip to Redis.
const DefaultRedisTimeout = 2 * time.Second

// RedisOption configures a RedisLink.
type RedisOption func(*RedisLink)

// WithRedisLogger sets the logger for dropped or undecodable commands.
func WithRedisLogger(l *logging.Logger) RedisOption {
	return func(r *RedisLink) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRedisTimeout overrides DefaultRedisTimeout.
func WithRedisTimeout(d time.Duration) RedisOption {
	return func(r *RedisLink) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// RedisLink mirrors a link to Redis. Outbound fields are stored in a hash
// and published as telemetry; lines published on the commands channel are
// queued by a subscription goroutine and applied on Receive.
//
// Pub/Sub delivery is at-most-once. Commands arriving while the queue is
// full are dropped.
type RedisLink struct {
	rdb     *redis.Client
	vehicle string
	linkID  string
	logger  *logging.Logger
	timeout time.Duration

	lines chan string

	parseMu sync.Mutex
	parser  Parser

	cancel func()
	once   sync.Once
}

// NewRedisLink connects to Redis and subscribes to the link's commands
// channel. The subscription is confirmed before returning.
func NewRedisLink(ctx context.Context, redisOpts *redis.Options, vehicle, linkID string, opts ...RedisOption) (*RedisLink, error) {
	if vehicle == "" {
		return nil, fmt.Errorf("vehicle name cannot be empty")
	}
	if linkID == "" {
		return nil, fmt.Errorf("link id cannot be empty")
	}

	r := &RedisLink{
		rdb:     redis.NewClient(redisOpts),
		vehicle: vehicle,
		linkID:  linkID,
		logger:  logging.Nop(),
		timeout: DefaultRedisTimeout,
		lines:   make(chan string, 64),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("vehicle", vehicle, "link", linkID)

	pubsub := r.rdb.Subscribe(ctx, CommandsChannel(vehicle, linkID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		r.rdb.Close()
		return nil, fmt.Errorf("%w: failed to subscribe to commands: %w", ErrTransportOpen, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go func() {
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case r.lines <- msg.Payload:
				default:
					r.logger.Warn("command queue full, dropping", "line", msg.Payload)
				}
			}
		}
	}()

	return r, nil
}

// Send stores the encoded line in the mirror hash and publishes it.
func (r *RedisLink) Send(field string, v Value) error {
	line, err := EncodeLine(field, v)
	if err != nil {
		r.logger.Warn("cannot encode field for redis", "field", field, "error", err)
		return err
	}
	line = strings.TrimSuffix(line, "\n")

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, MirrorKey(r.vehicle, r.linkID), field, line)
	pipe.Publish(ctx, TelemetryChannel(r.vehicle, r.linkID), line)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: redis: %w", ErrTransportWrite, err)
	}
	return nil
}

// Receive applies every queued command line without waiting for more.
func (r *RedisLink) Receive(w FieldWriter) error {
	r.parseMu.Lock()
	defer r.parseMu.Unlock()

	for {
		select {
		case line := <-r.lines:
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			applyFrames(r.parser.Feed(line), w, r.logger)
		default:
			return nil
		}
	}
}

// Snapshot decodes the mirror hash. Entries that fail to decode are skipped.
func (r *RedisLink) Snapshot(ctx context.Context) (map[string]Value, error) {
	raw, err := r.rdb.HGetAll(ctx, MirrorKey(r.vehicle, r.linkID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror: %w", err)
	}

	out := make(map[string]Value, len(raw))
	for field, line := range raw {
		_, v, err := DecodeLine(line)
		if err != nil {
			r.logger.Warn("skipping undecodable mirror entry", "field", field, "error", err)
			continue
		}
		out[field] = v
	}
	return out, nil
}

// Ping verifies Redis connectivity.
func (r *RedisLink) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close stops the subscription and closes the connection. Safe to call
// more than once.
func (r *RedisLink) Close() error {
	var err error
	r.once.Do(func() {
		r.cancel()
		if cerr := r.rdb.Close(); cerr != nil {
			err = fmt.Errorf("%w: redis: %w", ErrTransportClose, cerr)
		}
	})
	return err
}
