// Package shore reads and drives a vehicle's Redis mirror from a shore
// station: snapshots of the last value per field, a live telemetry stream
// and command lines published back to the vehicle.
package shore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

// ErrNoVehicle is returned by Send when nothing is subscribed to the
// commands channel.
var ErrNoVehicle = errors.New("no vehicle is listening")

// Field is one decoded mirror entry or telemetry line.
type Field struct {
	Name       string    `json:"name"`
	Kind       string    `json:"kind,omitempty"`
	Value      any       `json:"value,omitempty"`
	Raw        string    `json:"raw"`
	Error      string    `json:"error,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitzero"`
}

// decode builds a Field from an encoded line. Lines that fail to decode
// keep their raw text and the error.
func decode(name, line string) Field {
	f := Field{Name: name, Raw: line}
	field, v, err := comms.DecodeLine(line)
	if err != nil {
		f.Error = err.Error()
		return f
	}
	if f.Name == "" {
		f.Name = field
	}
	f.Kind = v.Kind().String()
	f.Value = v.Payload()
	return f
}

// Client talks to one vehicle link on a shore Redis server.
type Client struct {
	rdb     *redis.Client
	vehicle string
	link    string
}

// NewClient connects and verifies the server answers.
func NewClient(ctx context.Context, opts *redis.Options, vehicle, link string) (*Client, error) {
	if vehicle == "" || link == "" {
		return nil, fmt.Errorf("vehicle and link are required")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return &Client{rdb: rdb, vehicle: vehicle, link: link}, nil
}

// Vehicle returns the vehicle name.
func (c *Client) Vehicle() string { return c.vehicle }

// Link returns the link id.
func (c *Client) Link() string { return c.link }

// Close closes the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Snapshot returns the mirror hash sorted by field name.
func (c *Client) Snapshot(ctx context.Context) ([]Field, error) {
	raw, err := c.rdb.HGetAll(ctx, comms.MirrorKey(c.vehicle, c.link)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror: %w", err)
	}

	fields := make([]Field, 0, len(raw))
	for name, line := range raw {
		fields = append(fields, decode(name, line))
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

// Get returns one mirror entry.
func (c *Client) Get(ctx context.Context, name string) (Field, error) {
	line, err := c.rdb.HGet(ctx, comms.MirrorKey(c.vehicle, c.link), name).Result()
	if errors.Is(err, redis.Nil) {
		return Field{}, &FieldNotFoundError{Vehicle: c.vehicle, Link: c.link, Field: name}
	}
	if err != nil {
		return Field{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return decode(name, line), nil
}

// Watch calls fn for every telemetry line until ctx ends or fn returns an
// error. The subscription is confirmed before the first wait. A cancelled
// ctx returns nil.
func (c *Client) Watch(ctx context.Context, fn func(Field) error) error {
	pubsub := c.rdb.Subscribe(ctx, comms.TelemetryChannel(c.vehicle, c.link))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("telemetry subscription closed")
			}
			f := decode("", msg.Payload)
			f.ReceivedAt = time.Now()
			if err := fn(f); err != nil {
				return err
			}
		}
	}
}

// Send encodes one field and publishes it on the commands channel.
func (c *Client) Send(ctx context.Context, field string, v comms.Value) error {
	line, err := comms.EncodeLine(field, v)
	if err != nil {
		return err
	}

	line = strings.TrimSuffix(line, "\n")

	n, err := c.rdb.Publish(ctx, comms.CommandsChannel(c.vehicle, c.link), line).Result()
	if err != nil {
		return fmt.Errorf("failed to publish command: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w on %s/%s", ErrNoVehicle, c.vehicle, c.link)
	}
	return nil
}

// FieldNotFoundError reports a field missing from the mirror.
type FieldNotFoundError struct {
	Vehicle string
	Link    string
	Field   string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("field '%s' not found on %s/%s", e.Field, e.Vehicle, e.Link)
}

// IsNotFound reports whether err is a FieldNotFoundError.
func IsNotFound(err error) bool {
	var nf *FieldNotFoundError
	return errors.As(err, &nf)
}
