// Package bus implements components D and E: the message-bus
// transport a replica uses to push to and pull from the master, and
// the master uses to fan updates out to every replica. It wraps
// franz-go the way this codebase wraps other long-lived network
// clients elsewhere: a typed Connect/Disconnect/Status lifecycle,
// exponential backoff on dial failure, and a Subscribe-style
// dispatch loop over an internal handler registry rather than
// exposing the raw client to callers.
package bus

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/oceanreach/offlinesync/internal/config"
	"github.com/oceanreach/offlinesync/pkg/connectivity"
	"github.com/oceanreach/offlinesync/pkg/types"
)

// Handler processes one inbound SyncMessage. It returns an error to
// signal the message should not be acknowledged/committed.
type Handler func(ctx context.Context, msg *types.SyncMessage) error

// Client is the bus connection for one process. A master client
// produces to the master-updates topic and consumes ship-updates; a
// replica client does the reverse.
type Client struct {
	cfg    config.BusConfig
	mode   types.Mode
	shipID string
	logger *slog.Logger

	produceTopic string
	consumeTopic string

	client *kgo.Client

	retryAttempts int
	retryDelay    time.Duration
}

// New constructs a bus Client without connecting. Call Connect before
// Produce/Consume.
func New(cfg config.BusConfig, mode types.Mode, shipID string, retryAttempts int, retryDelay time.Duration, logger *slog.Logger) *Client {
	produce, consume := cfg.Topics.MasterUpdates, cfg.Topics.ShipUpdates
	if mode == types.ModeReplica {
		produce, consume = cfg.Topics.ShipUpdates, cfg.Topics.MasterUpdates
	}
	return &Client{
		cfg:           cfg,
		mode:          mode,
		shipID:        shipID,
		logger:        logger,
		produceTopic:  produce,
		consumeTopic:  consume,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
	}
}

// Connect dials the bus with exponential backoff up to
// cfg.ConnectTimeout, the way every long-lived network client in this
// codebase establishes its initial connection.
func (c *Client) Connect(ctx context.Context) error {
	opts := []kgo.Opt{
		kgo.SeedBrokers(c.cfg.Brokers...),
		kgo.ClientID(fmt.Sprintf("offlinesync-%s-%s", c.mode, c.shipID)),
		kgo.ConsumerGroup(fmt.Sprintf("offlinesync-%s", c.mode)),
		kgo.ConsumeTopics(c.consumeTopic),
		kgo.DisableAutoCommit(),
	}
	if c.cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	switch c.cfg.Auth.Mechanism {
	case "plain":
		opts = append(opts, kgo.SASL(plain.Auth{User: c.cfg.Auth.Username, Pass: c.cfg.Auth.Password}.AsMechanism()))
	case "scram-sha-256":
		opts = append(opts, kgo.SASL(scram.Auth{User: c.cfg.Auth.Username, Pass: c.cfg.Auth.Password}.AsSha256Mechanism()))
	case "scram-sha-512":
		opts = append(opts, kgo.SASL(scram.Auth{User: c.cfg.Auth.Username, Pass: c.cfg.Auth.Password}.AsSha512Mechanism()))
	}

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	var lastErr error
	for attempt := 0; ; attempt++ {
		client, err := kgo.NewClient(opts...)
		if err == nil {
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = client.Ping(probeCtx)
			cancel()
			if err == nil {
				c.client = client
				c.logger.Info("bus: connected", "mode", c.mode, "produceTopic", c.produceTopic, "consumeTopic", c.consumeTopic)
				return nil
			}
			client.Close()
		}
		lastErr = err
		if time.Now().After(deadline) {
			return fmt.Errorf("bus: connect: giving up after %s: %w", c.cfg.ConnectTimeout, lastErr)
		}
		delay := connectivity.Backoff(attempt, time.Second, 30*time.Second)
		c.logger.Warn("bus: connect attempt failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Probe satisfies connectivity.Prober: a lightweight liveness check
// against the bus used by the connectivity monitor's poll loop.
func (c *Client) Probe(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("bus: not connected")
	}
	return c.client.Ping(ctx)
}

// IsConnected reports whether the client has an established
// connection (it does not re-probe; callers that need a live check
// should use Probe via the connectivity monitor).
func (c *Client) IsConnected() bool {
	return c.client != nil
}

// Disconnect closes the underlying client.
func (c *Client) Disconnect() {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// Publish produces msg to this client's outbound topic, making up to
// retryAttempts attempts with a fixed retryDelay between them before
// returning an error the caller
// should route to the dead-letter queue.
func (c *Client) Publish(ctx context.Context, msg *types.SyncMessage) error {
	payload, err := encode(msg)
	if err != nil {
		return fmt.Errorf("bus: encode message %s: %w", msg.MessageID, err)
	}
	record := &kgo.Record{
		Topic: c.produceTopic,
		Key:   []byte(msg.ContentType + ":" + msg.ContentID),
		Value: payload,
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		results := c.client.ProduceSync(ctx, record)
		if err := results.FirstErr(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return fmt.Errorf("bus: publish %s exhausted retries: %w", msg.MessageID, lastErr)
}

// Heartbeat publishes a lightweight liveness message distinct from a
// content update, carrying no payload.
func (c *Client) Heartbeat(ctx context.Context) error {
	msg := &types.SyncMessage{
		MessageID: types.NewMessageID(c.shipID, time.Now(), "heartbeat"),
		ShipID:    c.shipID,
		Timestamp: time.Now().UTC(),
		Operation: types.OpUpdate,
		ContentType: types.HeartbeatContentType,
		ContentID:   c.shipID,
		Version:     0,
	}
	return c.Publish(ctx, msg)
}

// Consume runs the poll/dispatch loop until ctx is canceled, calling
// handler for every content SyncMessage received and committing its
// offset only once handler returns nil. Heartbeat messages are routed
// to heartbeatHandler instead, if non-nil, and never reach handler. A
// handler error leaves the record uncommitted so a restart redelivers
// it; exactly-once semantics are layered on top by component I, not
// by the bus itself.
func (c *Client) Consume(ctx context.Context, handler Handler, heartbeatHandler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("bus: fetch error", "topic", topic, "partition", partition, "error", err)
		})

		fetches.EachRecord(func(record *kgo.Record) {
			msg, err := decode(record.Value)
			if err != nil {
				c.logger.Error("bus: decode failed, skipping record", "offset", record.Offset, "error", err)
				return
			}
			if msg.ShipID == c.shipID && c.mode == types.ModeReplica {
				// A replica never applies its own echoed message back
				// to itself off the topic it consumes.
				return
			}
			if msg.ContentType == types.HeartbeatContentType {
				if heartbeatHandler != nil {
					if err := heartbeatHandler(ctx, msg); err != nil {
						c.logger.Error("bus: heartbeat handler failed", "shipId", msg.ShipID, "error", err)
					}
				}
				return
			}
			if err := handler(ctx, msg); err != nil {
				c.logger.Error("bus: handler failed, offset not committed", "messageId", msg.MessageID, "error", err)
				return
			}
		})

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.Error("bus: commit offsets failed", "error", err)
		}
	}
}
