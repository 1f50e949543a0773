// Package nats publishes accepted records to a NATS JetStream stream.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

// StreamConfig describes the durable stream records are published into.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxMsgs  int64
	MaxBytes int64
	MaxAge   time.Duration
}

// DefaultStream returns the news stream with limits retention.
func DefaultStream() StreamConfig {
	return StreamConfig{
		Name:     "NEWS_STREAM",
		Subjects: []string{"news.>"},
		MaxMsgs:  10000,
		MaxBytes: 100 * 1024 * 1024,
		MaxAge:   7 * 24 * time.Hour,
	}
}

// jetStream is the subset of jetstream.JetStream the publisher uses.
type jetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher writes JSON payloads to JetStream.
type Publisher struct {
	conn   *nats.Conn
	js     jetStream
	stream StreamConfig
	logger *zap.Logger
}

// Connect dials url, creates the JetStream context and ensures the stream exists.
func Connect(ctx context.Context, url string, stream StreamConfig, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("cls-news-crawler"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream: %w", err)
	}
	p := newPublisher(js, stream, logger)
	p.conn = nc
	if err := p.EnsureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(js jetStream, stream StreamConfig, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{js: js, stream: stream, logger: logger}
}

// EnsureStream creates or updates the configured stream. A name collision is success.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        p.stream.Name,
		Subjects:    p.stream.Subjects,
		Description: "crawled news records",
		Retention:   jetstream.LimitsPolicy,
		MaxMsgs:     p.stream.MaxMsgs,
		MaxBytes:    p.stream.MaxBytes,
		MaxAge:      p.stream.MaxAge,
	})
	if err != nil && !errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("ensure stream %s: %w", p.stream.Name, err)
	}
	p.logger.Info("stream ready", zap.String("stream", p.stream.Name), zap.Strings("subjects", p.stream.Subjects))
	return nil
}

// Publish encodes payload as JSON and returns "<stream>:<sequence>".
// Records carry their id in the Nats-Msg-Id header, so the stream drops a
// resend of a message whose ack was lost.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) (string, error) {
	data, err := encode(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %w", crawler.ErrPublish, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if id := msgID(payload); id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}
	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("%w: publish to %s: %w", crawler.ErrPublish, subject, err)
	}
	p.logger.Debug("published",
		zap.String("subject", subject),
		zap.Int("bytes", len(data)),
		zap.Uint64("seq", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate),
	)
	return ack.Stream + ":" + strconv.FormatUint(ack.Sequence, 10), nil
}

// Probe round-trips to the server to verify connectivity.
func (p *Publisher) Probe(ctx context.Context) error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("probe nats: %w", err)
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

func msgID(payload any) string {
	switch v := payload.(type) {
	case crawler.Record:
		return v.ID
	case *crawler.Record:
		if v != nil {
			return v.ID
		}
	}
	return ""
}

func encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
