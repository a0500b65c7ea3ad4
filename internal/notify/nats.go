// Package notify publishes build events to NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/stalagmite/internal/config"
	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/logfields"
)

// publishTimeout bounds the flush after a publish.
const publishTimeout = 5 * time.Second

// BuildEvent describes a published generation.
type BuildEvent struct {
	RunID        string    `json:"run_id"`
	Outcome      string    `json:"outcome"`
	Output       string    `json:"output"`
	Entries      int       `json:"entries"`
	Rendered     int       `json:"rendered"`
	Restored     int       `json:"restored"`
	Failed       int       `json:"failed"`
	ListingPages int       `json:"listing_pages"`
	PublishedAt  time.Time `json:"published_at"`
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSPublisher sends build events on a subject.
type NATSPublisher struct {
	conn    conn
	subject string
	logger  *slog.Logger
}

// Connect dials the configured server. It returns nil, nil when no URL is
// configured.
func Connect(cfg config.NotifyConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("stalagmite"),
		nats.Timeout(publishTimeout),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNotify, "connect to NATS").
			WithContext("url", cfg.NATSURL).Build()
	}
	logger.Info("NATS notifier connected", slog.String("url", cfg.NATSURL), slog.String("subject", cfg.Subject))
	return newPublisher(nc, cfg.Subject, logger), nil
}

func newPublisher(c conn, subject string, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{conn: c, subject: subject, logger: logger}
}

// Publish sends ev and waits for the server to acknowledge the flush.
func (p *NATSPublisher) Publish(ctx context.Context, ev BuildEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal build event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNotify, "publish build event").
			WithContext("subject", p.subject).Build()
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNotify, "flush build event").
			WithContext("subject", p.subject).Build()
	}
	p.logger.Debug("Published build event", logfields.RunID(ev.RunID), slog.String("subject", p.subject))
	return nil
}

// Close closes the connection.
func (p *NATSPublisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
