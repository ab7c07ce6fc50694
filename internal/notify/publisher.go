package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/jpvalente/adsync/internal/bus"
)

// Envelope is the wire form of one notification.
type Envelope struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Session        string    `json:"session"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Fields         []string  `json:"fields,omitempty"`
	Messages       int       `json:"messages,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher forwards sync events to a RabbitMQ topic exchange so other
// systems can react to fresh leads without polling the backend. Optional:
// a nil Publisher is a no-op and the daemon runs fine without a broker.
type Publisher struct {
	conn     *amqp091.Connection
	exchange string
	session  string
	logger   *zap.Logger
}

// New connects to the broker and declares the topic exchange. Returns
// (nil, nil) when url is empty: notifications disabled.
func New(url, exchange, session string, logger *zap.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer func() { _ = ch.Close() }()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{
		conn:     conn,
		exchange: exchange,
		session:  session,
		logger:   logger,
	}, nil
}

// Run consumes sync events from the bus until the context ends. Safe to
// call on a nil Publisher.
func (p *Publisher) Run(ctx context.Context, b *bus.Bus) {
	if p == nil {
		return
	}
	events, cancel := b.Subscribe("sync.", 32)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			res, ok := evt.Payload.(bus.SyncResult)
			if !ok {
				continue
			}
			if err := p.publish(ctx, evt.Kind, evt.Timestamp, res); err != nil {
				p.logger.Warn("notification publish failed",
					zap.String("kind", evt.Kind), zap.Error(err))
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, kind string, ts time.Time, res bus.SyncResult) error {
	env := Envelope{
		ID:             uuid.NewString(),
		Kind:           kind,
		Session:        p.session,
		ConversationID: res.ConversationID,
		Fields:         res.Fields,
		Messages:       res.Messages,
		Error:          res.Err,
		Timestamp:      ts,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	err = ch.PublishWithContext(
		ctx, p.exchange, kind, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    env.ID,
			Timestamp:    ts,
			Body:         body,
		},
	)
	if err == nil {
		p.logger.Info("notification published",
			zap.String("key", kind), zap.String("exchange", p.exchange))
	}
	return err
}

// Close releases the broker connection. Safe on nil.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.conn.Close()
}
