package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"brandclip-worker-service/internal/entity"
)

// Publisher announces video transitions on a topic exchange. The routing key
// is "video.<user id>.<status>" so consumers can bind per owner or per status.
type Publisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{channel: ch, exchange: exchange}, nil
}

func RoutingKey(ev entity.TransitionEvent) string {
	return fmt.Sprintf("video.%s.%s", ev.UserID, ev.To)
}

func (p *Publisher) Notify(ctx context.Context, ev entity.TransitionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode transition: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKey(ev),
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}

// LogNotifier is used when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, ev entity.TransitionEvent) error {
	n.logger.Info("video transition",
		zap.String("video_id", ev.VideoID.String()),
		zap.String("user_id", ev.UserID.String()),
		zap.String("from", string(ev.From)),
		zap.String("to", string(ev.To)),
		zap.Int("progress", ev.Progress),
		zap.String("error", ev.Error),
	)
	return nil
}
