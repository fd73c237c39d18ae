// Package notify は予約イベントを購読し、利用者への通知を送信するワーカーを提供する。
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hitoshi/parkman/internal/events"
)

// DefaultPrefetch はワーカーが同時に受け取る未確認メッセージの上限。
const DefaultPrefetch = 8

// bindingKey は購読する予約イベントのルーティングキー。
const bindingKey = "reservation.*"

// errMalformed は再配送しても処理できないメッセージを表す。
var errMalformed = errors.New("malformed event")

// Subscription はRabbitMQのキューを購読する接続。
type Subscription struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// Subscribe はexchangeとqueueを宣言・バインドし、購読の準備を行う。
func Subscribe(url, exchange, queue string, prefetch int) (*Subscription, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("RabbitMQへの接続に失敗しました: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("チャネルのオープンに失敗しました: %w", err)
	}
	fail := func(err error) (*Subscription, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fail(fmt.Errorf("exchangeの宣言に失敗しました: %w", err))
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fail(fmt.Errorf("queueの宣言に失敗しました: %w", err))
	}
	if err := ch.QueueBind(q.Name, bindingKey, exchange, false, nil); err != nil {
		return fail(fmt.Errorf("queueのバインドに失敗しました: %w", err))
	}
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fail(fmt.Errorf("QoSの設定に失敗しました: %w", err))
	}
	return &Subscription{conn: conn, ch: ch, queue: q.Name}, nil
}

// Deliveries は手動ACKでメッセージの受信を開始する。
func (s *Subscription) Deliveries(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := s.ch.ConsumeWithContext(ctx, s.queue, "parkman-notify", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("メッセージの受信開始に失敗しました: %w", err)
	}
	return msgs, nil
}

// Close はチャネルと接続を閉じる。
func (s *Subscription) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Consumer は予約イベントを通知へ変換して送信する。
type Consumer struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewConsumer はConsumerの新しいインスタンスを生成する。
func NewConsumer(notifier Notifier, logger *slog.Logger) *Consumer {
	return &Consumer{notifier: notifier, logger: logger}
}

// Run はdeliveriesが閉じるかコンテキストがキャンセルされるまでメッセージを処理する。
// 復元できないメッセージは破棄し、送信失敗は初回のみ再配送を要求する。
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	c.logger.Info("通知ワーカーを開始しました")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("通知ワーカーを停止しました")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("メッセージチャネルが閉じられました")
				return nil
			}
			c.process(ctx, d)
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	err := c.handle(ctx, d)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Error("ACKに失敗しました", slog.String("error", ackErr.Error()))
		}
	case errors.Is(err, errMalformed):
		c.logger.Error("処理できないメッセージを破棄します",
			slog.String("routing_key", d.RoutingKey),
			slog.String("error", err.Error()),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			c.logger.Error("メッセージの破棄に失敗しました", slog.String("error", rejectErr.Error()))
		}
	default:
		requeue := !d.Redelivered
		c.logger.Error("通知の送信に失敗しました",
			slog.String("routing_key", d.RoutingKey),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			c.logger.Error("NACKに失敗しました", slog.String("error", nackErr.Error()))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) error {
	msg, ok, err := messageFor(d.RoutingKey, d.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if !ok {
		c.logger.Warn("未知のルーティングキーをスキップします", slog.String("routing_key", d.RoutingKey))
		return nil
	}
	return c.notifier.Notify(ctx, msg)
}

// messageFor はイベント本文を通知内容へ変換する。未知のキーの場合はfalseを返す。
func messageFor(routingKey string, body []byte) (Message, bool, error) {
	switch routingKey {
	case events.RKReservationOpened:
		ev, err := events.Decode[events.ReservationOpened](body)
		if err != nil {
			return Message{}, false, err
		}
		return Message{
			Kind:          routingKey,
			ReservationID: ev.ReservationID,
			UserID:        ev.UserID,
			Subject:       "Parking spot booked",
			Body: fmt.Sprintf("Spot %s at %s is reserved for vehicle %s since %s.",
				ev.SpotNumber, ev.LotName, ev.VehicleNumber, ev.OccurredAt.Format("2006-01-02 15:04")),
			OccurredAt: ev.OccurredAt,
		}, true, nil

	case events.RKReservationClosed:
		ev, err := events.Decode[events.ReservationClosed](body)
		if err != nil {
			return Message{}, false, err
		}
		return Message{
			Kind:          routingKey,
			ReservationID: ev.ReservationID,
			UserID:        ev.UserID,
			Subject:       "Parking spot released",
			Body: fmt.Sprintf("Spot %s at %s released after %.2f hours. Total cost: %.2f.",
				ev.SpotNumber, ev.LotName, ev.DurationHours, ev.Cost),
			OccurredAt: ev.OccurredAt,
		}, true, nil

	default:
		return Message{}, false, nil
	}
}
