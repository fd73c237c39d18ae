package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Message は利用者へ届ける通知内容。
type Message struct {
	Kind          string    `json:"kind"`
	ReservationID string    `json:"reservation_id"`
	UserID        string    `json:"user_id"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier は通知の送信先を抽象化するインターフェース。
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier は通知を構造化ログへ出力する。送信先が未設定の環境で使う。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify は通知内容をINFOログとして出力する。
func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "通知を送信しました",
		slog.String("kind", msg.Kind),
		slog.String("user_id", msg.UserID),
		slog.String("reservation_id", msg.ReservationID),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// maxErrorBodySize はエラー時にログへ含めるレスポンス本文の上限。
const maxErrorBodySize = 512

// WebhookNotifier は通知をJSONでWebhookへPOSTする。
// clientには内部ネットワークへ到達できないクライアントを渡す。
type WebhookNotifier struct {
	client *http.Client
	url    string
}

// NewWebhookNotifier はWebhookNotifierを生成する。
func NewWebhookNotifier(client *http.Client, url string) *WebhookNotifier {
	return &WebhookNotifier{client: client, url: url}
}

// Notify は通知をPOSTする。2xx以外のステータスはエラーとする。
func (n *WebhookNotifier) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("通知のエンコードに失敗しました: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "parkman-notify/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("Webhookへの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("Webhookがエラーを返しました: status=%d body=%q", resp.StatusCode, snippet)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// compile-time interface check
var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
)
