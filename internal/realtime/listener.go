package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/articleboard/internal/model"
)

// NOTIFYチャネル名。マイグレーションのトリガー関数と一致させる。
const (
	ChannelArticleChanges = "article_changes"
	ChannelSessionChanges = "session_changes"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
	loadTimeout          = 5 * time.Second
)

// ArticleLoader は通知を受けた記事行を読み込む。
type ArticleLoader interface {
	FindByID(ctx context.Context, id int64) (*model.Article, error)
}

// articleNotification は article_changes のペイロード。
type articleNotification struct {
	Type       model.ChangeType `json:"type"`
	ID         int64            `json:"id"`
	UserID     string           `json:"user_id"`
	CommitTime time.Time        `json:"commit_time"`
}

// sessionNotification は session_changes のペイロード。
type sessionNotification struct {
	Op     model.ChangeType `json:"op"`
	ID     string           `json:"id"`
	UserID string           `json:"user_id"`
}

// Listener はPostgreSQLの変更通知を受信してHubへ配信する。
type Listener struct {
	databaseURL string
	hub         *Hub
	articles    ArticleLoader
	logger      *slog.Logger
}

// NewListener はListenerを生成する。
func NewListener(databaseURL string, hub *Hub, articles ArticleLoader, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		databaseURL: databaseURL,
		hub:         hub,
		articles:    articles,
		logger:      logger,
	}
}

// Run はctxがキャンセルされるまで通知を受信し続ける。
// 接続断からの再接続はpq.Listenerが行う。
func (l *Listener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.databaseURL, minReconnectInterval, maxReconnectInterval, l.onConnectionEvent)
	defer listener.Close()

	for _, ch := range []string{ChannelArticleChanges, ChannelSessionChanges} {
		if err := listener.Listen(ch); err != nil {
			return fmt.Errorf("failed to listen %s: %w", ch, err)
		}
	}
	l.logger.Info("変更通知の受信を開始しました")

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("変更通知の受信を停止しました")
			return nil
		case n := <-listener.Notify:
			// 再接続直後はnilが届く。切断中の通知は失われる。
			if n == nil {
				l.logger.Warn("通知接続が再確立されました。切断中の変更は配信されていません")
				continue
			}
			l.HandleNotification(ctx, n.Channel, n.Extra)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn("通知接続のPingに失敗しました", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

func (l *Listener) onConnectionEvent(ev pq.ListenerEventType, err error) {
	if err != nil {
		l.logger.Warn("通知接続でエラーが発生しました",
			slog.Int("event", int(ev)),
			slog.String("error", err.Error()),
		)
	}
}

// HandleNotification はNOTIFYペイロードを解釈してHubへ配信する。
func (l *Listener) HandleNotification(ctx context.Context, channel, payload string) {
	switch channel {
	case ChannelArticleChanges:
		l.handleArticle(ctx, payload)
	case ChannelSessionChanges:
		l.handleSession(payload)
	default:
		l.logger.Warn("未知のチャネルからの通知を無視しました", slog.String("channel", channel))
	}
}

func (l *Listener) handleArticle(ctx context.Context, payload string) {
	var n articleNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		l.logger.Error("記事変更通知のデコードに失敗しました",
			slog.String("payload", payload),
			slog.String("error", err.Error()),
		)
		return
	}

	ev := Event{
		Topic:      TopicArticles,
		Op:         n.Type,
		ID:         strconv.FormatInt(n.ID, 10),
		UserID:     n.UserID,
		CommitTime: n.CommitTime,
	}

	switch n.Type {
	case model.ChangeInsert, model.ChangeUpdate:
		loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
		article, err := l.articles.FindByID(loadCtx, n.ID)
		cancel()
		if err != nil {
			l.logger.Error("変更された記事の読み込みに失敗しました",
				slog.Int64("article_id", n.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		// 直後に削除された行。DELETEの通知が続くので配信しない。
		if article == nil {
			l.logger.Debug("変更された記事が既に存在しません", slog.Int64("article_id", n.ID))
			return
		}
		ev.Article = article
	case model.ChangeDelete:
	default:
		l.logger.Warn("未知の変更種別を無視しました", slog.String("type", string(n.Type)))
		return
	}

	l.hub.Publish(ev)
}

func (l *Listener) handleSession(payload string) {
	var n sessionNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		l.logger.Error("セッション変更通知のデコードに失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	switch n.Op {
	case model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete:
	default:
		l.logger.Warn("未知の変更種別を無視しました", slog.String("op", string(n.Op)))
		return
	}

	l.hub.Publish(Event{
		Topic:      TopicSessions,
		Op:         n.Op,
		ID:         n.ID,
		UserID:     n.UserID,
		CommitTime: time.Now(),
	})
}
