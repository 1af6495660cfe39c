// Package backend はIdP・記事テーブル・変更フィードをまとめたクライアントを提供する。
//
// Client は起動時に1度だけ生成し、ハンドラへ明示的に渡す。
// ビューごとのGuardとReconcilerは、Client が返すアダプタを通して各機能を利用する。
package backend

import (
	"context"

	"github.com/hitoshi/articleboard/internal/article"
	"github.com/hitoshi/articleboard/internal/auth"
	"github.com/hitoshi/articleboard/internal/board"
	"github.com/hitoshi/articleboard/internal/model"
	"github.com/hitoshi/articleboard/internal/realtime"
	"github.com/hitoshi/articleboard/internal/session"
)

// Client はバックエンド機能への入口。
type Client struct {
	Auth     *auth.Service
	Articles *article.Service
	Realtime *realtime.Hub

	feed *realtime.ArticleFeed
}

// New はClientを生成する。
func New(authSvc *auth.Service, articles *article.Service, hub *realtime.Hub) *Client {
	return &Client{
		Auth:     authSvc,
		Articles: articles,
		Realtime: hub,
		feed:     realtime.NewArticleFeed(hub),
	}
}

// AuthClient はGuardが使うIdPのセッション操作を返す。
func (c *Client) AuthClient() session.AuthClient {
	return authAdapter{svc: c.Auth}
}

// ArticleTable はReconcilerが使う記事テーブルAPIを返す。
func (c *Client) ArticleTable() board.ArticleTable {
	return c.Articles
}

// ChangeFeed はReconcilerが使う記事テーブルの変更フィードを返す。
func (c *Client) ChangeFeed() board.ChangeFeed {
	return feedAdapter{feed: c.feed}
}

type authAdapter struct {
	svc *auth.Service
}

func (a authAdapter) GetSession(ctx context.Context, token string) (*model.Session, error) {
	return a.svc.GetSession(ctx, token)
}

func (a authAdapter) SignOut(ctx context.Context, token string) error {
	return a.svc.Logout(ctx, token)
}

func (a authAdapter) OnAuthStateChange(token string, handler func(model.AuthEvent, *model.Session)) session.Unsubscriber {
	return a.svc.OnAuthStateChange(token, handler)
}

type feedAdapter struct {
	feed *realtime.ArticleFeed
}

func (f feedAdapter) Subscribe(event string, handler func(model.ChangeEvent)) (board.Subscription, error) {
	sub, err := f.feed.Subscribe(event, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

var (
	_ session.AuthClient = authAdapter{}
	_ board.ChangeFeed   = feedAdapter{}
	_ board.ArticleTable = (*article.Service)(nil)
)
