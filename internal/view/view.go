// Package view は1つのライブ接続に対応するビューを提供する。
//
// View はセッションゲートと記事一覧を組み合わせ、ユーザーからのコマンドを
// 処理して、状態の変化を送信先（Sink）へメッセージとして送る。
// 変更フィードと認証状態の購読は Mount で取得し、Unmount で必ず解放する。
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/articleboard/internal/board"
	"github.com/hitoshi/articleboard/internal/metrics"
	"github.com/hitoshi/articleboard/internal/model"
	"github.com/hitoshi/articleboard/internal/session"
)

// 送信メッセージの種別。
const (
	MsgState    = "state"
	MsgRedirect = "redirect"
	MsgAlert    = "alert"
	MsgConfirm  = "confirm"
)

// 受信コマンドの種別。
const (
	CmdInput   = "input"
	CmdEdit    = "edit"
	CmdCancel  = "cancel"
	CmdSubmit  = "submit"
	CmdDelete  = "delete"
	CmdRefetch = "refetch"
	CmdSignOut = "sign_out"
	CmdConfirm = "confirm"
)

const defaultCommandTimeout = 10 * time.Second

var (
	// ErrUnauthenticated は有効なセッションがなくマウントできなかったことを示す。
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnknownCommand は解釈できないコマンドを受信したことを示す。
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnmounted はアンマウント済みのビューへの操作を示す。
	ErrUnmounted = errors.New("view unmounted")
)

// Message はクライアントへ送るメッセージ。
type Message struct {
	Type      string `json:"type"`
	To        string `json:"to,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	*StatePayload
}

// StatePayload は state メッセージの内容。
type StatePayload struct {
	Loading  bool            `json:"loading"`
	Session  *model.Session  `json:"session"`
	Articles []model.Article `json:"articles"`
	Form     board.Form      `json:"form"`
}

// Command はクライアントから受け取るコマンド。
type Command struct {
	Type        string `json:"type"`
	ID          int64  `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	OK          bool   `json:"ok,omitempty"`
}

// Sink はメッセージの送信先。複数のゴルーチンから呼ばれる。
type Sink interface {
	Send(msg Message) error
}

// Deps はViewの依存関係。
type Deps struct {
	Auth    session.AuthClient
	Table   board.ArticleTable
	Feed    board.ChangeFeed
	Sink    Sink
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector
}

// Options はViewの設定。
type Options struct {
	// CommandTimeout はテーブル操作・セッション取得1回あたりの上限時間。
	CommandTimeout time.Duration
}

// View は1つのライブ接続に対応するビュー。
type View struct {
	ID string

	guard   *session.Guard
	board   *board.Reconciler
	sink    Sink
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]chan bool

	unmountOnce sync.Once
}

// New はViewを生成する。生成したViewは Unmount で必ず解放すること。
func New(deps Deps, opts Options) *View {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		ID:      id,
		sink:    deps.Sink,
		logger:  logger.With(slog.String("view_id", id)),
		metrics: mc,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan bool),
	}

	v.guard = session.NewGuard(deps.Auth, session.Options{
		Logger:         v.logger,
		Metrics:        mc,
		OnSignedIn:     v.onSignedIn,
		OnSignedOut:    v.onSignedOut,
		OnRefreshed:    func(*model.Session) { v.render() },
		SignOutTimeout: timeout,
	})
	mc.ViewOpened()
	v.board = board.NewReconciler(boundedTable{inner: deps.Table, timeout: timeout}, deps.Feed, v.guard, board.Options{
		Logger:   v.logger,
		Alerter:  v,
		OnChange: v.render,
	})
	return v
}

// Mount は認証状態の購読を開始してセッションを検証する。
// 有効なセッションがない場合はリダイレクトを送信して ErrUnauthenticated を返す。
func (v *View) Mount(ctx context.Context, token string) error {
	if v.ctx.Err() != nil {
		return ErrUnmounted
	}

	v.guard.Watch(token)

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	if v.guard.Check(ctx, token) == session.DecisionRedirect {
		v.redirect()
		return ErrUnauthenticated
	}
	return nil
}

// Handle はクライアントからのコマンドを処理する。
// 操作の失敗はアラートとしてクライアントへ通知済みのため、戻り値は
// 解釈できないコマンドなど呼び出し側で扱うべきエラーに限る。
func (v *View) Handle(ctx context.Context, cmd Command) error {
	if v.ctx.Err() != nil {
		return ErrUnmounted
	}

	switch cmd.Type {
	case CmdInput:
		v.board.SetInput(cmd.Title, cmd.Description)
	case CmdEdit:
		if !v.board.BeginEdit(cmd.ID) {
			v.logger.Debug("編集できない記事です", slog.Int64("article_id", cmd.ID))
		}
	case CmdCancel:
		v.board.CancelEdit()
	case CmdSubmit:
		_ = v.board.Submit(ctx)
	case CmdDelete:
		_ = v.board.Delete(ctx, cmd.ID, v)
	case CmdRefetch:
		_ = v.board.Fetch(ctx)
	case CmdSignOut:
		v.guard.SignOut(ctx)
		v.board.Stop()
		v.redirect()
	case CmdConfirm:
		v.ResolveConfirm(cmd.RequestID, cmd.OK)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return nil
}

// ResolveConfirm は確認要求への応答を待機中の操作に渡す。
// 該当する要求がない場合は何もしない。
func (v *View) ResolveConfirm(requestID string, ok bool) {
	v.mu.Lock()
	ch, found := v.pending[requestID]
	delete(v.pending, requestID)
	v.mu.Unlock()

	if found {
		ch <- ok
	}
}

// Confirm は確認要求を送信し、応答があるまで待つ。
// 応答前にctxが終了するかビューがアンマウントされた場合はfalseを返す。
func (v *View) Confirm(ctx context.Context, message string) bool {
	id := uuid.New().String()
	ch := make(chan bool, 1)

	v.mu.Lock()
	v.pending[id] = ch
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		delete(v.pending, id)
		v.mu.Unlock()
	}()

	if err := v.send(Message{Type: MsgConfirm, RequestID: id, Message: message}); err != nil {
		return false
	}

	select {
	case ok := <-ch:
		return ok
	case <-ctx.Done():
		return false
	case <-v.ctx.Done():
		return false
	}
}

// Alert はアラートを送信する。送信が完了するまで戻らない。
func (v *View) Alert(_ context.Context, message string) {
	_ = v.send(Message{Type: MsgAlert, Message: message})
}

// State は現在の表示状態を返す。
func (v *View) State() StatePayload {
	snap := v.board.Snapshot()
	s := v.guard.Session()
	if s != nil {
		s.AccessToken = ""
	}
	return StatePayload{
		Loading:  snap.Loading,
		Session:  s,
		Articles: snap.Articles,
		Form:     snap.Form,
	}
}

// Unmount は変更フィードと認証状態の購読を解放する。複数回呼んでもよい。
func (v *View) Unmount() {
	v.unmountOnce.Do(func() {
		v.cancel()
		v.board.Stop()
		v.guard.Close()
		v.metrics.ViewClosed()
		v.logger.Debug("ビューをアンマウントしました")
	})
}

// onSignedIn はサインイン状態への遷移で変更フィードを購読し、初回取得を行う。
func (v *View) onSignedIn(*model.Session) {
	if err := v.board.Start(); err != nil {
		v.logger.Warn("変更フィードの購読に失敗しました", slog.String("error", err.Error()))
	}
	_ = v.board.Fetch(v.ctx)
	v.render()
}

// onSignedOut はセッションを失ったときに購読を解除してサインイン画面へ誘導する。
func (v *View) onSignedOut() {
	v.board.Stop()
	v.render()
	v.redirect()
}

func (v *View) render() {
	state := v.State()
	_ = v.send(Message{Type: MsgState, StatePayload: &state})
}

func (v *View) redirect() {
	_ = v.send(Message{Type: MsgRedirect, To: session.SignInPath})
}

func (v *View) send(msg Message) error {
	if v.ctx.Err() != nil {
		return ErrUnmounted
	}
	if err := v.sink.Send(msg); err != nil {
		v.logger.Warn("メッセージの送信に失敗しました",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// boundedTable はテーブル操作ごとに上限時間を設ける。
// 削除前の確認待ちは上限時間に含めない。
type boundedTable struct {
	inner   board.ArticleTable
	timeout time.Duration
}

func (t boundedTable) List(ctx context.Context) ([]model.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.List(ctx)
}

func (t boundedTable) Insert(ctx context.Context, actorID string, a *model.Article) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Insert(ctx, actorID, a)
}

func (t boundedTable) Update(ctx context.Context, actorID string, id int64, title, description string, updatedAt time.Time) (*model.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Update(ctx, actorID, id, title, description, updatedAt)
}

func (t boundedTable) Delete(ctx context.Context, actorID string, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Delete(ctx, actorID, id)
}

var (
	_ board.Alerter      = (*View)(nil)
	_ board.Confirmer    = (*View)(nil)
	_ board.ArticleTable = boundedTable{}
)
