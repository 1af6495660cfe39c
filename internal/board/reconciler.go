// Package board は記事一覧をメモリ上に保持し、初回取得・変更イベント・
// ユーザー操作によってリモートのテーブルと整合させる。
//
// 作成・更新は楽観的にローカルへ反映せず、変更フィードからのイベントで反映する。
// 挿入イベントは作成日時に関係なく先頭へ追加し、初回取得以降は並べ替えない。
package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/articleboard/internal/model"
)

// ユーザーへ通知するメッセージ。
const (
	MsgSessionExpired = "Session expired. Please log in again."
	MsgConfirmDelete  = "Are you sure you want to delete this article?"
)

// EventAll は全種類の変更イベントを購読するフィルタ。
const EventAll = "*"

// ErrNoSession は有効なセッションなしに操作しようとしたことを示す。
var ErrNoSession = errors.New("no valid session")

// ArticleTable は記事テーブルのAPI。
type ArticleTable interface {
	List(ctx context.Context) ([]model.Article, error)
	Insert(ctx context.Context, actorID string, article *model.Article) error
	Update(ctx context.Context, actorID string, id int64, title, description string, updatedAt time.Time) (*model.Article, error)
	Delete(ctx context.Context, actorID string, id int64) error
}

// Subscription は変更フィードの購読ハンドル。
type Subscription interface {
	Unsubscribe()
}

// ChangeFeed は記事テーブルの変更フィード。
type ChangeFeed interface {
	Subscribe(event string, handler func(model.ChangeEvent)) (Subscription, error)
}

// Alerter はユーザーへのブロッキング通知を行う。
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// Confirmer はユーザーに確認を求め、承認されたらtrueを返す。
type Confirmer interface {
	Confirm(ctx context.Context, message string) bool
}

// SessionSource は現在のセッションを返す。サインアウト状態ではnil。
type SessionSource interface {
	Session() *model.Session
}

// Form は入力フォームの状態。EditingIDが0以外のとき編集モード。
type Form struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	EditingID   int64  `json:"editing_id,omitempty"`
}

// Editing は編集モードかを返す。
func (f Form) Editing() bool {
	return f.EditingID != 0
}

// State は一覧の表示状態のスナップショット。
type State struct {
	Loading  bool            `json:"loading"`
	Articles []model.Article `json:"articles"`
	Form     Form            `json:"form"`
}

// Options はReconcilerの設定。
type Options struct {
	Logger  *slog.Logger
	Alerter Alerter
	// OnChange は状態が変化するたびに呼ばれる。ロックの外で呼ばれる。
	OnChange func()
}

// Reconciler は1つのビューに属する記事一覧。
type Reconciler struct {
	table    ArticleTable
	feed     ChangeFeed
	sessions SessionSource
	alerter  Alerter
	logger   *slog.Logger
	onChange func()
	now      func() time.Time

	mu       sync.Mutex
	articles []model.Article
	loading  bool
	form     Form
	sub      Subscription
}

// NewReconciler はReconcilerを生成する。初期状態は loading。
func NewReconciler(table ArticleTable, feed ChangeFeed, sessions SessionSource, opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		table:    table,
		feed:     feed,
		sessions: sessions,
		alerter:  opts.Alerter,
		logger:   logger,
		onChange: opts.OnChange,
		now:      time.Now,
		articles: []model.Article{},
		loading:  true,
	}
}

// Fetch は全記事をcreated_at降順で取得し、一覧を置き換える。
// 失敗した場合は一覧を変更せずに通知する。成功・失敗いずれも ready に遷移する。
func (r *Reconciler) Fetch(ctx context.Context) error {
	r.mu.Lock()
	r.loading = true
	r.mu.Unlock()
	r.changed()

	articles, err := r.table.List(ctx)

	r.mu.Lock()
	if err == nil {
		if articles == nil {
			articles = []model.Article{}
		}
		r.articles = articles
	}
	r.loading = false
	r.mu.Unlock()
	r.changed()

	if err != nil {
		r.fail(ctx, "fetch", err)
		return err
	}
	return nil
}

// SetInput はフォームの入力値を設定する。
func (r *Reconciler) SetInput(title, description string) {
	r.mu.Lock()
	r.form.Title = title
	r.form.Description = description
	r.mu.Unlock()
	r.changed()
}

// BeginEdit は自分が所有する記事を編集モードでフォームに読み込む。
// 一覧にない記事、他人の記事の場合はfalseを返す。
func (r *Reconciler) BeginEdit(id int64) bool {
	s := r.sessions.Session()
	if s == nil {
		return false
	}

	r.mu.Lock()
	idx := r.indexOf(id)
	if idx < 0 || !r.articles[idx].OwnedBy(s.UserID) {
		r.mu.Unlock()
		return false
	}
	a := r.articles[idx]
	r.form = Form{Title: a.Title, Description: a.Description, EditingID: a.ID}
	r.mu.Unlock()
	r.changed()
	return true
}

// CancelEdit は編集モードを終了してフォームをクリアする。
func (r *Reconciler) CancelEdit() {
	r.mu.Lock()
	r.form = Form{}
	r.mu.Unlock()
	r.changed()
}

// Submit はフォームの内容で記事を作成、または編集中の記事を更新する。
// タイトルか本文が空の場合は何もしない。
func (r *Reconciler) Submit(ctx context.Context) error {
	s := r.sessions.Session()
	if s == nil {
		r.alert(ctx, MsgSessionExpired)
		return ErrNoSession
	}

	form := r.Form()
	if strings.TrimSpace(form.Title) == "" || strings.TrimSpace(form.Description) == "" {
		return nil
	}
	if form.Editing() {
		return r.update(ctx, s, form)
	}
	return r.create(ctx, s, form)
}

// create は記事を作成する。一覧への反映は変更イベントに任せ、フォームだけをクリアする。
func (r *Reconciler) create(ctx context.Context, s *model.Session, form Form) error {
	now := r.now()
	a := &model.Article{
		UserID:      s.UserID,
		UserName:    s.DisplayName(),
		Avatar:      s.AvatarURL,
		Title:       form.Title,
		Description: form.Description,
		CreatedAt:   now,
		UpdatedAt:   &now,
	}
	if err := r.table.Insert(ctx, s.UserID, a); err != nil {
		r.fail(ctx, "create", err)
		return err
	}

	r.mu.Lock()
	r.form = Form{}
	r.mu.Unlock()
	r.changed()
	return nil
}

// update は編集中の記事を、idとuser_idの一致を条件に更新する。
func (r *Reconciler) update(ctx context.Context, s *model.Session, form Form) error {
	if _, err := r.table.Update(ctx, s.UserID, form.EditingID, form.Title, form.Description, r.now()); err != nil {
		r.fail(ctx, "update", err)
		return err
	}

	r.mu.Lock()
	if r.form.EditingID == form.EditingID {
		r.form = Form{}
	}
	r.mu.Unlock()
	r.changed()
	return nil
}

// Delete は確認が得られた場合に、idとuser_idの一致を条件に記事を削除する。
// 確認が得られなかった場合は何もしない。
func (r *Reconciler) Delete(ctx context.Context, id int64, confirmer Confirmer) error {
	s := r.sessions.Session()
	if s == nil {
		r.alert(ctx, MsgSessionExpired)
		return ErrNoSession
	}
	if confirmer == nil || !confirmer.Confirm(ctx, MsgConfirmDelete) {
		return nil
	}

	if err := r.table.Delete(ctx, s.UserID, id); err != nil {
		r.fail(ctx, "delete", err)
		return err
	}
	return nil
}

// Start は有効なセッションがある間、変更フィードを購読する。
// すでに購読中の場合は何もしない。
func (r *Reconciler) Start() error {
	s := r.sessions.Session()
	if s == nil {
		return ErrNoSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return nil
	}
	sub, err := r.feed.Subscribe(EventAll, r.Apply)
	if err != nil {
		return fmt.Errorf("failed to subscribe article changes: %w", err)
	}
	r.sub = sub
	return nil
}

// Stop は変更フィードの購読を解除する。複数回呼んでもよい。
func (r *Reconciler) Stop() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Subscribed は変更フィードを購読中かを返す。
func (r *Reconciler) Subscribed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub != nil
}

// Apply は変更イベントを一覧に反映する。
//   - INSERT: 先頭に追加する（同じIDがすでにあればその位置で置き換える）
//   - UPDATE: 同じIDの記事をその位置で置き換える
//   - DELETE: 同じIDの記事を取り除く
//
// 一覧にないIDへの更新・削除は無視する。
func (r *Reconciler) Apply(ev model.ChangeEvent) {
	r.mu.Lock()
	applied := false
	switch ev.Type {
	case model.ChangeInsert:
		if ev.New == nil {
			break
		}
		if idx := r.indexOf(ev.New.ID); idx >= 0 {
			r.articles[idx] = *ev.New
		} else {
			r.articles = append([]model.Article{*ev.New}, r.articles...)
		}
		applied = true
	case model.ChangeUpdate:
		if ev.New == nil {
			break
		}
		if idx := r.indexOf(ev.New.ID); idx >= 0 {
			r.articles[idx] = *ev.New
			applied = true
		}
	case model.ChangeDelete:
		if idx := r.indexOf(ev.OldID); idx >= 0 {
			r.articles = append(r.articles[:idx:idx], r.articles[idx+1:]...)
			applied = true
		}
	}
	r.mu.Unlock()

	if applied {
		r.changed()
	}
}

// Articles は一覧のコピーを返す。
func (r *Reconciler) Articles() []model.Article {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Article, len(r.articles))
	copy(out, r.articles)
	return out
}

// Loading は取得中かを返す。
func (r *Reconciler) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// Form はフォームの状態を返す。
func (r *Reconciler) Form() Form {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.form
}

// Snapshot は表示状態のスナップショットを返す。
func (r *Reconciler) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Article, len(r.articles))
	copy(out, r.articles)
	return State{Loading: r.loading, Articles: out, Form: r.form}
}

func (r *Reconciler) indexOf(id int64) int {
	for i := range r.articles {
		if r.articles[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) fail(ctx context.Context, op string, err error) {
	r.logger.Error("記事の操作に失敗しました",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	r.alert(ctx, "Error: "+errorMessage(err))
}

func (r *Reconciler) alert(ctx context.Context, message string) {
	if r.alerter != nil {
		r.alerter.Alert(ctx, message)
	}
}

func (r *Reconciler) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

// errorMessage はユーザーに表示するエラーメッセージを返す。
func errorMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
