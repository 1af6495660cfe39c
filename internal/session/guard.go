// Package session はビュー単位のセッションゲートを提供する。
//
// Guard はIdPから取得したセッションの有効性を判定し、無効な訪問者を
// サインイン画面へ誘導する。認証状態の変化を購読し、保持するセッションを
// IdP側の状態と同期させる。
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/articleboard/internal/metrics"
	"github.com/hitoshi/articleboard/internal/model"
)

// SignInPath は未認証の訪問者のリダイレクト先。
const SignInPath = "/signin"

// セッション検証結果（メトリクスのラベル）。
const (
	resultValid   = "valid"
	resultInvalid = "invalid"
	resultError   = "error"
)

const defaultSignOutTimeout = 10 * time.Second

// Decision はセッション検証後の遷移先を表す。
type Decision int

const (
	// DecisionAllow は保護されたビューの表示を許可する。
	DecisionAllow Decision = iota
	// DecisionRedirect はサインイン画面へ誘導する。
	DecisionRedirect
)

// Unsubscriber は購読の解除を提供する。
type Unsubscriber interface {
	Unsubscribe()
}

// AuthClient はIdPのセッション操作を提供する。
type AuthClient interface {
	// GetSession はトークンに対応する現在のセッションを返す。存在しない場合はnil。
	GetSession(ctx context.Context, token string) (*model.Session, error)
	// SignOut はサーバー側のセッションを破棄する。
	SignOut(ctx context.Context, token string) error
	// OnAuthStateChange は認証状態の変化を購読する。
	OnAuthStateChange(token string, handler func(model.AuthEvent, *model.Session)) Unsubscriber
}

// IsValid はセッションが現在時刻において有効かを返す。
// expires_at と現在時刻が等しい場合は期限切れとみなす。
func IsValid(s *model.Session, now time.Time) bool {
	return s != nil && s.ExpiresAt > now.Unix()
}

// Options はGuardの設定。
type Options struct {
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector
	// OnSignedIn はサインアウト状態からサインイン状態へ遷移したときに呼ばれる。
	OnSignedIn func(*model.Session)
	// OnSignedOut は認証状態の変化通知によってサインイン状態を失ったときに呼ばれる。
	OnSignedOut func()
	// OnRefreshed はサインイン中のセッションの有効期限またはトークンが更新されたときに呼ばれる。
	OnRefreshed func(*model.Session)
	// SignOutTimeout はバックグラウンドで行うサインアウト要求の上限時間。
	SignOutTimeout time.Duration
}

// Guard は1つのビューに属するセッションゲート。
type Guard struct {
	client         AuthClient
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	onSignedIn     func(*model.Session)
	onSignedOut    func()
	onRefreshed    func(*model.Session)
	signOutTimeout time.Duration
	now            func() time.Time

	mu      sync.Mutex
	session *model.Session
	token   string
	sub     Unsubscriber

	// hookMu はフックの呼び出しを直列化する。
	hookMu    sync.Mutex
	pending   sync.WaitGroup
	closeOnce sync.Once
}

// NewGuard はGuardを生成する。
func NewGuard(client AuthClient, opts Options) *Guard {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := opts.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}
	timeout := opts.SignOutTimeout
	if timeout <= 0 {
		timeout = defaultSignOutTimeout
	}
	return &Guard{
		client:         client,
		logger:         logger,
		metrics:        mc,
		onSignedIn:     opts.OnSignedIn,
		onSignedOut:    opts.OnSignedOut,
		onRefreshed:    opts.OnRefreshed,
		signOutTimeout: timeout,
		now:            time.Now,
	}
}

// Check は現在のセッションを取得して検証する。
// 取得に失敗した場合、セッションがない場合、期限切れの場合は
// サーバー側のセッションを破棄した上で DecisionRedirect を返す。再試行はしない。
func (g *Guard) Check(ctx context.Context, token string) Decision {
	s, err := g.client.GetSession(ctx, token)
	if err != nil || !IsValid(s, g.now()) {
		if err != nil {
			g.metrics.RecordSessionCheck(resultError)
			g.logger.Warn("セッションの取得に失敗しました", slog.String("error", err.Error()))
		} else {
			g.metrics.RecordSessionCheck(resultInvalid)
		}
		g.clear()
		g.forceSignOut(ctx, token)
		return DecisionRedirect
	}

	g.metrics.RecordSessionCheck(resultValid)
	g.apply(s, token)
	return DecisionAllow
}

// Watch は認証状態の変化を購読する。購読は Close で解除される。
func (g *Guard) Watch(token string) {
	sub := g.client.OnAuthStateChange(token, g.handleAuthEvent)

	g.mu.Lock()
	prev := g.sub
	g.sub = sub
	g.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe()
	}
}

func (g *Guard) handleAuthEvent(event model.AuthEvent, s *model.Session) {
	if IsValid(s, g.now()) {
		g.logger.Debug("認証状態が変化しました", slog.String("event", string(event)))
		g.apply(s, s.AccessToken)
		return
	}

	if g.clear() {
		g.logger.Info("セッションが失われました", slog.String("event", string(event)))
		g.fireSignedOut()
	}
}

// SignOut はローカルのセッションを即座に破棄し、IdPへのサインアウト要求を
// バックグラウンドで行う。要求の失敗はログに記録するのみ。
func (g *Guard) SignOut(ctx context.Context) {
	g.mu.Lock()
	token := g.token
	g.session = nil
	g.token = ""
	g.mu.Unlock()

	if token == "" {
		return
	}

	g.pending.Add(1)
	go func() {
		defer g.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.signOutTimeout)
		defer cancel()
		g.forceSignOut(ctx, token)
	}()
}

// Session は保持しているセッションを返す。サインアウト状態ではnil。
func (g *Guard) Session() *model.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	s := *g.session
	return &s
}

// SignedIn は有効なセッションを保持しているかを返す。
func (g *Guard) SignedIn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return IsValid(g.session, g.now())
}

// Close は認証状態の購読を解除し、実行中のサインアウト要求の完了を待つ。
// 複数回呼んでもよい。
func (g *Guard) Close() {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		sub := g.sub
		g.sub = nil
		g.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
	})
	g.pending.Wait()
}

// apply はセッションを設定し、状態の変化に応じたフックを呼ぶ。
func (g *Guard) apply(s *model.Session, token string) {
	switch g.setSession(s, token) {
	case sessionSignedIn:
		g.fireSignedIn(s)
	case sessionRefreshed:
		g.fireRefreshed(s)
	}
}

type sessionChange int

const (
	sessionUnchanged sessionChange = iota
	sessionSignedIn
	sessionRefreshed
)

// setSession はセッションを設定し、状態の変化の種類を返す。
// 同じセッションを2回設定しても状態は変わらない。
func (g *Guard) setSession(s *model.Session, token string) sessionChange {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.session
	prevToken := g.token
	cp := *s
	g.session = &cp
	if token != "" {
		g.token = token
	}
	switch {
	case prev == nil:
		return sessionSignedIn
	case prev.ExpiresAt != cp.ExpiresAt || prevToken != g.token:
		return sessionRefreshed
	}
	return sessionUnchanged
}

// clear はセッションを破棄し、サインイン状態だった場合はtrueを返す。
func (g *Guard) clear() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	had := g.session != nil
	g.session = nil
	return had
}

func (g *Guard) forceSignOut(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := g.client.SignOut(ctx, token); err != nil {
		g.logger.Warn("サインアウトに失敗しました", slog.String("error", err.Error()))
	}
}

func (g *Guard) fireSignedIn(s *model.Session) {
	if g.onSignedIn == nil {
		return
	}
	g.hookMu.Lock()
	defer g.hookMu.Unlock()
	g.onSignedIn(s)
}

func (g *Guard) fireRefreshed(s *model.Session) {
	if g.onRefreshed == nil {
		return
	}
	g.hookMu.Lock()
	defer g.hookMu.Unlock()
	g.onRefreshed(s)
}

func (g *Guard) fireSignedOut() {
	if g.onSignedOut == nil {
		return
	}
	g.hookMu.Lock()
	defer g.hookMu.Unlock()
	g.onSignedOut()
}
