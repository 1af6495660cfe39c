package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/articleboard/internal/board"
	"github.com/hitoshi/articleboard/internal/metrics"
	"github.com/hitoshi/articleboard/internal/middleware"
	"github.com/hitoshi/articleboard/internal/session"
	"github.com/hitoshi/articleboard/internal/view"
)

const (
	liveWriteWait      = 10 * time.Second
	livePongWait       = 60 * time.Second
	livePingPeriod     = livePongWait * 9 / 10
	liveMaxMessageSize = 64 * 1024

	// liveMaxPendingCommands を超えて未処理のコマンドが溜まった接続は切断する。
	liveMaxPendingCommands = 256
)

// msgTooManyCommands は未処理コマンドの上限超過時に送るアラート。
const msgTooManyCommands = "Error: too many pending commands, please reload the page"

// LiveDeps はライブ接続ごとのビュー生成に必要な依存関係。
type LiveDeps struct {
	Auth    session.AuthClient
	Table   board.ArticleTable
	Feed    board.ChangeFeed
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector

	// CommandTimeout はコマンド1件あたりの上限時間。
	CommandTimeout time.Duration
	// AllowedOrigin はWebSocket接続を許可するOrigin。空の場合は同一ホストのみ許可する。
	AllowedOrigin string
}

// LiveHandler はWebSocket接続ごとに1つのビューをマウントするハンドラー。
type LiveHandler struct {
	deps     LiveDeps
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewLiveHandler はLiveHandlerを生成する。
func NewLiveHandler(deps LiveDeps) *LiveHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &LiveHandler{deps: deps, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP はWebSocket接続を確立し、切断までビューを維持する。
// GET /api/live
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade がエラーレスポンスを書き込み済み
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}
	v := view.New(view.Deps{
		Auth:    h.deps.Auth,
		Table:   h.deps.Table,
		Feed:    h.deps.Feed,
		Sink:    sink,
		Logger:  h.logger,
		Metrics: h.deps.Metrics,
	}, view.Options{CommandTimeout: h.deps.CommandTimeout})
	defer v.Unmount()

	logger := h.logger.With(slog.String("view_id", v.ID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := v.Mount(ctx, token); err != nil {
		if !errors.Is(err, view.ErrUnauthenticated) {
			logger.Warn("failed to mount view", slog.String("error", err.Error()))
		}
		sink.close(websocket.ClosePolicyViolation, "unauthenticated")
		return
	}
	logger.Info("live view mounted")

	// コマンドは読み取りループとは別のゴルーチンで受信順に処理する。
	// 削除確認の応答は読み取りループが直接ビューへ渡す。
	cmds := newCommandQueue(liveMaxPendingCommands)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			cmd, ok := cmds.pop()
			if !ok {
				return
			}
			if err := v.Handle(ctx, cmd); err != nil {
				logger.Debug("command failed",
					slog.String("type", cmd.Type),
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	go h.pingLoop(ctx, sink)

	h.readLoop(ctx, conn, sink, v, cmds, logger)

	cmds.close()
	cancel()
	<-done
	logger.Info("live view closed")
}

// readLoop はクライアントからのコマンドを読み取り、切断またはエラーで戻る。
// 待ち行列が上限に達した場合はアラートを送って切断する。
func (h *LiveHandler) readLoop(ctx context.Context, conn *websocket.Conn, sink *wsSink, v *view.View, cmds *commandQueue, logger *slog.Logger) {
	conn.SetReadLimit(liveMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	for {
		var cmd view.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("live connection closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		if cmd.Type == view.CmdConfirm {
			v.ResolveConfirm(cmd.RequestID, cmd.OK)
			continue
		}

		if ctx.Err() != nil {
			return
		}
		if !cmds.push(cmd) {
			logger.Error("too many pending commands, closing live connection",
				slog.String("type", cmd.Type),
				slog.Int("pending", cmds.pending()),
			)
			v.Alert(ctx, msgTooManyCommands)
			sink.close(websocket.ClosePolicyViolation, "too many pending commands")
			return
		}
	}
}

// commandQueue はビューへ渡すコマンドのFIFO。
// push はブロックしないので、処理中のコマンドが確認待ちでも読み取りは止まらない。
type commandQueue struct {
	mu     sync.Mutex
	items  []view.Command
	limit  int
	closed bool
	ready  chan struct{}
}

func newCommandQueue(limit int) *commandQueue {
	return &commandQueue{limit: limit, ready: make(chan struct{}, 1)}
}

// push はコマンドを末尾に追加する。上限に達しているか閉じられている場合はfalseを返す。
func (q *commandQueue) push(cmd view.Command) bool {
	q.mu.Lock()
	if q.closed || len(q.items) >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()
	q.notify()
	return true
}

// pop は先頭のコマンドを取り出す。空の間は待ち、閉じられて空になるとfalseを返す。
func (q *commandQueue) pop() (view.Command, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			cmd := q.items[0]
			q.items[0] = view.Command{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return cmd, true
		}
		if q.closed {
			q.mu.Unlock()
			return view.Command{}, false
		}
		q.mu.Unlock()
		<-q.ready
	}
}

func (q *commandQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *commandQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *commandQueue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pingLoop は接続維持のためのPingを定期的に送る。
func (h *LiveHandler) pingLoop(ctx context.Context, sink *wsSink) {
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sink.ping(); err != nil {
				return
			}
		}
	}
}

// checkOrigin は設定されたOriginまたは同一ホストからの接続のみ許可する。
func (h *LiveHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.deps.AllowedOrigin != "" && origin == h.deps.AllowedOrigin {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// wsSink はビューからのメッセージをWebSocketへ書き込む。
// 書き込みは複数のゴルーチンから呼ばれるため直列化する。
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(msg view.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return s.conn.WriteJSON(msg)
}

func (s *wsSink) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait))
}

func (s *wsSink) close(code int, text string) {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(liveWriteWait))
}
