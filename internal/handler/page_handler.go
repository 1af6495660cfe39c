package handler

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/articleboard/internal/middleware"
	"github.com/hitoshi/articleboard/internal/model"
	"github.com/hitoshi/articleboard/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// PageHandler はサインイン画面と記事ボード画面を返すハンドラー。
type PageHandler struct {
	sessions middleware.SessionResolver
	now      func() time.Time
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(sessions middleware.SessionResolver) *PageHandler {
	return &PageHandler{
		sessions: sessions,
		now:      time.Now,
	}
}

type signInPage struct {
	LoginURL string
}

type appPage struct {
	UserName string
	LiveURL  string
}

// SignIn はサインイン画面を返す。サインイン済みの場合は記事ボードへ遷移させる。
// GET /, GET /signin
func (h *PageHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	if h.currentSession(r) != nil {
		http.Redirect(w, r, defaultRedirectPath, http.StatusSeeOther)
		return
	}
	h.render(w, "signin.html", signInPage{
		LoginURL: "/auth/google/login?redirect_to=" + defaultRedirectPath,
	})
}

// App は記事ボード画面を返す。未サインインの場合はサインイン画面へ遷移させる。
// GET /app
func (h *PageHandler) App(w http.ResponseWriter, r *http.Request) {
	s := h.currentSession(r)
	if s == nil {
		http.Redirect(w, r, session.SignInPath, http.StatusSeeOther)
		return
	}
	h.render(w, "app.html", appPage{
		UserName: s.DisplayName(),
		LiveURL:  "/api/live",
	})
}

// currentSession は有効なセッションを返す。無効・期限切れの場合はnilを返す。
func (h *PageHandler) currentSession(r *http.Request) *model.Session {
	token := middleware.TokenFromRequest(r)
	if token == "" {
		return nil
	}
	s, err := h.sessions.GetSession(r.Context(), token)
	if err != nil {
		slog.Debug("failed to resolve page session", slog.String("error", err.Error()))
		return nil
	}
	if !s.IsValid(h.now()) {
		return nil
	}
	return s
}

func (h *PageHandler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("failed to render page",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
	}
}
