package handler

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/articleboard/internal/middleware"
	"github.com/hitoshi/articleboard/internal/model"
	"github.com/hitoshi/articleboard/internal/security"
)

// feedItemLimit はRSSに含める記事の上限件数。
const feedItemLimit = 50

// ArticleServiceInterface は記事ハンドラーが必要とするサービスインターフェース。
type ArticleServiceInterface interface {
	List(ctx context.Context) ([]model.Article, error)
	Get(ctx context.Context, id int64) (*model.Article, error)
	Insert(ctx context.Context, actorID string, a *model.Article) error
	Update(ctx context.Context, actorID string, id int64, title, description string, updatedAt time.Time) (*model.Article, error)
	Delete(ctx context.Context, actorID string, id int64) error
}

// ArticleHandlerConfig は記事ハンドラーの設定。
type ArticleHandlerConfig struct {
	// BaseURL はRSSのリンク生成に使う公開URL。
	BaseURL string
	// Renderer はRSSの本文をHTML断片に変換する。nilの場合は security.NewTextRenderer を使う。
	Renderer security.TextRendererService
}

// ArticleHandler は記事テーブルをHTTPで操作するハンドラー。
// ライブ接続を使わないクライアント向け。
type ArticleHandler struct {
	service ArticleServiceInterface
	config  ArticleHandlerConfig
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(service ArticleServiceInterface, config ArticleHandlerConfig) *ArticleHandler {
	if config.Renderer == nil {
		config.Renderer = security.NewTextRenderer()
	}
	return &ArticleHandler{
		service: service,
		config:  config,
	}
}

// articleRequest は記事の作成・更新リクエストのボディ。
type articleRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ListArticles は記事一覧を作成日時の降順で返す。
// GET /api/articles
func (h *ArticleHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if articles == nil {
		articles = []model.Article{}
	}
	writeJSON(w, http.StatusOK, articles)
}

// CreateArticle はログインユーザー名義で記事を作成する。
// POST /api/articles
func (h *ArticleHandler) CreateArticle(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req articleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディが不正です。")
		return
	}

	now := time.Now()
	a := &model.Article{
		UserID:      session.UserID,
		UserName:    session.DisplayName(),
		Avatar:      session.AvatarURL,
		Title:       req.Title,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   &now,
	}
	if err := h.service.Insert(r.Context(), session.UserID, a); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

// UpdateArticle は自分が投稿した記事のタイトルと本文を更新する。
// PUT /api/articles/{id}
func (h *ArticleHandler) UpdateArticle(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	id, ok := articleIDParam(w, r)
	if !ok {
		return
	}

	var req articleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディが不正です。")
		return
	}

	updated, err := h.service.Update(r.Context(), userID, id, req.Title, req.Description, time.Now())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeleteArticle は自分が投稿した記事を削除する。
// 誤操作防止のため confirm=true の指定を必須とする。
// DELETE /api/articles/{id}?confirm=true
func (h *ArticleHandler) DeleteArticle(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	id, ok := articleIDParam(w, r)
	if !ok {
		return
	}

	if confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !confirmed {
		handleServiceError(w, model.NewDeleteNotConfirmedError())
		return
	}

	if err := h.service.Delete(r.Context(), userID, id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// rssDocument はRSS 2.0の文書。
type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	Description string  `xml:"description"`
	Author      string  `xml:"author,omitempty"`
	GUID        rssGUID `xml:"guid"`
	PubDate     string  `xml:"pubDate"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// Feed は記事一覧をRSS 2.0として返す。
// GET /api/articles/feed.xml
func (h *ArticleHandler) Feed(w http.ResponseWriter, r *http.Request) {
	articles, err := h.service.List(r.Context())
	if err != nil {
		slog.Error("failed to list articles for feed", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if len(articles) > feedItemLimit {
		articles = articles[:feedItemLimit]
	}

	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:       "articleboard",
			Link:        h.config.BaseURL + defaultRedirectPath,
			Description: "Latest articles",
		},
	}
	for i := range articles {
		a := &articles[i]
		link := fmt.Sprintf("%s%s#article-%d", h.config.BaseURL, defaultRedirectPath, a.ID)
		doc.Channel.Items = append(doc.Channel.Items, rssItem{
			Title:       a.Title,
			Link:        link,
			Description: h.config.Renderer.Render(a.Description),
			Author:      a.UserName,
			GUID:        rssGUID{Value: fmt.Sprintf("article-%d", a.ID)},
			PubDate:     a.DisplayTime().UTC().Format(time.RFC1123Z),
		})
	}
	if len(articles) > 0 {
		doc.Channel.LastBuildDate = articles[0].DisplayTime().UTC().Format(time.RFC1123Z)
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		slog.Warn("failed to encode feed", slog.String("error", err.Error()))
	}
}

// articleIDParam はURLパスの記事IDを取り出す。不正な場合はエラーレスポンスを書き込む。
func articleIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeInvalidRequest(w, "記事IDが不正です。")
		return 0, false
	}
	return id, true
}
