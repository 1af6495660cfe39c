package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/articleboard/internal/middleware"
	"github.com/hitoshi/articleboard/internal/model"
)

// --- モック定義 ---

var _ ArticleServiceInterface = (*mockArticleService)(nil)

type mockArticleService struct {
	listFn   func(ctx context.Context) ([]model.Article, error)
	getFn    func(ctx context.Context, id int64) (*model.Article, error)
	insertFn func(ctx context.Context, actorID string, a *model.Article) error
	updateFn func(ctx context.Context, actorID string, id int64, title, description string, updatedAt time.Time) (*model.Article, error)
	deleteFn func(ctx context.Context, actorID string, id int64) error
}

func (m *mockArticleService) List(ctx context.Context) ([]model.Article, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockArticleService) Get(ctx context.Context, id int64) (*model.Article, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewArticleNotFoundError(id)
}

func (m *mockArticleService) Insert(ctx context.Context, actorID string, a *model.Article) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, actorID, a)
	}
	return nil
}

func (m *mockArticleService) Update(ctx context.Context, actorID string, id int64, title, description string, updatedAt time.Time) (*model.Article, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actorID, id, title, description, updatedAt)
	}
	return nil, model.NewArticleNotFoundError(id)
}

func (m *mockArticleService) Delete(ctx context.Context, actorID string, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actorID, id)
	}
	return nil
}

// --- ヘルパー ---

// withUserID はテスト用にコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withSession はテスト用にコンテキストにセッションを注入するヘルパー。
func withSession(r *http.Request, s *model.Session) *http.Request {
	return r.WithContext(middleware.ContextWithSession(r.Context(), s))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func testSession() *model.Session {
	return &model.Session{
		ID:        "sid-1",
		UserID:    "user-1",
		UserName:  "Alice",
		AvatarURL: "https://example.com/alice.png",
		Email:     "alice@example.com",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}
}

func testArticles() []model.Article {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	updated := created.Add(time.Hour)
	return []model.Article{
		{ID: 2, UserID: "user-2", UserName: "Bob", Title: "Second", Description: "world", CreatedAt: created.Add(time.Minute), UpdatedAt: &updated},
		{ID: 1, UserID: "user-1", UserName: "Alice", Title: "First", Description: "hello", CreatedAt: created},
	}
}

// --- GET /api/articles テスト ---

func TestArticleHandler_ListArticles_Success(t *testing.T) {
	svc := &mockArticleService{
		listFn: func(ctx context.Context) ([]model.Article, error) {
			return testArticles(), nil
		},
	}
	h := NewArticleHandler(svc, ArticleHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
	w := httptest.NewRecorder()

	h.ListArticles(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got []model.Article
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 1 {
		t.Errorf("unexpected articles: %+v", got)
	}
}

func TestArticleHandler_ListArticles_EmptyReturnsArray(t *testing.T) {
	h := NewArticleHandler(&mockArticleService{}, ArticleHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
	w := httptest.NewRecorder()

	h.ListArticles(w, req)

	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestArticleHandler_ListArticles_ServiceError(t *testing.T) {
	svc := &mockArticleService{
		listFn: func(ctx context.Context) ([]model.Article, error) {
			return nil, errors.New("db down")
		},
	}
	h := NewArticleHandler(svc, ArticleHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
	w := httptest.NewRecorder()

	h.ListArticles(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body["code"])
	}
}

// --- POST /api/articles テスト ---

func TestArticleHandler_CreateArticle_Success(t *testing.T) {
	var inserted *model.Article
	svc := &mockArticleService{
		insertFn: func(ctx context.Context, actorID string, a *model.Article) error {
			if actorID != "user-1" {
				t.Errorf("actorID = %q, want user-1", actorID)
			}
			a.ID = 42
			inserted = a
			return nil
		},
	}
	h := NewArticleHandler(svc, ArticleHandlerConfig{})

	body := `{"title":"Hello","description":"World"}`
	req := httptest.NewRequest(http.MethodPost, "/api/articles", strings.NewReader(body))
	req = withSession(req, testSession())
	w := httptest.NewRecorder()

	h.CreateArticle(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if inserted == nil {
		t.Fatal("expected Insert to be called")
	}
	if inserted.UserID != "user-1" || inserted.UserName != "Alice" || inserted.Avatar != "https://example.com/alice.png" {
		t.Errorf("author fields not taken from session: %+v", inserted)
	}
	if inserted.UpdatedAt == nil || !inserted.UpdatedAt.Equal(inserted.CreatedAt) {
		t.Errorf("updated_at should equal created_at on insert: %+v", inserted)
	}

	var got model.Article
	_ = json.NewDecoder(w.Body).Decode(&got)
	if got.ID != 42 || got.Title != "Hello" {
		t.Errorf("unexpected response: %+v", got)
	}
}

func TestArticleHandler_CreateArticle_NoSession_ReturnsUnauthorized(t *testing.T) {
	h := NewArticleHandler(&mockArticleService{}, ArticleHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/articles", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	h.CreateArticle(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestArticleHandler_CreateArticle_InvalidBody_ReturnsBadRequest(t *testing.T) {
	h := NewArticleHandler(&mockArticleService{}, ArticleHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/articles", strings.NewReader(`{invalid`))
	req = withSession(req, testSession())
	w := httptest.NewRecorder()

	h.CreateArticle(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeInvalidRequest)
	}
}

func TestArticleHandler_CreateArticle_InvalidArticle_ReturnsBadRequest(t *testing.T) {
	svc := &mockArticleService{
		insertFn: func(ctx context.Context, actorID string, a *model.Article) error {
			return model.NewInvalidArticleError("title is required")
		},
	}
	h := NewArticleHandler(svc, ArticleHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/articles", strings.NewReader(`{"title":"","description":"x"}`))
	req = withSession(req, testSession())
	w := httptest.NewRecorder()

	h.CreateArticle(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidArticle {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeInvalidArticle)
	}
}

// --- PUT /api/articles/{id} テスト ---

func TestArticleHandler_UpdateArticle_Success(t *testing.T) {
	svc := &mockArticleService{
		updateFn: func(ctx context.Context, actorID string, id int64, title, description string, updatedAt time.Time) (*model.Article, error) {
			if actorID != "user-1" || id != 7 {
				t.Errorf("actorID=%q id=%d, want user-1 7", actorID, id)
			}
			if updatedAt.IsZero() {
				t.Error("updatedAt should be set")
			}
			return &model.Article{ID: id, UserID: actorID, Title: title, Description: description, UpdatedAt: &updatedAt}, nil
		},
	}
	h := NewArticleHandler(svc, ArticleHandlerConfig{})

	req := httptest.NewRequest(http.MethodPut, "/api/articles/7", strings.NewReader(`{"title":"New","description":"Body"}`))
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "id", "7")
	w := httptest.NewRecorder()

	h.UpdateArticle(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got model.Article
	_ = json.NewDecoder(w.Body).Decode(&got)
	if got.Title != "New" {
		t.Errorf("title = %q, want New", got.Title)
	}
}

func TestArticleHandler_UpdateArticle_NotOwner_ReturnsNotFound(t *testing.T) {
	svc := &mockArticleService{
		updateFn: func(ctx context.Context, actorID string, id int64, title, description string, updatedAt time.Time) (*model.Article, error) {
			return nil, model.NewArticleNotFoundError(id)
		},
	}
	h := NewArticleHandler(svc, ArticleHandlerConfig{})

	req := httptest.NewRequest(http.MethodPut, "/api/articles/7", strings.NewReader(`{"title":"New","description":"Body"}`))
	req = withUserID(req, "user-2")
	req = withChiURLParam(req, "id", "7")
	w := httptest.NewRecorder()

	h.UpdateArticle(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeArticleNotFound {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeArticleNotFound)
	}
}

func TestArticleHandler_UpdateArticle_InvalidID_ReturnsBadRequest(t *testing.T) {
	for _, id := range []string{"abc", "0", "-1"} {
		t.Run(id, func(t *testing.T) {
			h := NewArticleHandler(&mockArticleService{}, ArticleHandlerConfig{})

			req := httptest.NewRequest(http.MethodPut, "/api/articles/"+id, strings.NewReader(`{}`))
			req = withUserID(req, "user-1")
			req = withChiURLParam(req, "id", id)
			w := httptest.NewRecorder()

			h.UpdateArticle(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestArticleHandler_UpdateArticle_NoUserID_ReturnsUnauthorized(t *testing.T) {
	h := NewArticleHandler(&mockArticleService{}, ArticleHandlerConfig{})

	req := httptest.NewRequest(http.MethodPut, "/api/articles/1", strings.NewReader(`{}`))
	req = withChiURLParam(req, "id", "1")
	w := httptest.NewRecorder()

	h.UpdateArticle(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- DELETE /api/articles/{id} テスト ---

func TestArticleHandler_DeleteArticle(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		deleteErr  error
		wantStatus int
		wantCalled bool
		wantCode   string
	}{
		{name: "confirmed", query: "?confirm=true", wantStatus: http.StatusNoContent, wantCalled: true},
		{name: "not confirmed", query: "", wantStatus: http.StatusConflict, wantCode: model.ErrCodeDeleteNotConfirmed},
		{name: "declined", query: "?confirm=false", wantStatus: http.StatusConflict, wantCode: model.ErrCodeDeleteNotConfirmed},
		{name: "not owner", query: "?confirm=1", deleteErr: model.NewArticleNotFoundError(5), wantStatus: http.StatusNotFound, wantCalled: true, wantCode: model.ErrCodeArticleNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockArticleService{
				deleteFn: func(ctx context.Context, actorID string, id int64) error {
					called = true
					if actorID != "user-1" || id != 5 {
						t.Errorf("actorID=%q id=%d, want user-1 5", actorID, id)
					}
					return tt.deleteErr
				},
			}
			h := NewArticleHandler(svc, ArticleHandlerConfig{})

			req := httptest.NewRequest(http.MethodDelete, "/api/articles/5"+tt.query, nil)
			req = withUserID(req, "user-1")
			req = withChiURLParam(req, "id", "5")
			w := httptest.NewRecorder()

			h.DeleteArticle(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("Delete called = %v, want %v", called, tt.wantCalled)
			}
			if tt.wantCode != "" {
				if body := parseAPIErrorResponse(t, w); body["code"] != tt.wantCode {
					t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
				}
			}
		})
	}
}

// --- GET /api/articles/feed.xml テスト ---

func TestArticleHandler_Feed_IsValidRSS(t *testing.T) {
	svc := &mockArticleService{
		listFn: func(ctx context.Context) ([]model.Article, error) {
			return testArticles(), nil
		},
	}
	h := NewArticleHandler(svc, ArticleHandlerConfig{BaseURL: "https://board.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/api/articles/feed.xml", nil)
	w := httptest.NewRecorder()

	h.Feed(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/rss+xml") {
		t.Errorf("Content-Type = %q, want application/rss+xml", ct)
	}

	feed, err := gofeed.NewParser().ParseString(w.Body.String())
	if err != nil {
		t.Fatalf("failed to parse RSS: %v", err)
	}
	if feed.FeedType != "rss" {
		t.Errorf("FeedType = %q, want rss", feed.FeedType)
	}
	if len(feed.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(feed.Items))
	}

	first := feed.Items[0]
	if first.Title != "Second" || first.Description != "world" {
		t.Errorf("unexpected first item: %+v", first)
	}
	if first.Link != "https://board.example.com/app#article-2" {
		t.Errorf("link = %q", first.Link)
	}
	if first.GUID != "article-2" {
		t.Errorf("guid = %q, want article-2", first.GUID)
	}
	// 更新日時があれば更新日時を公開日時とする
	wantPub := testArticles()[0].UpdatedAt
	if first.PublishedParsed == nil || !first.PublishedParsed.Equal(*wantPub) {
		t.Errorf("published = %v, want %v", first.PublishedParsed, wantPub)
	}
	second := feed.Items[1]
	if second.PublishedParsed == nil || !second.PublishedParsed.Equal(testArticles()[1].CreatedAt) {
		t.Errorf("published = %v, want created_at", second.PublishedParsed)
	}
}

func TestArticleHandler_Feed_DescriptionIsEscapedHTML(t *testing.T) {
	svc := &mockArticleService{
		listFn: func(ctx context.Context) ([]model.Article, error) {
			return []model.Article{{
				ID:          1,
				Title:       "a<b",
				Description: "Use <script>alert(1)</script>\nnext line",
				CreatedAt:   time.Now(),
			}}, nil
		},
	}
	h := NewArticleHandler(svc, ArticleHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/articles/feed.xml", nil)
	w := httptest.NewRecorder()

	h.Feed(w, req)

	feed, err := gofeed.NewParser().ParseString(w.Body.String())
	if err != nil {
		t.Fatalf("failed to parse RSS: %v", err)
	}
	item := feed.Items[0]
	if item.Title != "a<b" {
		t.Errorf("title = %q, want a<b", item.Title)
	}
	if strings.Contains(item.Description, "<script") {
		t.Errorf("description should not carry markup: %q", item.Description)
	}
	if !strings.Contains(item.Description, "&lt;script&gt;") || !strings.Contains(item.Description, "<br") {
		t.Errorf("description = %q, want escaped text with line breaks", item.Description)
	}
}

func TestArticleHandler_Feed_LimitsItems(t *testing.T) {
	svc := &mockArticleService{
		listFn: func(ctx context.Context) ([]model.Article, error) {
			articles := make([]model.Article, feedItemLimit+10)
			for i := range articles {
				articles[i] = model.Article{ID: int64(i + 1), Title: "t", Description: "d", CreatedAt: time.Now()}
			}
			return articles, nil
		},
	}
	h := NewArticleHandler(svc, ArticleHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/articles/feed.xml", nil)
	w := httptest.NewRecorder()

	h.Feed(w, req)

	feed, err := gofeed.NewParser().ParseString(w.Body.String())
	if err != nil {
		t.Fatalf("failed to parse RSS: %v", err)
	}
	if len(feed.Items) != feedItemLimit {
		t.Errorf("items = %d, want %d", len(feed.Items), feedItemLimit)
	}
}

func TestArticleHandler_Feed_ServiceError(t *testing.T) {
	svc := &mockArticleService{
		listFn: func(ctx context.Context) ([]model.Article, error) {
			return nil, errors.New("db down")
		},
	}
	h := NewArticleHandler(svc, ArticleHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/articles/feed.xml", nil)
	w := httptest.NewRecorder()

	h.Feed(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
