package article

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/articleboard/internal/metrics"
	"github.com/hitoshi/articleboard/internal/model"
	"github.com/hitoshi/articleboard/internal/repository"
)

// --- モック ---

type mockArticleRepo struct {
	listFn     func(ctx context.Context, limit int) ([]model.Article, error)
	findByIDFn func(ctx context.Context, id int64) (*model.Article, error)
	createFn   func(ctx context.Context, a *model.Article) error
	updateFn   func(ctx context.Context, userID string, id int64, title, description string, updatedAt time.Time) (*model.Article, error)
	deleteFn   func(ctx context.Context, userID string, id int64) (bool, error)
}

func (m *mockArticleRepo) List(ctx context.Context, limit int) ([]model.Article, error) {
	return m.listFn(ctx, limit)
}

func (m *mockArticleRepo) FindByID(ctx context.Context, id int64) (*model.Article, error) {
	return m.findByIDFn(ctx, id)
}

func (m *mockArticleRepo) Create(ctx context.Context, a *model.Article) error {
	if m.createFn != nil {
		return m.createFn(ctx, a)
	}
	a.ID = 1
	return nil
}

func (m *mockArticleRepo) Update(ctx context.Context, userID string, id int64, title, description string, updatedAt time.Time) (*model.Article, error) {
	return m.updateFn(ctx, userID, id, title, description, updatedAt)
}

func (m *mockArticleRepo) Delete(ctx context.Context, userID string, id int64) (bool, error) {
	return m.deleteFn(ctx, userID, id)
}

var _ repository.ArticleRepository = (*mockArticleRepo)(nil)

// recordingMetrics は記事操作のメトリクスを記録する。
type recordingMetrics struct {
	metrics.Nop
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingMetrics) RecordArticleMutation(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, op+":"+outcome)
}

func newTestService(repo *mockArticleRepo) (*Service, *recordingMetrics) {
	rm := &recordingMetrics{}
	svc := NewService(repo, rm)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return svc, rm
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

// --- List ---

func TestList_ReturnsAllArticles(t *testing.T) {
	repo := &mockArticleRepo{listFn: func(_ context.Context, limit int) ([]model.Article, error) {
		if limit != 0 {
			t.Errorf("limit = %d, want 0", limit)
		}
		return []model.Article{{ID: 2}, {ID: 1}}, nil
	}}
	svc, _ := newTestService(repo)

	got, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(got) != 2 || got[0].ID != 2 {
		t.Errorf("List = %+v", got)
	}
}

func TestList_RepositoryError(t *testing.T) {
	repo := &mockArticleRepo{listFn: func(context.Context, int) ([]model.Article, error) {
		return nil, errors.New("connection refused")
	}}
	svc, _ := newTestService(repo)

	if _, err := svc.List(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

// --- Get ---

func TestGet_NotFound(t *testing.T) {
	repo := &mockArticleRepo{findByIDFn: func(context.Context, int64) (*model.Article, error) {
		return nil, nil
	}}
	svc, _ := newTestService(repo)

	_, err := svc.Get(context.Background(), 42)
	assertAPIErrorCode(t, err, model.ErrCodeArticleNotFound)
}

// --- Insert ---

func TestInsert_SetsTimestampsAndStoresTextAsSubmitted(t *testing.T) {
	var saved *model.Article
	repo := &mockArticleRepo{createFn: func(_ context.Context, a *model.Article) error {
		saved = a
		a.ID = 10
		return nil
	}}
	svc, rm := newTestService(repo)

	a := &model.Article{
		UserID:      "user-1",
		UserName:    "Alice",
		Title:       "  <b>Hello</b> ",
		Description: "<script>alert(1)</script>body & more",
	}
	if err := svc.Insert(context.Background(), "user-1", a); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	if saved.Title != "  <b>Hello</b> " {
		t.Errorf("Title = %q, want %q", saved.Title, "  <b>Hello</b> ")
	}
	if saved.Description != "<script>alert(1)</script>body & more" {
		t.Errorf("Description = %q", saved.Description)
	}
	want := svc.now()
	if !saved.CreatedAt.Equal(want) || saved.UpdatedAt == nil || !saved.UpdatedAt.Equal(want) {
		t.Errorf("timestamps = %v / %v, want both %v", saved.CreatedAt, saved.UpdatedAt, want)
	}
	if a.ID != 10 {
		t.Errorf("ID = %d, want 10", a.ID)
	}
	if len(rm.outcomes) != 1 || rm.outcomes[0] != "insert:success" {
		t.Errorf("metrics = %v", rm.outcomes)
	}
}

func TestInsert_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		actorID string
		article model.Article
		code    string
	}{
		{"他人のuser_id", "user-1", model.Article{UserID: "user-2", Title: "t", Description: "d"}, model.ErrCodeArticleForbidden},
		{"未認証", "", model.Article{UserID: "", Title: "t", Description: "d"}, model.ErrCodeArticleForbidden},
		{"タイトル空", "user-1", model.Article{UserID: "user-1", Title: "   ", Description: "d"}, model.ErrCodeInvalidArticle},
		{"本文が空白のみ", "user-1", model.Article{UserID: "user-1", Title: "t", Description: " \n\t"}, model.ErrCodeInvalidArticle},
		{"不正なUTF-8", "user-1", model.Article{UserID: "user-1", Title: "t\xff", Description: "d"}, model.ErrCodeInvalidArticle},
		{"タイトル長すぎ", "user-1", model.Article{UserID: "user-1", Title: strings.Repeat("あ", MaxTitleLength+1), Description: "d"}, model.ErrCodeInvalidArticle},
		{"本文長すぎ", "user-1", model.Article{UserID: "user-1", Title: "t", Description: strings.Repeat("x", MaxDescriptionLength+1)}, model.ErrCodeInvalidArticle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockArticleRepo{createFn: func(context.Context, *model.Article) error {
				t.Error("Create should not be called")
				return nil
			}}
			svc, rm := newTestService(repo)
			a := tt.article
			err := svc.Insert(context.Background(), tt.actorID, &a)
			assertAPIErrorCode(t, err, tt.code)
			if len(rm.outcomes) != 1 || rm.outcomes[0] != "insert:rejected" {
				t.Errorf("metrics = %v", rm.outcomes)
			}
		})
	}
}

func TestInsert_TitleAtLimitIsAccepted(t *testing.T) {
	svc, _ := newTestService(&mockArticleRepo{})
	a := &model.Article{UserID: "u", Title: strings.Repeat("あ", MaxTitleLength), Description: "d"}
	if err := svc.Insert(context.Background(), "u", a); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
}

func TestInsertAndUpdate_TextRoundTripsUnchanged(t *testing.T) {
	inputs := []string{
		"a<b and c>d",
		"  code\n",
		"Use <div> for layout",
		"I like <em>Go</em>",
		"\tindented\n\tlines",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			var created, updatedTitle, updatedDesc string
			repo := &mockArticleRepo{
				createFn: func(_ context.Context, a *model.Article) error {
					created = a.Description
					return nil
				},
				updateFn: func(_ context.Context, userID string, id int64, title, description string, at time.Time) (*model.Article, error) {
					updatedTitle, updatedDesc = title, description
					return &model.Article{ID: id, UserID: userID, Title: title, Description: description}, nil
				},
			}
			svc, _ := newTestService(repo)

			a := &model.Article{UserID: "user-1", Title: "t", Description: in}
			if err := svc.Insert(context.Background(), "user-1", a); err != nil {
				t.Fatalf("Insert returned error: %v", err)
			}
			if created != in {
				t.Errorf("created description = %q, want %q", created, in)
			}

			if _, err := svc.Update(context.Background(), "user-1", 1, in, in, time.Time{}); err != nil {
				t.Fatalf("Update returned error: %v", err)
			}
			if updatedTitle != in || updatedDesc != in {
				t.Errorf("updated = %q / %q, want %q", updatedTitle, updatedDesc, in)
			}
		})
	}
}

// --- Update ---

func TestUpdate_OwnerMatch(t *testing.T) {
	updatedAt := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	repo := &mockArticleRepo{updateFn: func(_ context.Context, userID string, id int64, title, description string, at time.Time) (*model.Article, error) {
		if userID != "user-1" || id != 5 {
			t.Errorf("Update(%q, %d)", userID, id)
		}
		if !at.Equal(updatedAt) {
			t.Errorf("updatedAt = %v", at)
		}
		return &model.Article{ID: id, UserID: userID, Title: title, Description: description, UpdatedAt: &at}, nil
	}}
	svc, _ := newTestService(repo)

	got, err := svc.Update(context.Background(), "user-1", 5, "New", "Body", updatedAt)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if got.Title != "New" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestUpdate_NotOwnedIsRejected(t *testing.T) {
	repo := &mockArticleRepo{updateFn: func(context.Context, string, int64, string, string, time.Time) (*model.Article, error) {
		return nil, nil
	}}
	svc, rm := newTestService(repo)

	_, err := svc.Update(context.Background(), "intruder", 5, "New", "Body", time.Time{})
	assertAPIErrorCode(t, err, model.ErrCodeArticleNotFound)
	if rm.outcomes[0] != "update:rejected" {
		t.Errorf("metrics = %v", rm.outcomes)
	}
}

func TestUpdate_ZeroTimeUsesNow(t *testing.T) {
	repo := &mockArticleRepo{updateFn: func(_ context.Context, _ string, id int64, _, _ string, at time.Time) (*model.Article, error) {
		return &model.Article{ID: id, UpdatedAt: &at}, nil
	}}
	svc, _ := newTestService(repo)

	got, err := svc.Update(context.Background(), "u", 1, "t", "d", time.Time{})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !got.UpdatedAt.Equal(svc.now()) {
		t.Errorf("UpdatedAt = %v", got.UpdatedAt)
	}
}

func TestUpdate_RepositoryError(t *testing.T) {
	repo := &mockArticleRepo{updateFn: func(context.Context, string, int64, string, string, time.Time) (*model.Article, error) {
		return nil, errors.New("db down")
	}}
	svc, rm := newTestService(repo)

	if _, err := svc.Update(context.Background(), "u", 1, "t", "d", time.Time{}); err == nil {
		t.Fatal("expected error")
	}
	if rm.outcomes[0] != "update:error" {
		t.Errorf("metrics = %v", rm.outcomes)
	}
}

// --- Delete ---

func TestDelete(t *testing.T) {
	t.Run("所有者による削除", func(t *testing.T) {
		repo := &mockArticleRepo{deleteFn: func(_ context.Context, userID string, id int64) (bool, error) {
			return userID == "owner" && id == 3, nil
		}}
		svc, _ := newTestService(repo)
		if err := svc.Delete(context.Background(), "owner", 3); err != nil {
			t.Fatalf("Delete returned error: %v", err)
		}
	})
	t.Run("所有者以外は削除できない", func(t *testing.T) {
		repo := &mockArticleRepo{deleteFn: func(context.Context, string, int64) (bool, error) {
			return false, nil
		}}
		svc, _ := newTestService(repo)
		assertAPIErrorCode(t, svc.Delete(context.Background(), "other", 3), model.ErrCodeArticleNotFound)
	})
	t.Run("未認証", func(t *testing.T) {
		svc, _ := newTestService(&mockArticleRepo{})
		assertAPIErrorCode(t, svc.Delete(context.Background(), "", 3), model.ErrCodeUnauthorized)
	})
}
