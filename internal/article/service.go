// Package article は articles テーブルに対する操作を、所有者ポリシーと
// 入力検証を適用した上で提供する。
package article

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/articleboard/internal/metrics"
	"github.com/hitoshi/articleboard/internal/model"
	"github.com/hitoshi/articleboard/internal/repository"
)

// 入力長の上限（文字数）。
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 10000
)

// 操作名（メトリクスのラベル）。
const (
	opInsert = "insert"
	opUpdate = "update"
	opDelete = "delete"
)

// Service は記事テーブルAPIのサービス層。
// 挿入は actor と user_id の一致を、更新・削除は id と user_id の一致を条件とする。
// タイトルと本文は投稿されたまま保存する。
type Service struct {
	repo    repository.ArticleRepository
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(repo repository.ArticleRepository, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		repo:    repo,
		metrics: mc,
		now:     time.Now,
	}
}

// List は全ユーザーの記事をcreated_at降順で返す。
func (s *Service) List(ctx context.Context) ([]model.Article, error) {
	articles, err := s.repo.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	return articles, nil
}

// Get は指定IDの記事を返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.Article, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewArticleNotFoundError(id)
	}
	return a, nil
}

// Insert は記事を作成する。
// 作成日時・更新日時が未設定の場合は現在時刻を設定する。
func (s *Service) Insert(ctx context.Context, actorID string, a *model.Article) (err error) {
	start := s.now()
	defer func() { s.record(opInsert, start, err) }()

	if actorID == "" || a.UserID != actorID {
		return model.NewArticleForbiddenError()
	}
	if err := validate(a.Title, a.Description); err != nil {
		return err
	}

	if a.CreatedAt.IsZero() {
		a.CreatedAt = start
	}
	if a.UpdatedAt == nil {
		updated := a.CreatedAt
		a.UpdatedAt = &updated
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// Update はactorが所有する記事のタイトル・本文・更新日時を書き換える。
// 該当する記事がない場合（存在しない、または所有者でない）は ARTICLE_NOT_FOUND を返す。
func (s *Service) Update(ctx context.Context, actorID string, id int64, title, description string, updatedAt time.Time) (_ *model.Article, err error) {
	start := s.now()
	defer func() { s.record(opUpdate, start, err) }()

	if actorID == "" {
		return nil, model.NewUnauthorizedError()
	}
	if err := validate(title, description); err != nil {
		return nil, err
	}
	if updatedAt.IsZero() {
		updatedAt = start
	}

	updated, err := s.repo.Update(ctx, actorID, id, title, description, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewArticleNotFoundError(id)
	}
	return updated, nil
}

// Delete はactorが所有する記事を削除する。
func (s *Service) Delete(ctx context.Context, actorID string, id int64) (err error) {
	start := s.now()
	defer func() { s.record(opDelete, start, err) }()

	if actorID == "" {
		return model.NewUnauthorizedError()
	}
	deleted, err := s.repo.Delete(ctx, actorID, id)
	if err != nil {
		return fmt.Errorf("記事の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewArticleNotFoundError(id)
	}
	return nil
}

// validate は空白のみの入力、不正なUTF-8、長さ超過を拒否する。
// 値そのものは書き換えない。
func validate(title, description string) error {
	switch {
	case strings.TrimSpace(title) == "":
		return model.NewInvalidArticleError("title is required")
	case strings.TrimSpace(description) == "":
		return model.NewInvalidArticleError("description is required")
	case !utf8.ValidString(title) || !utf8.ValidString(description):
		return model.NewInvalidArticleError("title and description must be valid UTF-8")
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return model.NewInvalidArticleError(fmt.Sprintf("title must be at most %d characters", MaxTitleLength))
	case utf8.RuneCountInString(description) > MaxDescriptionLength:
		return model.NewInvalidArticleError(fmt.Sprintf("description must be at most %d characters", MaxDescriptionLength))
	}
	return nil
}

func (s *Service) record(op string, start time.Time, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			outcome = metrics.OutcomeRejected
		}
	}
	s.metrics.RecordArticleMutation(op, outcome, s.now().Sub(start))
}
