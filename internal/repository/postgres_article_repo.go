package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/articleboard/internal/model"
)

const articleColumns = `id, user_id, user_name, avatar, title, description, created_at, updated_at`

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(s rowScanner) (*model.Article, error) {
	a := &model.Article{}
	var updatedAt sql.NullTime
	if err := s.Scan(&a.ID, &a.UserID, &a.UserName, &a.Avatar, &a.Title, &a.Description, &a.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		a.UpdatedAt = &t
	}
	return a, nil
}

// List は記事をcreated_at降順で返す。同時刻の記事はID降順で並べる。
func (r *PostgresArticleRepo) List(ctx context.Context, limit int) ([]model.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	articles := []model.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate articles: %w", err)
	}
	return articles, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id int64) (*model.Article, error) {
	a, err := scanArticle(r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find article: %w", err)
	}
	return a, nil
}

// Create は記事を作成し、採番されたIDをarticleに設定する。
func (r *PostgresArticleRepo) Create(ctx context.Context, article *model.Article) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO articles (user_id, user_name, avatar, title, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		article.UserID, article.UserName, article.Avatar, article.Title, article.Description,
		article.CreatedAt, article.UpdatedAt,
	).Scan(&article.ID)
	if err != nil {
		return fmt.Errorf("failed to create article: %w", err)
	}
	return nil
}

// Update はidとuserIDが一致する記事を更新し、更新後の行を返す。
// 該当行がない場合はnilを返す。
func (r *PostgresArticleRepo) Update(ctx context.Context, userID string, id int64, title, description string, updatedAt time.Time) (*model.Article, error) {
	a, err := scanArticle(r.db.QueryRowContext(ctx,
		`UPDATE articles SET title = $3, description = $4, updated_at = $5
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+articleColumns,
		id, userID, title, description, updatedAt,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update article: %w", err)
	}
	return a, nil
}

// Delete はidとuserIDが一致する記事を削除する。
func (r *PostgresArticleRepo) Delete(ctx context.Context, userID string, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM articles WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete article: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
