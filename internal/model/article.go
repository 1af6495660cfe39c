package model

import "time"

// Article はユーザーが投稿した記事を表す。
// UserName と Avatar は投稿時点のプロフィールを非正規化して保持する。
type Article struct {
	ID          int64      `json:"id"`
	UserID      string     `json:"user_id"`
	UserName    string     `json:"user_name"`
	Avatar      string     `json:"avatar"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// DisplayTime は一覧に表示する日時を返す。
// 更新日時があればそれを、なければ作成日時を返す。
func (a *Article) DisplayTime() time.Time {
	if a.UpdatedAt != nil {
		return *a.UpdatedAt
	}
	return a.CreatedAt
}

// OwnedBy は記事が指定ユーザーの所有かを返す。
func (a *Article) OwnedBy(userID string) bool {
	return userID != "" && a.UserID == userID
}

// ChangeType は記事テーブルの変更種別を表す。
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent は記事テーブルの変更通知を表す。
// INSERT/UPDATE では New に変更後のレコードが入り、
// DELETE では OldID のみが設定される。
type ChangeEvent struct {
	Type       ChangeType `json:"type"`
	New        *Article   `json:"new,omitempty"`
	OldID      int64      `json:"old_id,omitempty"`
	CommitTime time.Time  `json:"commit_time"`
}
