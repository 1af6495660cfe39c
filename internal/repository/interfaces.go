// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/articleboard/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はIdPから取得した名前・メールアドレス・アバターURLで上書きする。
	UpdateProfile(ctx context.Context, id, email, name, avatarURL string) error

	// UpdateAvatar はキャッシュしたアバター画像を更新する。
	UpdateAvatar(ctx context.Context, id string, data []byte, mime string) error

	// FindAvatar はキャッシュ済みのアバター画像を返す。未取得の場合はdataがnilになる。
	FindAvatar(ctx context.Context, id string) (data []byte, mime string, err error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、articlesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションをユーザー情報付きで取得する。
	// 有効期限による絞り込みは行わない（判定は呼び出し側が IsValid で行う）。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// UpdateExpiry はセッションの有効期限を延長する。
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ArticleRepository は記事データの永続化インターフェース。
// 更新・削除は所有者（user_id）一致を条件とする。
type ArticleRepository interface {
	// List は記事をcreated_at降順で返す。limitが0以下の場合は全件を返す。
	List(ctx context.Context, limit int) ([]model.Article, error)

	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Article, error)

	// Create は記事を作成し、採番されたIDと作成日時をarticleに設定する。
	Create(ctx context.Context, article *model.Article) error

	// Update はidとuserIDが一致する記事のタイトル・本文・更新日時を書き換える。
	// 該当行がない場合はnilを返す。
	Update(ctx context.Context, userID string, id int64, title, description string, updatedAt time.Time) (*model.Article, error)

	// Delete はidとuserIDが一致する記事を削除する。該当行がなかった場合はfalseを返す。
	Delete(ctx context.Context, userID string, id int64) (bool, error)
}
