// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// Name と AvatarURL はサインインのたびにIdPのプロフィールで上書きされる。
type User struct {
	ID         string
	Email      string
	Name       string
	AvatarURL  string
	AvatarData []byte
	AvatarMime string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DisplayName は記事に非正規化して保存する表示名を返す。
// 名前が未設定の場合はメールアドレスを使用する。
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// ExpiresAt はUNIX秒で保持し、有効性は IsValid で判定する。
type Session struct {
	ID          string    `json:"id"`
	AccessToken string    `json:"access_token,omitempty"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	AvatarURL   string    `json:"avatar_url"`
	Email       string    `json:"email"`
	ExpiresAt   int64     `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsValid はセッションが現在時刻において有効かを返す。
// expires_at と現在時刻が等しい場合は期限切れとみなす。
func (s *Session) IsValid(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.ExpiresAt > now.Unix()
}

// DisplayName は記事の投稿者名として使う名前を返す。
func (s *Session) DisplayName() string {
	if s.UserName != "" {
		return s.UserName
	}
	return s.Email
}

// AuthEvent はIdP側のセッション状態変化の種類を表す。
type AuthEvent string

const (
	// AuthEventSignedIn はサインインによるセッション発行を示す。
	AuthEventSignedIn AuthEvent = "SIGNED_IN"
	// AuthEventSignedOut はサインアウトまたはセッション破棄を示す。
	AuthEventSignedOut AuthEvent = "SIGNED_OUT"
	// AuthEventTokenRefreshed はトークン更新による有効期限の延長を示す。
	AuthEventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)
