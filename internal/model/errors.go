package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, article, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeSessionExpired     = "SESSION_EXPIRED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidArticle     = "INVALID_ARTICLE"
	ErrCodeArticleNotFound    = "ARTICLE_NOT_FOUND"
	ErrCodeArticleForbidden   = "ARTICLE_FORBIDDEN"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeAvatarNotFound     = "AVATAR_NOT_FOUND"
	ErrCodeDeleteNotConfirmed = "DELETE_NOT_CONFIRMED"
	ErrCodeCSRFTokenInvalid   = "CSRF_TOKEN_INVALID"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewSessionExpiredError はセッション期限切れエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "Session expired. Please log in again.",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidArticleError は記事の入力値エラーを生成する。
func NewInvalidArticleError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidArticle,
		Message:  fmt.Sprintf("記事の入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "タイトルと本文を入力してください。",
	}
}

// NewArticleNotFoundError は記事が存在しないか、操作ユーザーの所有でない場合のエラーを生成する。
// 所有者以外の更新・削除は行レベルの制約で0件一致となり、このエラーになる。
func NewArticleNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %d", id),
		Category: "article",
		Action:   "自分が投稿した記事のみ編集・削除できます。",
	}
}

// NewArticleForbiddenError は他ユーザー名義での記事作成エラーを生成する。
func NewArticleForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeArticleForbidden,
		Message:  "他のユーザーとして記事を作成することはできません。",
		Category: "article",
		Action:   "ログインし直してから再度お試しください。",
	}
}

// NewDeleteNotConfirmedError は削除確認が得られなかった場合のエラーを生成する。
func NewDeleteNotConfirmedError() *APIError {
	return &APIError{
		Code:     ErrCodeDeleteNotConfirmed,
		Message:  "削除はキャンセルされました。",
		Category: "article",
		Action:   "",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewAvatarNotFoundError はアバター画像が未取得の場合のエラーを生成する。
func NewAvatarNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAvatarNotFound,
		Message:  "アバター画像がありません。",
		Category: "auth",
		Action:   "既定のアイコンを表示してください。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "リクエストを検証できませんでした。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}
