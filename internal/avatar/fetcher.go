// Package avatar はIdPプロフィール画像の取得を提供する。
// 取得した画像はusersテーブルにキャッシュし、/api/users/{id}/avatar から配信する。
package avatar

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
)

// maxAvatarSize はアバター画像の最大サイズ（1MB）。
const maxAvatarSize = 1 << 20

// URLGuard はアバターURLの検証とSSRF防止クライアントの生成を抽象化する。
// security.SSRFGuardService が満たす。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Fetcher はアバター画像の取得機能。
type Fetcher struct {
	guard   URLGuard
	timeout time.Duration
	logger  *slog.Logger

	// client はテスト用に差し替え可能なHTTPクライアント。nilの場合はguardから生成する。
	client *http.Client
}

// NewFetcher はFetcherを生成する。
func NewFetcher(guard URLGuard, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{guard: guard, timeout: timeout, logger: logger}
}

// Fetch は画像を取得してデータとMIMEタイプを返す。
// 取得に失敗した場合はnilデータと空MIMEを返し、エラーは返さない。
// アバターはサインインの成否に影響させない。
func (f *Fetcher) Fetch(ctx context.Context, avatarURL string) ([]byte, string) {
	if avatarURL == "" {
		return nil, ""
	}
	log := f.logger.With(slog.String("url", avatarURL))

	if f.guard != nil {
		if err := f.guard.ValidateURL(avatarURL); err != nil {
			log.Warn("アバター取得: SSRFブロック", slog.String("error", err.Error()))
			return nil, ""
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, avatarURL, nil)
	if err != nil {
		log.Warn("アバター取得: リクエスト作成失敗", slog.String("error", err.Error()))
		return nil, ""
	}
	req.Header.Set("User-Agent", "articleboard/1.0")
	req.Header.Set("Accept", "image/*")

	resp, err := f.httpClient().Do(req)
	if err != nil {
		log.Warn("アバター取得: HTTPリクエスト失敗", slog.String("error", err.Error()))
		return nil, ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("アバター取得: HTTPステータス異常", slog.Int("status", resp.StatusCode))
		return nil, ""
	}

	mimeType := mediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mimeType, "image/") || mimeType == "image/svg+xml" {
		log.Warn("アバター取得: 画像以外のContent-Type", slog.String("content_type", mimeType))
		return nil, ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarSize+1))
	if err != nil {
		log.Warn("アバター取得: レスポンス読み取り失敗", slog.String("error", err.Error()))
		return nil, ""
	}
	if len(body) > maxAvatarSize {
		log.Warn("アバター取得: サイズ超過", slog.Int("size", len(body)))
		return nil, ""
	}

	return body, mimeType
}

func (f *Fetcher) httpClient() *http.Client {
	if f.client != nil {
		return f.client
	}
	if f.guard != nil {
		return f.guard.NewSafeClient(f.timeout)
	}
	return &http.Client{Timeout: f.timeout}
}

// mediaType はContent-Typeヘッダーからパラメータを除いたメディアタイプを返す。
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}
