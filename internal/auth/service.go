// Package auth はOAuth認証フロー、セッション管理、認証状態の変更通知を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/articleboard/internal/model"
	"github.com/hitoshi/articleboard/internal/realtime"
	"github.com/hitoshi/articleboard/internal/repository"
)

// ErrSessionNotFound はトークンに対応するセッションが存在しないことを示す。
var ErrSessionNotFound = errors.New("session not found")

const sessionLoadTimeout = 5 * time.Second

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// AvatarFetcher はプロフィール画像を取得する。失敗時はnilを返す。
type AvatarFetcher interface {
	Fetch(ctx context.Context, avatarURL string) ([]byte, string)
}

// ChangeSubscriber はテーブル変更通知の購読を提供する。realtime.Hub が満たす。
type ChangeSubscriber interface {
	Subscribe(topic string, filter realtime.Filter, handler realtime.Handler) *realtime.Subscription
}

// AuthStateHandler は認証状態の変化を受け取る。SIGNED_OUT の場合 session はnil。
type AuthStateHandler func(event model.AuthEvent, session *model.Session)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Deps はServiceの依存関係。Avatars と Changes は省略できる。
type Deps struct {
	OAuth      OAuthProvider
	Users      repository.UserRepository
	Identities repository.IdentityRepository
	Sessions   repository.SessionRepository
	Tokens     *TokenCodec
	Avatars    AvatarFetcher
	Changes    ChangeSubscriber
	Logger     *slog.Logger
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenCodec
	avatars     AvatarFetcher
	changes     ChangeSubscriber
	logger      *slog.Logger
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(deps Deps, config ServiceConfig) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		oauth:       deps.OAuth,
		userRepo:    deps.Users,
		identRepo:   deps.Identities,
		sessionRepo: deps.Sessions,
		tokens:      deps.Tokens,
		avatars:     deps.Avatars,
		changes:     deps.Changes,
		logger:      logger,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusersレコードとidentitiesレコードを同時に作成する。
// 登録済みユーザーの場合はIdPのプロフィールで名前とアバターを更新する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	now := s.now()
	user := &model.User{
		Email:     userInfo.Email,
		Name:      userInfo.Name,
		AvatarURL: userInfo.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if identity != nil {
		user.ID = identity.UserID
		if err := s.userRepo.UpdateProfile(ctx, user.ID, user.Email, user.Name, user.AvatarURL); err != nil {
			return nil, fmt.Errorf("failed to update user profile: %w", err)
		}
		s.logger.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		user.ID = uuid.New().String()
		newIdentity := &model.Identity{
			ID:             uuid.New().String(),
			UserID:         user.ID,
			Provider:       userInfo.Provider,
			ProviderUserID: userInfo.ProviderUserID,
			CreatedAt:      now,
		}
		if err := s.userRepo.CreateWithIdentity(ctx, user, newIdentity); err != nil {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}
		s.logger.Info("new user created",
			slog.String("user_id", user.ID),
			slog.String("provider", userInfo.Provider),
		)
	}

	s.cacheAvatar(ctx, user)

	session, err := s.createSession(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// cacheAvatar はアバター画像を取得して保存する。失敗してもサインインは続行する。
func (s *Service) cacheAvatar(ctx context.Context, user *model.User) {
	if s.avatars == nil || user.AvatarURL == "" {
		return
	}
	data, mime := s.avatars.Fetch(ctx, user.AvatarURL)
	if data == nil {
		return
	}
	if err := s.userRepo.UpdateAvatar(ctx, user.ID, data, mime); err != nil {
		s.logger.Warn("アバター画像の保存に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

// GetSession はアクセストークンに対応するセッションを返す。
// 期限切れのセッションもそのまま返す（有効性は呼び出し側が IsValid で判定する）。
// セッションが存在しない場合はnilを返す。
func (s *Service) GetSession(ctx context.Context, token string) (*model.Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	session, err := s.sessionRepo.FindByID(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != claims.Subject {
		return nil, nil
	}
	session.AccessToken = token
	return session, nil
}

// RefreshSession は有効なセッションの期限を延長し、新しいアクセストークンを発行する。
// 期限切れまたは存在しないセッションは更新できない。
func (s *Service) RefreshSession(ctx context.Context, token string) (*model.Session, error) {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !session.IsValid(now) {
		return nil, model.NewSessionExpiredError()
	}

	expiresAt := now.Add(time.Duration(s.config.SessionMaxAge) * time.Second)
	if err := s.sessionRepo.UpdateExpiry(ctx, session.ID, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	newToken, err := s.tokens.Issue(session.ID, session.UserID, expiresAt)
	if err != nil {
		return nil, err
	}

	session.ExpiresAt = expiresAt.Unix()
	session.AccessToken = newToken
	s.logger.Info("session refreshed", slog.String("user_id", session.UserID))
	return session, nil
}

// Logout はアクセストークンのセッションを破棄する。
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return err
	}

	if err := s.sessionRepo.DeleteByID(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.logger.Info("user logged out", slog.String("user_id", claims.Subject))
	return nil
}

// GetCurrentUser は有効なセッションのユーザーを返す。
func (s *Service) GetCurrentUser(ctx context.Context, token string) (*model.User, error) {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if !session.IsValid(s.now()) {
		return nil, ErrSessionNotFound
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// OnAuthStateChange はアクセストークンのセッションに対する変化を購読する。
// セッション行の作成は SIGNED_IN、更新は TOKEN_REFRESHED、削除は SIGNED_OUT として通知する。
// トークンが不正な場合は購読せずnilを返す（nilのUnsubscribeは安全）。
func (s *Service) OnAuthStateChange(token string, handler AuthStateHandler) *realtime.Subscription {
	if s.changes == nil {
		return nil
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil
	}
	sid := claims.SessionID

	return s.changes.Subscribe(realtime.TopicSessions,
		func(ev realtime.Event) bool { return ev.ID == sid },
		func(ev realtime.Event) {
			switch ev.Op {
			case model.ChangeDelete:
				handler(model.AuthEventSignedOut, nil)
			case model.ChangeInsert, model.ChangeUpdate:
				ctx, cancel := context.WithTimeout(context.Background(), sessionLoadTimeout)
				defer cancel()
				session, err := s.GetSession(ctx, token)
				if err != nil {
					s.logger.Warn("変更されたセッションの読み込みに失敗しました", slog.String("error", err.Error()))
					return
				}
				if session == nil {
					handler(model.AuthEventSignedOut, nil)
					return
				}
				event := model.AuthEventTokenRefreshed
				if ev.Op == model.ChangeInsert {
					event = model.AuthEventSignedIn
				}
				handler(event, session)
			}
		},
	)
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, user *model.User) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(s.config.SessionMaxAge) * time.Second)
	token, err := s.tokens.Issue(sessionID, user.ID, expiresAt)
	if err != nil {
		return nil, err
	}

	session := &model.Session{
		ID:          sessionID,
		AccessToken: token,
		UserID:      user.ID,
		UserName:    user.Name,
		AvatarURL:   user.AvatarURL,
		Email:       user.Email,
		ExpiresAt:   expiresAt.Unix(),
		CreatedAt:   now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
