// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/articleboard/internal/model"
	"github.com/hitoshi/articleboard/internal/repository"
)

// Service はユーザー管理のサービス層。
// 退会処理とアバター画像の取得を提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sessionRepo repository.SessionRepository) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: identities, articles）
// セッション削除は購読中の画面にSIGNED_OUTとして通知され、
// 記事のCASCADE削除は各画面の一覧にDELETEとして反映される。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}

// Avatar はキャッシュ済みのアバター画像とMIMEタイプを返す。
// 未取得の場合は AVATAR_NOT_FOUND を返す。
func (s *Service) Avatar(ctx context.Context, userID string) ([]byte, string, error) {
	data, mime, err := s.userRepo.FindAvatar(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("アバター画像の取得に失敗しました: %w", err)
	}
	if len(data) == 0 {
		return nil, "", model.NewAvatarNotFoundError()
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	return data, mime, nil
}
