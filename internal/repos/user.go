package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/contactbook-hq/contactbook-backend/internal/logger"
	"github.com/contactbook-hq/contactbook-backend/internal/types"
)

type UserRepo interface {
	Create(ctx context.Context, tx *gorm.DB, user *types.User) error
	GetByID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.User, error)
	GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.User, error)
	EmailExists(ctx context.Context, tx *gorm.DB, email string) (bool, error)
	ConfirmEmail(ctx context.Context, tx *gorm.DB, email string) error
	UpdatePassword(ctx context.Context, tx *gorm.DB, email, passwordHash string) (int64, error)
	UpdateAvatarURL(ctx context.Context, tx *gorm.DB, userID uuid.UUID, avatarURL string) error
	ListConfirmed(ctx context.Context, tx *gorm.DB) ([]*types.User, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	repoLog := baseLog.With("repo", "UserRepo")
	return &userRepo{db: db, log: repoLog}
}

func (ur *userRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return ur.db
}

func (ur *userRepo) Create(ctx context.Context, tx *gorm.DB, user *types.User) error {
	return ur.handle(tx).WithContext(ctx).Create(user).Error
}

func (ur *userRepo) GetByID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.User, error) {
	var user types.User
	if err := ur.handle(tx).WithContext(ctx).
		Where("id = ?", userID).
		First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (ur *userRepo) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.User, error) {
	var user types.User
	if err := ur.handle(tx).WithContext(ctx).
		Where("email = ?", email).
		First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (ur *userRepo) EmailExists(ctx context.Context, tx *gorm.DB, email string) (bool, error) {
	var count int64
	if err := ur.handle(tx).WithContext(ctx).
		Model(&types.User{}).
		Where("email = ?", email).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (ur *userRepo) ConfirmEmail(ctx context.Context, tx *gorm.DB, email string) error {
	return ur.handle(tx).WithContext(ctx).
		Model(&types.User{}).
		Where("email = ?", email).
		Update("confirmed", true).Error
}

func (ur *userRepo) UpdatePassword(ctx context.Context, tx *gorm.DB, email, passwordHash string) (int64, error) {
	res := ur.handle(tx).WithContext(ctx).
		Model(&types.User{}).
		Where("email = ?", email).
		Update("password", passwordHash)
	return res.RowsAffected, res.Error
}

func (ur *userRepo) UpdateAvatarURL(ctx context.Context, tx *gorm.DB, userID uuid.UUID, avatarURL string) error {
	return ur.handle(tx).WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", userID).
		Update("avatar_url", avatarURL).Error
}

func (ur *userRepo) ListConfirmed(ctx context.Context, tx *gorm.DB) ([]*types.User, error) {
	var results []*types.User
	if err := ur.handle(tx).WithContext(ctx).
		Where("confirmed = ?", true).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
