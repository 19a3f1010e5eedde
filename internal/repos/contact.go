package repos

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/contactbook-hq/contactbook-backend/internal/logger"
	"github.com/contactbook-hq/contactbook-backend/internal/types"
)

// SearchFilter holds partial-match terms. Empty fields are ignored; supplied
// terms are OR-ed, matching the original search semantics.
type SearchFilter struct {
	FirstName string
	LastName  string
	Email     string
}

type ContactRepo interface {
	Create(ctx context.Context, tx *gorm.DB, contact *types.Contact) error
	GetByID(ctx context.Context, tx *gorm.DB, userID, contactID uuid.UUID) (*types.Contact, error)
	List(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit, offset int) ([]*types.Contact, error)
	Count(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error)
	Update(ctx context.Context, tx *gorm.DB, userID, contactID uuid.UUID, fields map[string]interface{}) (int64, error)
	Delete(ctx context.Context, tx *gorm.DB, userID, contactID uuid.UUID) (int64, error)
	Search(ctx context.Context, tx *gorm.DB, userID uuid.UUID, filter SearchFilter) ([]*types.Contact, error)
	ListWithBirthday(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Contact, error)
}

type contactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContactRepo(db *gorm.DB, baseLog *logger.Logger) ContactRepo {
	repoLog := baseLog.With("repo", "ContactRepo")
	return &contactRepo{db: db, log: repoLog}
}

func (cr *contactRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return cr.db
}

func (cr *contactRepo) Create(ctx context.Context, tx *gorm.DB, contact *types.Contact) error {
	return cr.handle(tx).WithContext(ctx).Create(contact).Error
}

func (cr *contactRepo) GetByID(ctx context.Context, tx *gorm.DB, userID, contactID uuid.UUID) (*types.Contact, error) {
	var contact types.Contact
	if err := cr.handle(tx).WithContext(ctx).
		Where("id = ? AND user_id = ?", contactID, userID).
		First(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

// List orders by (created_at, id) so pages partition the set without
// duplicates or gaps.
func (cr *contactRepo) List(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit, offset int) ([]*types.Contact, error) {
	var results []*types.Contact
	if err := cr.handle(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (cr *contactRepo) Count(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error) {
	var count int64
	if err := cr.handle(tx).WithContext(ctx).
		Model(&types.Contact{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (cr *contactRepo) Update(ctx context.Context, tx *gorm.DB, userID, contactID uuid.UUID, fields map[string]interface{}) (int64, error) {
	res := cr.handle(tx).WithContext(ctx).
		Model(&types.Contact{}).
		Where("id = ? AND user_id = ?", contactID, userID).
		Updates(fields)
	return res.RowsAffected, res.Error
}

func (cr *contactRepo) Delete(ctx context.Context, tx *gorm.DB, userID, contactID uuid.UUID) (int64, error) {
	res := cr.handle(tx).WithContext(ctx).
		Where("id = ? AND user_id = ?", contactID, userID).
		Delete(&types.Contact{})
	return res.RowsAffected, res.Error
}

func (cr *contactRepo) Search(ctx context.Context, tx *gorm.DB, userID uuid.UUID, filter SearchFilter) ([]*types.Contact, error) {
	query := cr.handle(tx).WithContext(ctx).Where("user_id = ?", userID)

	// LOWER(...) LIKE keeps the match case-insensitive on both Postgres and
	// the sqlite test driver.
	var terms *gorm.DB
	add := func(column, term string) {
		if term == "" {
			return
		}
		cond := cr.db.Where("LOWER("+column+") LIKE ?", "%"+strings.ToLower(term)+"%")
		if terms == nil {
			terms = cond
		} else {
			terms = terms.Or(cond)
		}
	}
	add("first_name", filter.FirstName)
	add("last_name", filter.LastName)
	add("email", filter.Email)
	if terms != nil {
		query = query.Where(terms)
	}

	var results []*types.Contact
	if err := query.Order("created_at ASC, id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (cr *contactRepo) ListWithBirthday(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Contact, error) {
	var results []*types.Contact
	if err := cr.handle(tx).WithContext(ctx).
		Where("user_id = ? AND birthday IS NOT NULL", userID).
		Order("created_at ASC, id ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
