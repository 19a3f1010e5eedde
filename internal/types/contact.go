package types

import (
	"time"

	"github.com/google/uuid"
)

// Contact is one address-book entry owned by a user. Email and phone are
// pointers so an unset method stays NULL and the unique indexes only bite on
// real values.
type Contact struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;index;not null;column:user_id" json:"user_id"`
	FirstName string     `gorm:"not null;column:first_name" json:"first_name"`
	LastName  string     `gorm:"column:last_name" json:"last_name"`
	Email     *string    `gorm:"uniqueIndex;column:email" json:"email,omitempty"`
	Phone     *string    `gorm:"uniqueIndex;column:phone" json:"phone,omitempty"`
	Birthday  *time.Time `gorm:"column:birthday" json:"birthday,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contact"
}
