package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/contactbook-hq/contactbook-backend/internal/apierr"
	"github.com/contactbook-hq/contactbook-backend/internal/cache"
	"github.com/contactbook-hq/contactbook-backend/internal/logger"
	"github.com/contactbook-hq/contactbook-backend/internal/repos"
	"github.com/contactbook-hq/contactbook-backend/internal/requestdata"
	"github.com/contactbook-hq/contactbook-backend/internal/types"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxNameLen      = 100
)

// CreateContactInput carries the create payload. Email and phone are optional
// but at least one must be supplied.
type CreateContactInput struct {
	FirstName string
	LastName  string
	Email     *string
	Phone     *string
	Birthday  *time.Time
}

// UpdateContactInput applies partial-update semantics: nil means "leave the
// field alone", a pointer to the empty string clears an optional field.
type UpdateContactInput struct {
	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string
	Birthday  *time.Time
}

type ContactService interface {
	Create(ctx context.Context, in CreateContactInput) (*types.Contact, error)
	Get(ctx context.Context, contactID uuid.UUID) (*types.Contact, error)
	List(ctx context.Context, limit, offset int) ([]*types.Contact, int64, error)
	Update(ctx context.Context, contactID uuid.UUID, in UpdateContactInput) (*types.Contact, error)
	Delete(ctx context.Context, contactID uuid.UUID) error
	Search(ctx context.Context, filter repos.SearchFilter) ([]*types.Contact, error)
	UpcomingBirthdays(ctx context.Context, days int) ([]*types.Contact, error)
}

type contactService struct {
	db          *gorm.DB
	log         *logger.Logger
	contactRepo repos.ContactRepo
	cache       *cache.ContactCache
}

func NewContactService(db *gorm.DB, log *logger.Logger, contactRepo repos.ContactRepo, contactCache *cache.ContactCache) ContactService {
	serviceLog := log.With("service", "ContactService")
	return &contactService{
		db:          db,
		log:         serviceLog,
		contactRepo: contactRepo,
		cache:       contactCache,
	}
}

func callerID(ctx context.Context) (uuid.UUID, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return uuid.Nil, apierr.Unauthorized("user id not set in request data")
	}
	return rd.UserID, nil
}

// isDuplicate recognizes unique-index violations from both the Postgres
// driver and the sqlite driver used in tests.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// storeErr maps anything the repo layer can return that is not a business
// outcome onto the retryable storage-unavailable class.
func storeErr(err error) error {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apierr.Unavailable(err)
}

func (cs *contactService) Create(ctx context.Context, in CreateContactInput) (*types.Contact, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}

	firstName := strings.TrimSpace(in.FirstName)
	if firstName == "" {
		return nil, apierr.Validation("first_name is required")
	}
	if len(firstName) > maxNameLen {
		return nil, apierr.Validation("first_name exceeds %d characters", maxNameLen)
	}

	email, phone, err := normalizeMethods(in.Email, in.Phone)
	if err != nil {
		return nil, err
	}
	if email == nil && phone == nil {
		return nil, apierr.Validation("at least one of email or phone is required")
	}

	contact := &types.Contact{
		ID:        uuid.New(),
		UserID:    userID,
		FirstName: firstName,
		LastName:  strings.TrimSpace(in.LastName),
		Email:     email,
		Phone:     phone,
		Birthday:  in.Birthday,
	}

	if err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return cs.contactRepo.Create(ctx, tx, contact)
	}); err != nil {
		if isDuplicate(err) {
			return nil, apierr.Conflict("a contact with that email or phone already exists")
		}
		cs.log.Warn("Create contact failed", "error", err)
		return nil, storeErr(err)
	}
	return contact, nil
}

func (cs *contactService) Get(ctx context.Context, contactID uuid.UUID) (*types.Contact, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}

	if cached, ok := cs.cache.Get(ctx, contactID); ok && cached.UserID == userID {
		return cached, nil
	}

	contact, err := cs.contactRepo.GetByID(ctx, nil, userID, contactID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("contact %s not found", contactID)
		}
		cs.log.Warn("Get contact failed", "contact_id", contactID, "error", err)
		return nil, storeErr(err)
	}
	cs.cache.Set(ctx, contact)
	return contact, nil
}

func (cs *contactService) List(ctx context.Context, limit, offset int) ([]*types.Contact, int64, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	total, err := cs.contactRepo.Count(ctx, nil, userID)
	if err != nil {
		cs.log.Warn("Count contacts failed", "error", err)
		return nil, 0, storeErr(err)
	}
	results, err := cs.contactRepo.List(ctx, nil, userID, limit, offset)
	if err != nil {
		cs.log.Warn("List contacts failed", "error", err)
		return nil, 0, storeErr(err)
	}
	return results, total, nil
}

func (cs *contactService) Update(ctx context.Context, contactID uuid.UUID, in UpdateContactInput) (*types.Contact, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}

	var updated *types.Contact
	txErr := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := cs.contactRepo.GetByID(ctx, tx, userID, contactID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierr.NotFound("contact %s not found", contactID)
			}
			return err
		}

		fields, err := buildUpdateFields(existing, in)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return apierr.Validation("no fields supplied")
		}

		if _, err := cs.contactRepo.Update(ctx, tx, userID, contactID, fields); err != nil {
			return err
		}

		reloaded, err := cs.contactRepo.GetByID(ctx, tx, userID, contactID)
		if err != nil {
			return err
		}
		updated = reloaded
		return nil
	})
	if txErr != nil {
		if isDuplicate(txErr) {
			return nil, apierr.Conflict("a contact with that email or phone already exists")
		}
		var ae *apierr.Error
		if errors.As(txErr, &ae) {
			return nil, txErr
		}
		cs.log.Warn("Update contact failed", "contact_id", contactID, "error", txErr)
		return nil, storeErr(txErr)
	}

	cs.cache.Invalidate(ctx, contactID)
	return updated, nil
}

func (cs *contactService) Delete(ctx context.Context, contactID uuid.UUID) error {
	userID, err := callerID(ctx)
	if err != nil {
		return err
	}

	txErr := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := cs.contactRepo.Delete(ctx, tx, userID, contactID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return apierr.NotFound("contact %s not found", contactID)
		}
		return nil
	})
	if txErr != nil {
		var ae *apierr.Error
		if errors.As(txErr, &ae) {
			return txErr
		}
		cs.log.Warn("Delete contact failed", "contact_id", contactID, "error", txErr)
		return storeErr(txErr)
	}

	cs.cache.Invalidate(ctx, contactID)
	return nil
}

func (cs *contactService) Search(ctx context.Context, filter repos.SearchFilter) ([]*types.Contact, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}

	filter.FirstName = strings.TrimSpace(filter.FirstName)
	filter.LastName = strings.TrimSpace(filter.LastName)
	filter.Email = strings.TrimSpace(filter.Email)
	if filter.FirstName == "" && filter.LastName == "" && filter.Email == "" {
		return nil, apierr.Validation("at least one search term is required")
	}

	results, err := cs.contactRepo.Search(ctx, nil, userID, filter)
	if err != nil {
		cs.log.Warn("Search contacts failed", "error", err)
		return nil, storeErr(err)
	}
	return results, nil
}

func (cs *contactService) UpcomingBirthdays(ctx context.Context, days int) ([]*types.Contact, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 7
	}
	if days > 366 {
		days = 366
	}

	candidates, err := cs.contactRepo.ListWithBirthday(ctx, nil, userID)
	if err != nil {
		cs.log.Warn("Birthday lookup failed", "error", err)
		return nil, storeErr(err)
	}
	return filterUpcomingBirthdays(candidates, time.Now().UTC(), days), nil
}

// filterUpcomingBirthdays keeps contacts whose birthday (month/day, year
// ignored) falls within the next `days` days, including today. Year wrap is
// handled by rolling the anniversary forward.
func filterUpcomingBirthdays(contacts []*types.Contact, now time.Time, days int) []*types.Contact {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	horizon := today.AddDate(0, 0, days)

	matched := make([]*types.Contact, 0, len(contacts))
	for _, c := range contacts {
		if c.Birthday == nil {
			continue
		}
		b := c.Birthday.UTC()
		next := time.Date(today.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
		if next.Before(today) {
			next = time.Date(today.Year()+1, b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
		}
		if !next.After(horizon) {
			matched = append(matched, c)
		}
	}
	return matched
}

func normalizeMethods(email, phone *string) (*string, *string, error) {
	var outEmail, outPhone *string
	if email != nil {
		e := normalizeEmail(*email)
		if e != "" {
			if !validEmail(e) {
				return nil, nil, apierr.Validation("invalid email %q", e)
			}
			outEmail = &e
		}
	}
	if phone != nil {
		p := strings.TrimSpace(*phone)
		if p != "" {
			if !validPhone(p) {
				return nil, nil, apierr.Validation("invalid phone %q", p)
			}
			outPhone = &p
		}
	}
	return outEmail, outPhone, nil
}

// buildUpdateFields turns the partial-update input into a column map and
// enforces that the result keeps at least one contact method.
func buildUpdateFields(existing *types.Contact, in UpdateContactInput) (map[string]interface{}, error) {
	fields := map[string]interface{}{}

	if in.FirstName != nil {
		name := strings.TrimSpace(*in.FirstName)
		if name == "" {
			return nil, apierr.Validation("first_name cannot be empty")
		}
		if len(name) > maxNameLen {
			return nil, apierr.Validation("first_name exceeds %d characters", maxNameLen)
		}
		fields["first_name"] = name
	}
	if in.LastName != nil {
		fields["last_name"] = strings.TrimSpace(*in.LastName)
	}

	finalEmail := existing.Email
	finalPhone := existing.Phone
	if in.Email != nil {
		email, _, err := normalizeMethods(in.Email, nil)
		if err != nil {
			return nil, err
		}
		finalEmail = email
		if email != nil {
			fields["email"] = *email
		} else {
			fields["email"] = nil
		}
	}
	if in.Phone != nil {
		_, phone, err := normalizeMethods(nil, in.Phone)
		if err != nil {
			return nil, err
		}
		finalPhone = phone
		if phone != nil {
			fields["phone"] = *phone
		} else {
			fields["phone"] = nil
		}
	}
	if finalEmail == nil && finalPhone == nil {
		return nil, apierr.Validation("contact must keep at least one of email or phone")
	}

	if in.Birthday != nil {
		fields["birthday"] = *in.Birthday
	}

	return fields, nil
}
