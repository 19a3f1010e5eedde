package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/contactbook-hq/contactbook-backend/internal/logger"
	"github.com/contactbook-hq/contactbook-backend/internal/repos"
	"github.com/contactbook-hq/contactbook-backend/internal/types"
)

const digestConcurrency = 8

// BirthdayDigestService periodically mails each confirmed user a digest of
// contacts with birthdays coming up inside the window.
type BirthdayDigestService struct {
	db          *gorm.DB
	log         *logger.Logger
	userRepo    repos.UserRepo
	contactRepo repos.ContactRepo
	mailer      Mailer
	interval    time.Duration
	windowDays  int
}

func NewBirthdayDigestService(
	db *gorm.DB,
	log *logger.Logger,
	userRepo repos.UserRepo,
	contactRepo repos.ContactRepo,
	mailer Mailer,
	interval time.Duration,
	windowDays int,
) *BirthdayDigestService {
	serviceLog := log.With("service", "BirthdayDigestService")
	return &BirthdayDigestService{
		db:          db,
		log:         serviceLog,
		userRepo:    userRepo,
		contactRepo: contactRepo,
		mailer:      mailer,
		interval:    interval,
		windowDays:  windowDays,
	}
}

// StartWorker runs the digest loop until ctx is cancelled.
func (bs *BirthdayDigestService) StartWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(bs.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				bs.log.Info("Birthday digest worker stopping")
				return
			case <-ticker.C:
				if err := bs.RunOnce(ctx); err != nil {
					bs.log.Warn("Birthday digest run failed", "error", err)
				}
			}
		}
	}()
	bs.log.Info("Birthday digest worker started", "interval", bs.interval, "window_days", bs.windowDays)
}

// RunOnce computes and sends one digest round. Per-user failures are logged
// and do not stop the other users' digests.
func (bs *BirthdayDigestService) RunOnce(ctx context.Context) error {
	users, err := bs.userRepo.ListConfirmed(ctx, nil)
	if err != nil {
		return fmt.Errorf("list users for digest: %w", err)
	}

	now := time.Now().UTC()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(digestConcurrency)
	for _, user := range users {
		user := user
		g.Go(func() error {
			if err := bs.digestForUser(gctx, user, now); err != nil {
				bs.log.Warn("Digest failed for user", "user_id", user.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (bs *BirthdayDigestService) digestForUser(ctx context.Context, user *types.User, now time.Time) error {
	candidates, err := bs.contactRepo.ListWithBirthday(ctx, nil, user.ID)
	if err != nil {
		return err
	}
	upcoming := filterUpcomingBirthdays(candidates, now, bs.windowDays)
	if len(upcoming) == 0 {
		return nil
	}

	var lines []string
	for _, c := range upcoming {
		name := strings.TrimSpace(c.FirstName + " " + c.LastName)
		lines = append(lines, fmt.Sprintf("<li>%s (%s)</li>", name, c.Birthday.Format("January 2")))
	}
	body := fmt.Sprintf(
		`<p>Hello %s,</p><p>Birthdays in the next %d days:</p><ul>%s</ul>`,
		user.Username, bs.windowDays, strings.Join(lines, ""))

	return bs.mailer.Send(ctx, user.Email, user.Username, "Upcoming birthdays", body)
}
