package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/contactbook-hq/contactbook-backend/internal/apierr"
	"github.com/contactbook-hq/contactbook-backend/internal/logger"
	"github.com/contactbook-hq/contactbook-backend/internal/repos"
	"github.com/contactbook-hq/contactbook-backend/internal/requestdata"
	"github.com/contactbook-hq/contactbook-backend/internal/types"
)

const (
	scopeAccess        = "access"
	scopeEmailConfirm  = "email_confirm"
	scopePasswordReset = "password_reset"

	emailTokenTTL = 24 * time.Hour
	resetTokenTTL = time.Hour

	minPasswordLen = 6
	maxPasswordLen = 72 // bcrypt input limit
)

type JWTClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type AuthService interface {
	RegisterUser(ctx context.Context, username, email, password string) (*types.User, error)
	LoginUser(ctx context.Context, email, password string) (*TokenPair, error)
	RefreshUser(ctx context.Context, refreshToken string) (*TokenPair, error)
	LogoutUser(ctx context.Context) error
	ConfirmEmail(ctx context.Context, token string) (alreadyConfirmed bool, err error)
	RequestConfirmEmail(ctx context.Context, email string) (alreadyConfirmed bool, err error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	CurrentUser(ctx context.Context) (*types.User, error)
	UpdateAvatarURL(ctx context.Context, avatarURL string) (*types.User, error)
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	GetAccessTTL() time.Duration
}

type authService struct {
	db            *gorm.DB
	log           *logger.Logger
	userRepo      repos.UserRepo
	userTokenRepo repos.UserTokenRepo
	mailer        Mailer
	jwtSecretKey  string
	appBaseURL    string
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewAuthService(
	db *gorm.DB,
	log *logger.Logger,
	userRepo repos.UserRepo,
	userTokenRepo repos.UserTokenRepo,
	mailer Mailer,
	jwtSecretKey string,
	appBaseURL string,
	accessTTL time.Duration,
	refreshTTL time.Duration,
) AuthService {
	serviceLog := log.With("service", "AuthService")
	return &authService{
		db:            db,
		log:           serviceLog,
		userRepo:      userRepo,
		userTokenRepo: userTokenRepo,
		mailer:        mailer,
		jwtSecretKey:  jwtSecretKey,
		appBaseURL:    strings.TrimRight(appBaseURL, "/"),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return apierr.Validation("password must be at least %d characters", minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return apierr.Validation("password must be at most %d characters", maxPasswordLen)
	}
	return nil
}

func (as *authService) RegisterUser(ctx context.Context, username, email, password string) (*types.User, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)

	if username == "" {
		return nil, apierr.Validation("username is required")
	}
	if !validEmail(email) {
		return nil, apierr.Validation("invalid email %q", email)
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &types.User{
		ID:       uuid.New(),
		Username: username,
		Email:    email,
		Password: string(hash),
	}
	txErr := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := as.userRepo.EmailExists(ctx, tx, email)
		if err != nil {
			return err
		}
		if exists {
			return apierr.Conflict("account already exists")
		}
		return as.userRepo.Create(ctx, tx, user)
	})
	if txErr != nil {
		if isDuplicate(txErr) {
			return nil, apierr.Conflict("account already exists")
		}
		var ae *apierr.Error
		if errors.As(txErr, &ae) {
			return nil, txErr
		}
		as.log.Warn("Register user failed", "error", txErr)
		return nil, storeErr(txErr)
	}

	as.sendConfirmationMail(user)
	return user, nil
}

func (as *authService) LoginUser(ctx context.Context, email, password string) (*TokenPair, error) {
	email = normalizeEmail(email)

	user, err := as.userRepo.GetByEmail(ctx, nil, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.Unauthorized("invalid email or password")
		}
		return nil, storeErr(err)
	}
	if !user.Confirmed {
		return nil, apierr.Unauthorized("email not confirmed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, apierr.Unauthorized("invalid email or password")
	}

	var pair *TokenPair
	txErr := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := as.userTokenRepo.DeleteExpired(ctx, tx, time.Now()); err != nil {
			return err
		}
		p, err := as.issueTokens(ctx, tx, user)
		if err != nil {
			return err
		}
		pair = p
		return nil
	})
	if txErr != nil {
		as.log.Warn("Login failed issuing tokens", "error", txErr)
		return nil, storeErr(txErr)
	}
	return pair, nil
}

func (as *authService) RefreshUser(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, apierr.Unauthorized("refresh token required")
	}

	var pair *TokenPair
	txErr := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := as.userTokenRepo.GetByRefreshToken(ctx, tx, refreshToken)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierr.Unauthorized("invalid refresh token")
			}
			return err
		}
		if existing.ExpiresAt.Before(time.Now()) {
			if err := as.userTokenRepo.DeleteByID(ctx, tx, existing.ID); err != nil {
				return err
			}
			return apierr.Unauthorized("refresh token expired")
		}

		user, err := as.userRepo.GetByID(ctx, tx, existing.UserID)
		if err != nil {
			return err
		}
		p, err := as.issueTokens(ctx, tx, user)
		if err != nil {
			return err
		}
		if err := as.userTokenRepo.DeleteByID(ctx, tx, existing.ID); err != nil {
			return err
		}
		pair = p
		return nil
	})
	if txErr != nil {
		var ae *apierr.Error
		if errors.As(txErr, &ae) {
			return nil, txErr
		}
		as.log.Warn("Refresh failed", "error", txErr)
		return nil, storeErr(txErr)
	}
	return pair, nil
}

func (as *authService) LogoutUser(ctx context.Context) error {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.TokenString == "" {
		return apierr.Unauthorized("no authenticated session")
	}
	return as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token, err := as.userTokenRepo.GetByAccessToken(ctx, tx, rd.TokenString)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return storeErr(err)
		}
		return as.userTokenRepo.DeleteByID(ctx, tx, token.ID)
	})
}

func (as *authService) ConfirmEmail(ctx context.Context, token string) (bool, error) {
	email, err := as.parseScopedToken(token, scopeEmailConfirm)
	if err != nil {
		return false, err
	}
	user, err := as.userRepo.GetByEmail(ctx, nil, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, apierr.Validation("verification error")
		}
		return false, storeErr(err)
	}
	if user.Confirmed {
		return true, nil
	}
	if err := as.userRepo.ConfirmEmail(ctx, nil, email); err != nil {
		return false, storeErr(err)
	}
	return false, nil
}

func (as *authService) RequestConfirmEmail(ctx context.Context, email string) (bool, error) {
	email = normalizeEmail(email)
	user, err := as.userRepo.GetByEmail(ctx, nil, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Do not reveal whether the account exists.
			return false, nil
		}
		return false, storeErr(err)
	}
	if user.Confirmed {
		return true, nil
	}
	as.sendConfirmationMail(user)
	return false, nil
}

func (as *authService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	user, err := as.userRepo.GetByEmail(ctx, nil, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return storeErr(err)
	}

	token, err := as.signScopedToken(user.Email, scopePasswordReset, resetTokenTTL)
	if err != nil {
		return fmt.Errorf("sign reset token: %w", err)
	}
	body := fmt.Sprintf(
		`<p>Hello %s,</p><p>Reset your password using this token:</p><p><code>%s</code></p><p>The token expires in one hour.</p>`,
		user.Username, token)
	as.sendMail(user, "Reset your password", body)
	return nil
}

func (as *authService) ResetPassword(ctx context.Context, token, newPassword string) error {
	email, err := as.parseScopedToken(token, scopePasswordReset)
	if err != nil {
		return err
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := as.userRepo.UpdatePassword(ctx, tx, email, string(hash))
		if err != nil {
			return storeErr(err)
		}
		if rows == 0 {
			return apierr.NotFound("account not found")
		}
		user, err := as.userRepo.GetByEmail(ctx, tx, email)
		if err != nil {
			return storeErr(err)
		}
		// Force every open session to log in again.
		return as.userTokenRepo.DeleteByUserID(ctx, tx, user.ID)
	})
}

func (as *authService) CurrentUser(ctx context.Context) (*types.User, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized("user id not set in request data")
	}
	user, err := as.userRepo.GetByID(ctx, nil, rd.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("user not found")
		}
		return nil, storeErr(err)
	}
	return user, nil
}

func (as *authService) UpdateAvatarURL(ctx context.Context, avatarURL string) (*types.User, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized("user id not set in request data")
	}
	avatarURL = strings.TrimSpace(avatarURL)
	parsed, err := url.Parse(avatarURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, apierr.Validation("avatar_url must be an absolute http(s) URL")
	}

	var user *types.User
	txErr := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := as.userRepo.UpdateAvatarURL(ctx, tx, rd.UserID, avatarURL); err != nil {
			return err
		}
		u, err := as.userRepo.GetByID(ctx, tx, rd.UserID)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("user not found")
		}
		return nil, storeErr(txErr)
	}
	return user, nil
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(as.jwtSecretKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return ctx, apierr.Unauthorized("invalid or expired token")
	}
	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok || !parsed.Valid || claims.Scope != scopeAccess {
		return ctx, apierr.Unauthorized("invalid or expired token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, apierr.Unauthorized("invalid user id in token")
	}
	rd := &requestdata.RequestData{
		TokenString: tokenString,
		UserID:      userID,
	}
	return requestdata.WithRequestData(ctx, rd), nil
}

func (as *authService) GetAccessTTL() time.Duration {
	return as.accessTTL
}

func (as *authService) issueTokens(ctx context.Context, tx *gorm.DB, user *types.User) (*TokenPair, error) {
	// The jti keeps tokens issued within the same second distinct, so the
	// unique index on user_token.access_token never collides.
	claims := JWTClaims{
		Scope: scopeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(as.jwtSecretKey))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken := uuid.New().String()
	row := &types.UserToken{
		ID:           uuid.New(),
		UserID:       user.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(as.refreshTTL),
	}
	if err := as.userTokenRepo.Create(ctx, tx, row); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (as *authService) signScopedToken(email, scope string, ttl time.Duration) (string, error) {
	claims := JWTClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) parseScopedToken(tokenString, wantScope string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(as.jwtSecretKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", apierr.Validation("invalid or expired token")
	}
	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok || !parsed.Valid || claims.Scope != wantScope {
		return "", apierr.Validation("invalid or expired token")
	}
	return claims.Subject, nil
}

func (as *authService) sendConfirmationMail(user *types.User) {
	token, err := as.signScopedToken(user.Email, scopeEmailConfirm, emailTokenTTL)
	if err != nil {
		as.log.Warn("Failed to sign confirmation token", "error", err)
		return
	}
	body := fmt.Sprintf(
		`<p>Hello %s,</p><p>Confirm your email by opening:</p><p><a href="%s/api/auth/confirmed_email/%s">Confirm email</a></p>`,
		user.Username, as.appBaseURL, token)
	as.sendMail(user, "Confirm your email", body)
}

// sendMail delivers in the background; a mail failure never fails the request
// that triggered it.
func (as *authService) sendMail(user *types.User, subject, body string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := as.mailer.Send(ctx, user.Email, user.Username, subject, body); err != nil {
			as.log.Warn("Failed to send mail", "to", user.Email, "subject", subject, "error", err)
		}
	}()
}
