package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTTL   = 60 * time.Minute
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
	MinPasswordLength  = 6
)

type Store interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByRefCode(ctx context.Context, refCode string) (*User, error)
	Create(ctx context.Context, user User) error
	GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, email string) error
}

type Service struct {
	store        Store
	jwtSecret    []byte
	accessTTL    time.Duration
	maxAttempts  int
	lockDuration time.Duration
	bcryptCost   int
	now          func() time.Time
}

func NewService(store Store, jwtSecret string) *Service {
	return &Service{
		store:        store,
		jwtSecret:    []byte(jwtSecret),
		accessTTL:    defaultAccessTTL,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
		bcryptCost:   bcrypt.DefaultCost,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration time.Duration, accessTTL time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
}

// NormalizeRefCode upper-cases code and strips all whitespace.
func NormalizeRefCode(code string) string {
	return strings.Join(strings.Fields(strings.ToUpper(code)), "")
}

func (s *Service) Create(ctx context.Context, input CreateInput) (User, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	refCode := NormalizeRefCode(input.RefCode)

	existing, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if existing != nil {
		return User{}, ErrDuplicateEmail
	}

	holder, err := s.store.GetByRefCode(ctx, refCode)
	if err != nil {
		return User{}, err
	}
	if holder != nil {
		return User{}, ErrRefCodeInUse
	}

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := User{
		ID:           id.String(),
		Email:        email,
		PasswordHash: string(hash),
		RefCode:      refCode,
		Role:         input.Role,
		RefPercent:   input.RefPercent,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// Authenticate checks the password for email, counting failures toward a
// temporary lockout. Unknown emails count the same as wrong passwords.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	now := s.now()
	attempt, err := s.store.GetLoginAttempt(ctx, email)
	if err != nil {
		return User{}, err
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return User{}, ErrLoginLocked{Until: *attempt.LockedUntil}
	}

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}

	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		lockedUntil, regErr := s.store.RegisterFailedAttempt(ctx, email, s.maxAttempts, s.lockDuration, now)
		if regErr != nil {
			return User{}, regErr
		}
		if lockedUntil != nil {
			return User{}, ErrLoginLocked{Until: *lockedUntil}
		}
		return User{}, ErrInvalidCredentials
	}

	if err := s.store.ResetLoginAttempt(ctx, email); err != nil {
		return User{}, err
	}

	return *user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Tokens, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Tokens{}, err
	}

	access, expiresIn, err := s.issueAccessToken(user)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
	}, nil
}

func (s *Service) issueAccessToken(user User) (string, int64, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  string(user.Role),
		"iat":   now.Unix(),
		"exp":   now.Add(s.accessTTL).Unix(),
		"typ":   "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, int64(s.accessTTL.Seconds()), nil
}

// BootstrapAdmin creates the first admin from deployment settings. It is a
// no-op when both values are empty or the account already exists.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password, refCode string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	if len(password) < MinPasswordLength {
		return fmt.Errorf("ADMIN_PASSWORD must be at least %d characters", MinPasswordLength)
	}

	existing, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if NormalizeRefCode(refCode) == "" {
		refCode = "ADMIN"
	}
	_, err = s.Create(ctx, CreateInput{
		Email:    email,
		Password: password,
		RefCode:  refCode,
		Role:     RoleAdmin,
	})
	if errors.Is(err, ErrDuplicateEmail) {
		return nil
	}
	return err
}
