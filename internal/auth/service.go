package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abduss/imgstore/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxPasswordLength = 72 // bcrypt limit
	tokenIssuer       = "imgstore"
)

// userStore abstracts the persistence layer.
type userStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
}

// Service encapsulates registration, login and token verification.
type Service struct {
	store   userStore
	cfg     config.AuthConfig
	nowFunc func() time.Time
	parser  *jwt.Parser
}

// NewService creates a Service with dependencies.
func NewService(store userStore, cfg config.AuthConfig) *Service {
	s := &Service{
		store:   store,
		cfg:     cfg,
		nowFunc: time.Now,
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.nowFunc() }),
	)
	return s
}

// Credentials carries an email and password pair.
type Credentials struct {
	Email    string
	Password string
}

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Register creates a new user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, in Credentials) (PublicUser, error) {
	email, err := validateCredentials(in)
	if err != nil {
		return PublicUser{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.BcryptCost)
	if err != nil {
		return PublicUser{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, email, string(hashed))
	if err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) {
			return PublicUser{}, ErrEmailAlreadyExists
		}
		return PublicUser{}, fmt.Errorf("create user: %w", err)
	}

	return user.Public(), nil
}

// Login verifies credentials and issues a signed access token. An unknown
// email is ErrUserNotFound; a wrong password is ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, in Credentials) (LoginResult, error) {
	email, err := validateCredentials(in)
	if err != nil {
		return LoginResult{}, err
	}

	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrUserNotFound
		}
		return LoginResult{}, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.generateAccessToken(user, s.nowFunc())
	if err != nil {
		return LoginResult{}, fmt.Errorf("generate access token: %w", err)
	}

	return LoginResult{Token: token, ExpiresAt: expiresAt, User: user.Public()}, nil
}

// Authenticate verifies the token signature and expiry and returns the caller.
func (s *Service) Authenticate(tokenString string) (Principal, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Principal{}, ErrUnauthorized
	}

	var claims accessClaims
	parsed, err := s.parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.TokenSecret), nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}

	return Principal{UserID: userID, Email: claims.Email}, nil
}

func (s *Service) generateAccessToken(user User, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.cfg.TokenTTL)
	claims := accessClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.TokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func validateCredentials(in Credentials) (string, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return "", ErrCredentialsRequired
	}
	if len(in.Password) > maxPasswordLength {
		return "", ErrPasswordTooLong
	}
	return email, nil
}
