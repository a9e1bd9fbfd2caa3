package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"rechub/internal/account/repository"
	"rechub/internal/common/cache"
	apperrors "rechub/pkg/errors"
	"rechub/pkg/utils/logger"
)

const (
	tokenIssuer = "rechub"

	// Consecutive failed logins before the account is throttled.
	loginFailureLimit  = 5
	loginFailureWindow = 10 * time.Minute
)

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID   int64
	Username string
	Role     repository.UserRole
}

// AuthService issues and validates access tokens for runner and
// operator accounts.
type AuthService struct {
	users     repository.UserRepository
	cache     cache.Cache
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewAuthService creates an auth service. cache may be nil, which
// disables login throttling.
func NewAuthService(users repository.UserRepository, c cache.Cache, jwtSecret string, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthService{
		users:     users,
		cache:     c,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// Login verifies credentials and returns a signed access token.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", apperrors.BadRequest("username and password are required")
	}

	if err := s.checkFailureCounter(ctx, username); err != nil {
		return "", err
	}

	user, err := s.users.GetByUsername(ctx, nil, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.recordFailure(ctx, username)
			return "", apperrors.New(apperrors.InvalidCredentials)
		}
		return "", apperrors.Wrapf(err, apperrors.DatabaseError, "query user %q failed", username)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordFailure(ctx, username)
		return "", apperrors.New(apperrors.InvalidCredentials)
	}

	s.clearFailureCounter(ctx, username)

	token, err := s.issueToken(user)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.TokenGenerationFailed)
	}
	return token, nil
}

// Authenticate parses and validates a bearer token and returns the
// identity encoded in it.
func (s *AuthService) Authenticate(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, apperrors.New(apperrors.TokenInvalid).WithMessage("empty token")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.New(apperrors.TokenExpired)
		}
		return nil, apperrors.Wrap(err, apperrors.TokenInvalid)
	}
	if !token.Valid {
		return nil, apperrors.New(apperrors.TokenInvalid)
	}

	identity := &Identity{}
	if sub, ok := claims["sub"].(string); ok {
		identity.Username = sub
	}
	if uid, ok := claims["uid"].(float64); ok {
		identity.UserID = int64(uid)
	}
	if role, ok := claims["role"].(string); ok {
		identity.Role = repository.UserRole(role)
	}
	if identity.Username == "" {
		return nil, apperrors.New(apperrors.TokenInvalid).WithMessage("token missing subject")
	}
	return identity, nil
}

// Register creates a new account with a bcrypt-hashed password. Used
// by the operator CLI to provision runner accounts.
func (s *AuthService) Register(ctx context.Context, username, password string, role repository.UserRole) (int64, error) {
	if username == "" || password == "" {
		return 0, apperrors.BadRequest("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.InternalServerError)
	}
	id, err := s.users.Create(ctx, nil, &repository.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			return 0, apperrors.Newf(apperrors.RecordAlreadyExists, "user %q already exists", username)
		}
		return 0, apperrors.Wrap(err, apperrors.DatabaseError)
	}
	return id, nil
}

func (s *AuthService) issueToken(user *repository.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  tokenIssuer,
		"sub":  user.Username,
		"uid":  user.ID,
		"role": string(user.Role),
		"typ":  "access",
		"iat":  now.Unix(),
		"exp":  now.Add(s.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func failureCounterKey(username string) string {
	return "auth:login_failures:" + username
}

func (s *AuthService) checkFailureCounter(ctx context.Context, username string) error {
	if s.cache == nil {
		return nil
	}
	val, err := s.cache.Get(ctx, failureCounterKey(username))
	if err != nil || val == "" {
		return nil
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return nil
	}
	if count >= loginFailureLimit {
		return apperrors.New(apperrors.LoginTooFrequently)
	}
	return nil
}

func (s *AuthService) recordFailure(ctx context.Context, username string) {
	if s.cache == nil {
		return
	}
	key := failureCounterKey(username)
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		logger.Warn(ctx, "record login failure", zap.String("username", username), zap.Error(err))
		return
	}
	if count == 1 {
		if err := s.cache.Expire(ctx, key, loginFailureWindow); err != nil {
			logger.Warn(ctx, "set login failure ttl", zap.String("username", username), zap.Error(err))
		}
	}
}

func (s *AuthService) clearFailureCounter(ctx context.Context, username string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, failureCounterKey(username)); err != nil {
		logger.Warn(ctx, "clear login failure counter", zap.String("username", username), zap.Error(err))
	}
}
