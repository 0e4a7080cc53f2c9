package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

type authUserStore interface {
	FindByPK(ctx context.Context, pk string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

type tokenBlacklist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
}

// AuthService registers accounts, issues access tokens and resolves them back
// to identities.
type AuthService struct {
	users     authUserStore
	blacklist tokenBlacklist
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserStore, blacklist tokenBlacklist, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 24 * time.Hour
	}
	return &AuthService{
		users:     users,
		blacklist: blacklist,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterAdmin creates an admin account identified by email.
func (s *AuthService) RegisterAdmin(ctx context.Context, req models.RegisterAdminRequest) (*models.UserInfo, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid admin registration payload")
	}
	return s.register(ctx, models.RoleAdmin, req.Email, req.Name, req.Password)
}

// RegisterStudent creates a student account identified by an upper-case USN.
func (s *AuthService) RegisterStudent(ctx context.Context, req models.RegisterStudentRequest) (*models.UserInfo, error) {
	req.USN = strings.ToUpper(strings.TrimSpace(req.USN))
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student registration payload")
	}
	return s.register(ctx, models.RoleStudent, req.USN, req.Name, req.Password)
}

func (s *AuthService) register(ctx context.Context, role models.UserRole, identifier, name, password string) (*models.UserInfo, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	user := &models.User{
		PK:           models.UserPK(role, identifier),
		Role:         role,
		Identifier:   identifier,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, models.ErrUserExists) {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("%s %s is already registered", strings.ToLower(string(role)), identifier))
		}
		s.logger.Error("failed to create user", zap.String("pk", user.PK), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}
	s.logger.Info("user registered", zap.String("role", string(role)), zap.String("identifier", identifier))
	return &models.UserInfo{Identifier: identifier, Name: name, Role: role}, nil
}

// Login authenticates a user of the given role and issues an access token.
func (s *AuthService) Login(ctx context.Context, role models.UserRole, req models.LoginRequest) (*models.LoginResponse, error) {
	req.Identifier = strings.TrimSpace(req.Identifier)
	if role == models.RoleStudent {
		req.Identifier = strings.ToUpper(req.Identifier)
	} else {
		req.Identifier = strings.ToLower(req.Identifier)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid login payload")
	}

	user, err := s.users.FindByPK(ctx, models.UserPK(role, req.Identifier))
	if err != nil {
		s.logger.Error("failed to fetch user", zap.String("identifier", req.Identifier), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if user == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid credentials")
	}

	token, issuedAt, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	s.logger.Info("user logged in",
		zap.String("role", string(role)),
		zap.String("identifier", user.Identifier),
		zap.String("ip", req.IP),
	)
	return &models.LoginResponse{
		AccessToken: token,
		ExpiresIn:   int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:    issuedAt,
		User: models.UserInfo{
			Identifier: user.Identifier,
			Name:       user.Name,
			Role:       user.Role,
		},
	}, nil
}

// Logout blacklists the identity's token for the rest of its lifetime.
func (s *AuthService) Logout(ctx context.Context, identity models.Identity) error {
	if s.blacklist == nil || identity.TokenID == "" {
		return nil
	}
	ttl := identity.ExpiresAt.Sub(s.now())
	if err := s.blacklist.Revoke(ctx, identity.TokenID, ttl); err != nil {
		s.logger.Error("failed to revoke token", zap.String("pk", identity.PK), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke token")
	}
	s.logger.Info("user logged out", zap.String("pk", identity.PK))
	return nil
}

// ValidateToken parses an access token and returns the identity it carries.
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*models.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrTokenExpired.Code, appErrors.ErrTokenExpired.Status, "token expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	role, identifier, ok := models.ParseUserPK(claims.PK)
	if !ok || role != claims.Role || identifier != claims.Identifier {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	if s.blacklist != nil && claims.ID != "" {
		revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
		if err != nil {
			s.logger.Warn("token blacklist lookup failed", zap.Error(err))
		}
		if revoked {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token has been revoked")
		}
	}

	identity := &models.Identity{
		Role:       role,
		Identifier: identifier,
		PK:         claims.PK,
		TokenID:    claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// LookupIdentity returns the user stored under pk, or nil when absent.
func (s *AuthService) LookupIdentity(ctx context.Context, pk string) (*models.User, error) {
	user, err := s.users.FindByPK(ctx, pk)
	if err != nil {
		s.logger.Error("failed to look up identity", zap.String("pk", pk), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, time.Time, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		Role:       user.Role,
		Identifier: user.Identifier,
		PK:         user.PK,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   user.PK,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, issuedAt, nil
}
