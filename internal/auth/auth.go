package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/teslabit/tradesim/internal/db"
	"github.com/teslabit/tradesim/internal/models"
)

var (
	ErrAuthFailure  = errors.New("invalid credentials")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// AuthService handles registration, login, and token verification. Users
// identify with either an email address or a phone number; the presence of
// '@' decides which.
type AuthService struct {
	DB     *db.DB
	secret []byte
}

// NewAuthService creates a new auth service signing tokens with secret.
func NewAuthService(database *db.DB, secret string) *AuthService {
	return &AuthService{DB: database, secret: []byte(secret)}
}

// IsEmail reports whether identifier is an email rather than a phone number.
func IsEmail(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// Register creates a new user with a hashed password and a zeroed holding.
func (s *AuthService) Register(ctx context.Context, identifier, name, password string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("identifier cannot be empty")
	}
	if name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("password must be at least 6 characters")
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := models.User{
		ID:           uuid.New(),
		Name:         name,
		Role:         models.RoleUser,
		PasswordHash: string(hashed),
	}
	if IsEmail(identifier) {
		u.Email = strings.ToLower(identifier)
	} else {
		u.Phone = identifier
	}

	user, err := s.DB.CreateUser(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and returns a signed token plus the user.
// Every failure mode collapses to ErrAuthFailure so callers cannot probe
// which identifiers exist.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (string, *models.User, error) {
	user, err := s.DB.GetUserByIdentifier(ctx, strings.ToLower(strings.TrimSpace(identifier)))
	if err != nil {
		return "", nil, ErrAuthFailure
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrAuthFailure
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// IssueToken signs a 24h HS256 token carrying the user's id and role.
func (s *AuthService) IssueToken(user *models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID.String(),
		"role":    string(user.Role),
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
	})
	return token.SignedString(s.secret)
}

// UserFromToken extracts the user id and role from a signed token.
func (s *AuthService) UserFromToken(tokenString string) (uuid.UUID, models.Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, "", ErrInvalidToken
	}
	rawID, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, "", ErrInvalidToken
	}
	rawRole, _ := claims["role"].(string)
	role := models.Role(rawRole)
	if role != models.RoleUser && role != models.RoleAdmin {
		return uuid.Nil, "", ErrInvalidToken
	}
	return userID, role, nil
}
