package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/teslabit/tradesim/internal/models"
)

func TestIsEmail(t *testing.T) {
	tests := []struct {
		identifier string
		want       bool
	}{
		{"user1@demo.com", true},
		{"admin@tesla.com", true},
		{"+14155550123", false},
		{"0123456789", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsEmail(tt.identifier), tt.identifier)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	s := NewAuthService(nil, "test-secret")
	user := &models.User{ID: uuid.New(), Role: models.RoleAdmin}

	token, err := s.IssueToken(user)
	assert.NoError(t, err)

	id, role, err := s.UserFromToken(token)
	assert.NoError(t, err)
	assert.Equal(t, user.ID, id)
	assert.Equal(t, models.RoleAdmin, role)
}

func TestUserFromToken_Invalid(t *testing.T) {
	s := NewAuthService(nil, "test-secret")

	t.Run("garbage token", func(t *testing.T) {
		_, _, err := s.UserFromToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewAuthService(nil, "other-secret")
		token, err := other.IssueToken(&models.User{ID: uuid.New(), Role: models.RoleUser})
		assert.NoError(t, err)
		_, _, err = s.UserFromToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"user_id": uuid.NewString(),
			"role":    "user",
			"exp":     time.Now().Add(-time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("test-secret"))
		assert.NoError(t, err)
		_, _, err = s.UserFromToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown role claim", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"user_id": uuid.NewString(),
			"role":    "superuser",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("test-secret"))
		assert.NoError(t, err)
		_, _, err = s.UserFromToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
