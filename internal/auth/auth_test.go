package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345"

func TestHashPassword(t *testing.T) {
	t.Run("Successfully hash password", func(t *testing.T) {
		hashed, err := HashPassword("mySecurePassword123")

		assert.NoError(t, err)
		assert.NotEmpty(t, hashed)
		assert.NotEqual(t, "mySecurePassword123", hashed)
	})

	t.Run("Different hashes for same password", func(t *testing.T) {
		hash1, _ := HashPassword("samePassword")
		hash2, _ := HashPassword("samePassword")

		assert.NotEqual(t, hash1, hash2)
	})
}

func TestCheckPassword(t *testing.T) {
	hashed, _ := HashPassword("correctPassword")

	t.Run("Correct password", func(t *testing.T) {
		assert.True(t, CheckPassword(hashed, "correctPassword"))
	})

	t.Run("Incorrect password", func(t *testing.T) {
		assert.False(t, CheckPassword(hashed, "wrongPassword"))
	})

	t.Run("Empty password", func(t *testing.T) {
		assert.False(t, CheckPassword(hashed, ""))
	})
}

func TestGenerateAccessToken(t *testing.T) {
	t.Run("Token round-trips its claims", func(t *testing.T) {
		token, err := GenerateAccessToken(42, "maria@example.com", "student", testSecret)
		require.NoError(t, err)

		claims, err := ValidateToken(token, testSecret)
		require.NoError(t, err)
		assert.Equal(t, 42, claims.UserID)
		assert.Equal(t, "maria@example.com", claims.Email)
		assert.Equal(t, "student", claims.Role)
		assert.Equal(t, "access", claims.TokenType)
	})

	t.Run("Fail with empty secret", func(t *testing.T) {
		token, err := GenerateAccessToken(1, "user@example.com", "student", "")

		assert.ErrorIs(t, err, ErrEmptyJWTSecret)
		assert.Empty(t, token)
	})
}

func TestValidateToken(t *testing.T) {
	t.Run("Wrong secret is rejected", func(t *testing.T) {
		token, _ := GenerateAccessToken(1, "user@example.com", "student", testSecret)

		_, err := ValidateToken(token, "another-secret")
		assert.Error(t, err)
	})

	t.Run("Expired token is rejected", func(t *testing.T) {
		token, err := generateToken(1, "user@example.com", "student", "access", testSecret, -time.Minute)
		require.NoError(t, err)

		_, err = ValidateToken(token, testSecret)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("Garbage is rejected", func(t *testing.T) {
		_, err := ValidateToken("not.a.token", testSecret)
		assert.Error(t, err)
	})
}

func TestRefreshAccessToken(t *testing.T) {
	t.Run("Refresh token yields a fresh access token", func(t *testing.T) {
		refresh, err := GenerateRefreshToken(7, "joao@example.com", "instructor", testSecret)
		require.NoError(t, err)

		access, claims, err := RefreshAccessToken(refresh, testSecret)
		require.NoError(t, err)
		assert.Equal(t, 7, claims.UserID)

		accessClaims, err := ValidateToken(access, testSecret)
		require.NoError(t, err)
		assert.Equal(t, "access", accessClaims.TokenType)
		assert.Equal(t, "instructor", accessClaims.Role)
	})

	t.Run("Access token cannot be used as refresh token", func(t *testing.T) {
		access, _ := GenerateAccessToken(7, "joao@example.com", "instructor", testSecret)

		_, _, err := RefreshAccessToken(access, testSecret)
		assert.ErrorIs(t, err, ErrInvalidTokenType)
	})
}
