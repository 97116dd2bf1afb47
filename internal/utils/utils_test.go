package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mass-payments/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	user := models.User{ID: "u-1", TenantID: "t-1", Username: "alice", Role: models.RoleApprover}

	token, expiresAt, err := GenerateAccessToken(user, "secret", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, models.Principal{UserID: "u-1", TenantID: "t-1", Role: models.RoleApprover}, claims.Principal())
	assert.Equal(t, "alice", claims.Username)

	_, err = ValidateToken(token, "other-secret")
	assert.Error(t, err)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	token, _, err := GenerateAccessToken(models.User{ID: "u-1", TenantID: "t-1"}, "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, "secret")
	assert.Error(t, err)
}

func TestTokenWithoutTenantIsRejected(t *testing.T) {
	token, _, err := GenerateAccessToken(models.User{ID: "u-1"}, "secret", time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(token, "secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPageMeta(t *testing.T) {
	tests := []struct {
		name  string
		page  Page
		total int
		want  Meta
	}{
		{
			name: "first page", page: Page{Number: 1, Size: 25}, total: 60,
			want: Meta{Page: 1, Limit: 25, Total: 60, Pages: 3, From: 1, To: 25, HasNext: true},
		},
		{
			name: "last partial page", page: Page{Number: 3, Size: 25}, total: 60,
			want: Meta{Page: 3, Limit: 25, Total: 60, Pages: 3, From: 51, To: 60},
		},
		{
			name: "past the end", page: Page{Number: 5, Size: 25}, total: 60,
			want: Meta{Page: 5, Limit: 25, Total: 60, Pages: 3},
		},
		{
			name: "empty", page: Page{Number: 1, Size: 10}, total: 0,
			want: Meta{Page: 1, Limit: 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PageMeta(tt.page, tt.total))
		})
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("correct horse", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}

func TestChecksumIsStable(t *testing.T) {
	a := Checksum([]byte("amount,currency\n10,USD\n"))
	assert.Equal(t, a, Checksum([]byte("amount,currency\n10,USD\n")))
	assert.NotEqual(t, a, Checksum([]byte("amount,currency\n11,USD\n")))
}
