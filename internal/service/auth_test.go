package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codeflow/internal/apperror"
	"github.com/sakif/codeflow/internal/auth"
)

func newTestAuthService(t *testing.T) (*AuthService, *faultyStore) {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	require.NoError(t, err)

	store := newTestStore(t, newTestClock())
	return NewAuthService(store, ts, discardLogger()), store
}

func TestLoginOrRegisterGitHub_NewUser(t *testing.T) {
	svc, _ := newTestAuthService(t)

	result, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{
		ID:        42,
		Login:     "octocat",
		Email:     "octocat@github.com",
		AvatarURL: "https://avatars.githubusercontent.com/u/42",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.User.ID)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, "octocat", result.User.Login)
	assert.Equal(t, int64(42), result.User.GitHubID)
}

func TestLoginOrRegisterGitHub_ExistingUserKeepsIDGetsNewProfile(t *testing.T) {
	svc, store := newTestAuthService(t)
	ctx := context.Background()

	first, err := svc.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 99, Login: "old-login"})
	require.NoError(t, err)
	second, err := svc.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 99, Login: "new-login"})
	require.NoError(t, err)

	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, "new-login", second.User.Login)
	assert.Equal(t, 1, store.adds)
}

func TestLoginOrRegisterGitHub_TokenCarriesUserID(t *testing.T) {
	svc, _ := newTestAuthService(t)

	result, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 1, Login: "testuser"})
	require.NoError(t, err)

	userID, err := svc.ValidateToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, userID)
}

func TestLoginOrRegisterGitHub_Errors(t *testing.T) {
	svc, store := newTestAuthService(t)

	_, err := svc.LoginOrRegisterGitHub(context.Background(), nil)
	assert.Error(t, err)

	store.queryErr = errors.New("database is on fire")
	_, err = svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 1, Login: "user"})
	assert.True(t, errors.Is(err, apperror.ErrStoreUnavailable))
}

func TestGetUserByID(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	result, err := svc.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 7, Login: "findme"})
	require.NoError(t, err)

	user, err := svc.GetUserByID(ctx, result.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "findme", user.Login)

	_, err = svc.GetUserByID(ctx, "")
	assert.True(t, errors.Is(err, apperror.ErrUnauthenticated))

	_, err = svc.GetUserByID(ctx, "non-existent-id")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestValidateToken_Garbage(t *testing.T) {
	svc, _ := newTestAuthService(t)

	_, err := svc.ValidateToken("this.is.garbage")
	assert.Error(t, err)
}
