package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/codeflow/internal/apperror"
	"github.com/sakif/codeflow/internal/auth"
	"github.com/sakif/codeflow/internal/docstore"
	"github.com/sakif/codeflow/internal/model"
)

const UsersCollection = "users"

// AuthService turns a GitHub identity into one of our users and a session
// token.
//
//	AuthHandler (HTTP) → AuthService → docstore "users"
//	                               ↘ TokenService (JWT)
type AuthService struct {
	store  docstore.Store
	tokens *auth.TokenService
	logger *slog.Logger
}

func NewAuthService(store docstore.Store, tokens *auth.TokenService, logger *slog.Logger) *AuthService {
	return &AuthService{
		store:  store,
		tokens: tokens,
		logger: logger,
	}
}

// AuthResult bundles the user and the token so the handler can set the
// cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// LoginOrRegisterGitHub upserts the user keyed by GitHub id and issues a
// token. First login creates the user; later logins refresh login, email
// and avatar in case they changed on GitHub.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	user, err := s.upsert(ctx, ghUser)
	if err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", user.Login),
	)

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	return &AuthResult{User: user, Token: token}, nil
}

func (s *AuthService) upsert(ctx context.Context, ghUser *auth.GitHubUser) (*model.User, error) {
	profile := docstore.Fields{
		"login":      ghUser.Login,
		"email":      ghUser.Email,
		"avatar_url": ghUser.AvatarURL,
		"updated_at": docstore.ServerTimestamp,
	}

	existing, err := s.store.Query(ctx, UsersCollection, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("github_id", ghUser.ID)},
		Limit:   1,
	})
	if err != nil {
		return nil, apperror.StoreUnavailable("looking up user", err)
	}

	var doc *docstore.Document
	if len(existing) > 0 {
		doc, err = s.store.Update(ctx, UsersCollection, existing[0].ID, profile)
	} else {
		profile["github_id"] = ghUser.ID
		profile["created_at"] = docstore.ServerTimestamp
		doc, err = s.store.Add(ctx, UsersCollection, profile)
	}
	if err != nil {
		return nil, apperror.StoreUnavailable("saving user", err)
	}

	user := userFromDoc(*doc)
	return &user, nil
}

// GetUserByID backs /api/me after the middleware has validated the token.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthenticated()
	}

	doc, err := s.store.Get(ctx, UsersCollection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, apperror.StoreUnavailable("reading user", err)
	}

	user := userFromDoc(*doc)
	return &user, nil
}

// ValidateToken lets callers check a token without importing auth.
func (s *AuthService) ValidateToken(tokenStr string) (string, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	return userID, nil
}

func userFromDoc(doc docstore.Document) model.User {
	f := doc.Fields
	return model.User{
		ID:        doc.ID,
		GitHubID:  f.Int64("github_id"),
		Login:     f.String("login"),
		Email:     f.String("email"),
		AvatarURL: f.String("avatar_url"),
		CreatedAt: f.Time("created_at"),
		UpdatedAt: f.Time("updated_at"),
	}
}
