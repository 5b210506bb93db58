package model

import "time"

// User represents a signed-in account.
//
// GitHub is the identity provider, so the external identifier is the GitHub
// user id. We still mint our own string id, which is what snippets and
// folders store as their owner.
//
// Email can be empty when the user hides it on GitHub; an empty string is
// simpler to work with than a nullable pointer.
type User struct {
	ID        string    `json:"id"`
	GitHubID  int64     `json:"githubId"`
	Login     string    `json:"login"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
