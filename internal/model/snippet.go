// Package model defines the data structures used throughout the application.
package model

import "time"

// Snippet is one saved unit of code.
//
// OriginalTitle keeps the title the user typed when Create had to
// disambiguate it ("scratch" stays in OriginalTitle while Title becomes
// "scratch (2024-01-01T00-00-00)").
type Snippet struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Code          string    `json:"code"`
	Language      string    `json:"language"`
	OwnerID       string    `json:"userId"`
	FolderPath    []string  `json:"folderPath"`
	Tags          []string  `json:"tags"`
	IsFavorite    bool      `json:"isFavorite"`
	OriginalTitle string    `json:"originalTitle,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// LastActivity is the most recent of UpdatedAt and CreatedAt.
func (s Snippet) LastActivity() time.Time {
	if s.UpdatedAt.After(s.CreatedAt) {
		return s.UpdatedAt
	}
	return s.CreatedAt
}

// Folder is a node in the path-addressed folder hierarchy. There are no
// parent links: a folder is identified by its full path.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      []string  `json:"path"`
	OwnerID   string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
