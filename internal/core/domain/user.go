package domain

import "time"

// Language selects the human-readable message variant returned to a caller.
type Language string

const (
	LanguageEN Language = "EN"
	LanguageFA Language = "FA"
)

// ParseLanguage normalizes a raw language value, falling back to the provided default.
func ParseLanguage(raw string, fallback Language) Language {
	switch Language(raw) {
	case LanguageEN:
		return LanguageEN
	case LanguageFA:
		return LanguageFA
	}
	return fallback
}

// User is the identity principal. Users are soft-deactivated rather than deleted.
type User struct {
	ID          int64
	IsActive    bool
	Language    Language
	DateCreated time.Time
}

// UserGroup is a named role. Token lifetime is a property of the group, which makes
// the membership edge the unit of a session.
type UserGroup struct {
	ID                int64
	Title             string
	TokenValidSeconds int
	IsBaseGroup       bool
}

// TokenTTL returns the session lifetime configured for members of the group.
func (g UserGroup) TokenTTL() time.Duration {
	return time.Duration(g.TokenValidSeconds) * time.Second
}

// UserUserGroup is one user's membership in one group. (user, group) is unique.
type UserUserGroup struct {
	ID          int64
	UserID      int64
	UserGroupID int64
	IsActive    bool
	DateCreated time.Time
}
