package domain

import "time"

// IdentifierKind discriminates the concrete identifier tables.
type IdentifierKind string

const (
	IdentifierEmail IdentifierKind = "email"
	IdentifierPhone IdentifierKind = "phone"
)

// ParseIdentifierKind resolves a stored kind name back to its constant.
func ParseIdentifierKind(raw string) (IdentifierKind, bool) {
	switch IdentifierKind(raw) {
	case IdentifierEmail, IdentifierPhone:
		return IdentifierKind(raw), true
	}
	return "", false
}

// Identifier is an externally meaningful unique handle (an email address or a
// phone number) that authentication methods can bind to.
type Identifier struct {
	ID           int64
	Kind         IdentifierKind
	Key          string
	DateVerified *time.Time
}

// IsVerified reports whether ownership of the identifier has been proven at least once.
func (i Identifier) IsVerified() bool {
	return i.DateVerified != nil
}
