package domain

import (
	"strings"
	"time"
)

// MethodKind tags the authentication strategy a stored method belongs to.
type MethodKind string

const (
	MethodKeyValue   MethodKind = "key_value"
	MethodOtp        MethodKind = "otp"
	MethodVisitorKey MethodKind = "visitor_key"
)

// ParseMethodKind resolves a stored strategy name back to its kind.
func ParseMethodKind(raw string) (MethodKind, bool) {
	switch MethodKind(raw) {
	case MethodKeyValue, MethodOtp, MethodVisitorKey:
		return MethodKind(raw), true
	}
	return "", false
}

// AuthMethod is the stored evidence the system uses to recognize a returning
// user under one specific strategy. Exactly one method exists per
// (UserUserGroup, strategy).
type AuthMethod struct {
	ID              int64
	Kind            MethodKind
	UserUserGroupID int64

	// key_value and otp methods bind to an identifier row.
	IdentifierID   *int64
	IdentifierKind IdentifierKind

	// key_value
	HashedPassword *string

	// otp challenge state
	Code       *string
	DateSent   *time.Time
	TriedCodes string

	// visitor_key
	VisitorKey string

	LastUsed   *time.Time
	LastLogin  *time.Time
	LastLogout *time.Time
}

// HasActiveLogin reports whether the last minted login is still alive: a login
// exists and no logout was persisted after it.
func (m AuthMethod) HasActiveLogin() bool {
	if m.LastLogin == nil {
		return false
	}
	return m.LastLogout == nil || m.LastLogout.Before(*m.LastLogin)
}

// CompleteLogin records a fresh sign-in. last_login advances monotonically;
// last_used and last_logout are cleared so the minted token starts clean.
func (m *AuthMethod) CompleteLogin(at time.Time) {
	if m.LastLogin != nil && !at.After(*m.LastLogin) {
		at = m.LastLogin.Add(time.Second)
	}
	loginAt := at
	m.LastLogin = &loginAt
	m.LastUsed = nil
	m.LastLogout = nil
}

// CompleteLogout stamps last_logout, deadening the token minted for the
// current login without any blacklist.
func (m *AuthMethod) CompleteLogout(at time.Time) {
	logoutAt := at
	m.LastLogout = &logoutAt
}

// Touch records advisory usage. The liveness contract never depends on it.
func (m *AuthMethod) Touch(at time.Time) {
	usedAt := at
	m.LastUsed = &usedAt
}

// ActiveCode returns the pending OTP code, if any.
func (m AuthMethod) ActiveCode() (string, bool) {
	if m.Code == nil || *m.Code == "" || m.DateSent == nil {
		return "", false
	}
	return *m.Code, true
}

// RecordTriedCode appends a failed guess to the comma-separated tried_codes
// list and returns the total number of failed tries for the active code.
func (m *AuthMethod) RecordTriedCode(code string) int {
	if m.TriedCodes == "" {
		m.TriedCodes = code
	} else {
		m.TriedCodes += "," + code
	}
	return len(strings.Split(m.TriedCodes, ","))
}

// ClearChallenge drops the pending code and its bookkeeping in one step.
func (m *AuthMethod) ClearChallenge() {
	m.Code = nil
	m.DateSent = nil
	m.TriedCodes = ""
}
