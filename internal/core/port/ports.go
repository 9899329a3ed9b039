// Package port declares the storage and delivery contracts the runtime core
// depends on. Concrete backends live under internal/repository and
// internal/infra.
package port

import (
	"context"
	"time"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/descriptor"
)

// Condition is one declarative filter applied to an entity listing, produced
// from query-parameter lookups.
type Condition struct {
	Field string
	Op    string
	Value any
}

// EntityStore is the black-box CRUD service the dispatcher mediates against.
// Table and column names derive from the descriptor catalog.
type EntityStore interface {
	List(ctx context.Context, e *descriptor.EntityDescriptor, conds []Condition) ([]descriptor.Instance, error)
	Get(ctx context.Context, e *descriptor.EntityDescriptor, id int64) (descriptor.Instance, error)
	Create(ctx context.Context, e *descriptor.EntityDescriptor, fields map[string]any) (descriptor.Instance, error)
	Update(ctx context.Context, e *descriptor.EntityDescriptor, id int64, fields map[string]any) (descriptor.Instance, error)
	Delete(ctx context.Context, e *descriptor.EntityDescriptor, id int64) error
}

// Registration bundles everything created in one unit of work when a
// successful challenge against a base group creates a brand-new account.
type Registration struct {
	Group      *domain.UserGroup
	Language   domain.Language
	Identifier *domain.Identifier // nil for visitor methods
	Method     domain.AuthMethod
}

// AuthRepository persists the auth subsystem's tables: users, groups,
// memberships, identifiers, and authentication methods.
type AuthRepository interface {
	GroupByTitle(ctx context.Context, title string) (*domain.UserGroup, error)
	GroupByID(ctx context.Context, id int64) (*domain.UserGroup, error)
	UserByID(ctx context.Context, id int64) (*domain.User, error)
	MembershipByID(ctx context.Context, id int64) (*domain.UserUserGroup, error)

	IdentifierByKey(ctx context.Context, kind domain.IdentifierKind, key string) (*domain.Identifier, error)
	MarkIdentifierVerified(ctx context.Context, id int64, at time.Time) error

	MethodByID(ctx context.Context, kind domain.MethodKind, id int64) (*domain.AuthMethod, error)
	MethodsByIdentifier(ctx context.Context, kind domain.MethodKind, identifierID int64) ([]domain.AuthMethod, error)
	MethodByIdentifierAndGroup(ctx context.Context, kind domain.MethodKind, identifierID, groupID int64) (*domain.AuthMethod, error)
	MethodByVisitorKey(ctx context.Context, key string) (*domain.AuthMethod, error)
	UpdateMethod(ctx context.Context, m *domain.AuthMethod) error

	// CreateMethodForMembership adds an extra strategy to an existing
	// membership; the (membership, strategy) uniqueness is storage-enforced.
	CreateMethodForMembership(ctx context.Context, membershipID int64, m *domain.AuthMethod) (*domain.AuthMethod, error)

	// RegisterAccount creates the User, the UserUserGroup, the identifier
	// (reusing an existing row for the same key), and the method in a single
	// serializable unit of work.
	RegisterAccount(ctx context.Context, reg Registration) (*domain.AuthMethod, *domain.UserUserGroup, *domain.User, error)
}

// TrackRepository persists the audit records. Implementations never let an
// audit failure propagate into the response path.
type TrackRepository interface {
	CreateTrack(ctx context.Context, track *domain.RequestTrack) error
	CreateException(ctx context.Context, record *domain.ExceptionRecord) error
}

// CodeSender delivers one-time codes through the external SMS/email provider.
type CodeSender interface {
	SendCode(ctx context.Context, kind domain.IdentifierKind, key, code string) error
}

// ChallengeDispatcher defers code delivery to an external queue when async
// dispatch is available; fire-and-forget from the handler's perspective.
type ChallengeDispatcher interface {
	DispatchCode(ctx context.Context, kind domain.IdentifierKind, key, code string) error
}

// RateLimitStore defines the sliding-window persistence used by the HTTP
// rate-limit middleware.
type RateLimitStore interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
}
