package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/repository"
)

// AuthRepository implements port.AuthRepository using PostgreSQL.
type AuthRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAuthRepository wires a PostgreSQL-backed auth repository.
func NewAuthRepository(pool *pgxpool.Pool) *AuthRepository {
	return &AuthRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *AuthRepository) WithTx(tx pgx.Tx) *AuthRepository {
	if tx == nil {
		return r
	}
	return &AuthRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

var groupColumns = []string{"id", "title", "token_valid_seconds", "is_base_group"}

func (r *AuthRepository) scanGroup(row pgx.Row) (*domain.UserGroup, error) {
	var group domain.UserGroup
	if err := row.Scan(&group.ID, &group.Title, &group.TokenValidSeconds, &group.IsBaseGroup); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user group: %w", err)
	}
	return &group, nil
}

// GroupByTitle retrieves a user group by its unique title.
func (r *AuthRepository) GroupByTitle(ctx context.Context, title string) (*domain.UserGroup, error) {
	stmt, args, err := r.builder.Select(groupColumns...).
		From("user_groups").
		Where(squirrel.Eq{"title": title}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select group sql: %w", err)
	}
	return r.scanGroup(r.exec.QueryRow(ctx, stmt, args...))
}

// GroupByID retrieves a user group by identifier.
func (r *AuthRepository) GroupByID(ctx context.Context, id int64) (*domain.UserGroup, error) {
	stmt, args, err := r.builder.Select(groupColumns...).
		From("user_groups").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select group sql: %w", err)
	}
	return r.scanGroup(r.exec.QueryRow(ctx, stmt, args...))
}

// UserByID retrieves a user by identifier.
func (r *AuthRepository) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	stmt, args, err := r.builder.Select("id", "is_active", "language", "date_created").
		From("users").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	var user domain.User
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&user.ID,
		&user.IsActive,
		&user.Language,
		&user.DateCreated,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return &user, nil
}

// MembershipByID retrieves a user-group membership edge.
func (r *AuthRepository) MembershipByID(ctx context.Context, id int64) (*domain.UserUserGroup, error) {
	stmt, args, err := r.builder.Select("id", "user_id", "user_group_id", "is_active", "date_created").
		From("user_user_groups").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select membership sql: %w", err)
	}

	var membership domain.UserUserGroup
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&membership.ID,
		&membership.UserID,
		&membership.UserGroupID,
		&membership.IsActive,
		&membership.DateCreated,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan membership: %w", err)
	}

	return &membership, nil
}

// IdentifierByKey retrieves an identifier row by its kind and unique key.
func (r *AuthRepository) IdentifierByKey(ctx context.Context, kind domain.IdentifierKind, key string) (*domain.Identifier, error) {
	stmt, args, err := r.builder.Select("id", "kind", "key", "date_verified").
		From("identifiers").
		Where(squirrel.Eq{"kind": kind, "key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select identifier sql: %w", err)
	}

	var identifier domain.Identifier
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&identifier.ID,
		&identifier.Kind,
		&identifier.Key,
		&identifier.DateVerified,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan identifier: %w", err)
	}

	return &identifier, nil
}

// MarkIdentifierVerified stamps the first successful ownership proof.
func (r *AuthRepository) MarkIdentifierVerified(ctx context.Context, id int64, at time.Time) error {
	stmt, args, err := r.builder.Update("identifiers").
		Set("date_verified", at).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Eq{"date_verified": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build verify identifier sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("verify identifier: %w", err)
	}

	return nil
}

var methodColumns = []string{
	"id",
	"kind",
	"user_user_group_id",
	"identifier_id",
	"identifier_kind",
	"hashed_password",
	"code",
	"date_sent",
	"tried_codes",
	"visitor_key",
	"last_used",
	"last_login",
	"last_logout",
}

func scanMethod(row pgx.Row) (*domain.AuthMethod, error) {
	var (
		method         domain.AuthMethod
		identifierKind *string
		triedCodes     *string
		visitorKey     *string
	)

	if err := row.Scan(
		&method.ID,
		&method.Kind,
		&method.UserUserGroupID,
		&method.IdentifierID,
		&identifierKind,
		&method.HashedPassword,
		&method.Code,
		&method.DateSent,
		&triedCodes,
		&visitorKey,
		&method.LastUsed,
		&method.LastLogin,
		&method.LastLogout,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan auth method: %w", err)
	}

	if identifierKind != nil {
		method.IdentifierKind = domain.IdentifierKind(*identifierKind)
	}
	if triedCodes != nil {
		method.TriedCodes = *triedCodes
	}
	if visitorKey != nil {
		method.VisitorKey = *visitorKey
	}

	return &method, nil
}

// MethodByID retrieves an auth method by kind and identifier.
func (r *AuthRepository) MethodByID(ctx context.Context, kind domain.MethodKind, id int64) (*domain.AuthMethod, error) {
	stmt, args, err := r.builder.Select(methodColumns...).
		From("auth_methods").
		Where(squirrel.Eq{"kind": kind, "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select method sql: %w", err)
	}
	return scanMethod(r.exec.QueryRow(ctx, stmt, args...))
}

// MethodsByIdentifier lists every method of one strategy bound to the identifier.
func (r *AuthRepository) MethodsByIdentifier(ctx context.Context, kind domain.MethodKind, identifierID int64) ([]domain.AuthMethod, error) {
	stmt, args, err := r.builder.Select(methodColumns...).
		From("auth_methods").
		Where(squirrel.Eq{"kind": kind, "identifier_id": identifierID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select methods sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query methods: %w", err)
	}
	defer rows.Close()

	methods := make([]domain.AuthMethod, 0)
	for rows.Next() {
		method, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, *method)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate methods: %w", err)
	}

	return methods, nil
}

// MethodByIdentifierAndGroup narrows the identifier's methods to one group's
// membership, resolving the MULTIPLE_CONNECTED_ACCOUNTS ambiguity.
func (r *AuthRepository) MethodByIdentifierAndGroup(ctx context.Context, kind domain.MethodKind, identifierID, groupID int64) (*domain.AuthMethod, error) {
	stmt, args, err := r.builder.Select(prefixed("m", methodColumns)...).
		From("auth_methods m").
		Join("user_user_groups uug ON uug.id = m.user_user_group_id").
		Where(squirrel.Eq{"m.kind": kind, "m.identifier_id": identifierID, "uug.user_group_id": groupID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select method by group sql: %w", err)
	}
	return scanMethod(r.exec.QueryRow(ctx, stmt, args...))
}

// MethodByVisitorKey retrieves a visitor method by its unique key.
func (r *AuthRepository) MethodByVisitorKey(ctx context.Context, key string) (*domain.AuthMethod, error) {
	stmt, args, err := r.builder.Select(methodColumns...).
		From("auth_methods").
		Where(squirrel.Eq{"kind": domain.MethodVisitorKey, "visitor_key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select visitor method sql: %w", err)
	}
	return scanMethod(r.exec.QueryRow(ctx, stmt, args...))
}

// UpdateMethod persists the mutable challenge and session state of a method.
func (r *AuthRepository) UpdateMethod(ctx context.Context, m *domain.AuthMethod) error {
	stmt, args, err := r.builder.Update("auth_methods").
		Set("hashed_password", m.HashedPassword).
		Set("code", m.Code).
		Set("date_sent", m.DateSent).
		Set("tried_codes", m.TriedCodes).
		Set("last_used", m.LastUsed).
		Set("last_login", m.LastLogin).
		Set("last_logout", m.LastLogout).
		Where(squirrel.Eq{"id": m.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update method sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update method: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *AuthRepository) insertMethod(ctx context.Context, exec pgExecutor, membershipID int64, m *domain.AuthMethod) (int64, error) {
	var identifierKind any
	if m.IdentifierKind != "" {
		identifierKind = string(m.IdentifierKind)
	}

	stmt, args, err := r.builder.Insert("auth_methods").
		Columns(
			"kind",
			"user_user_group_id",
			"identifier_id",
			"identifier_kind",
			"hashed_password",
			"code",
			"date_sent",
			"tried_codes",
			"visitor_key",
			"last_used",
			"last_login",
			"last_logout",
		).
		Values(
			m.Kind,
			membershipID,
			m.IdentifierID,
			identifierKind,
			m.HashedPassword,
			m.Code,
			m.DateSent,
			m.TriedCodes,
			m.VisitorKey,
			m.LastUsed,
			m.LastLogin,
			m.LastLogout,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert method sql: %w", err)
	}

	var id int64
	if err := exec.QueryRow(ctx, stmt, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert method: %w", err)
	}
	return id, nil
}

// CreateMethodForMembership adds an extra strategy to an existing membership.
func (r *AuthRepository) CreateMethodForMembership(ctx context.Context, membershipID int64, m *domain.AuthMethod) (*domain.AuthMethod, error) {
	id, err := r.insertMethod(ctx, r.exec, membershipID, m)
	if err != nil {
		return nil, err
	}
	return r.MethodByID(ctx, m.Kind, id)
}

// RegisterAccount creates the user, the membership, the identifier (reusing an
// existing row for the same key), and the method in one transaction.
func (r *AuthRepository) RegisterAccount(ctx context.Context, reg port.Registration) (*domain.AuthMethod, *domain.UserUserGroup, *domain.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("begin register tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txRepo := r.WithTx(tx)
	now := time.Now().UTC()

	user := domain.User{
		IsActive:    true,
		Language:    reg.Language,
		DateCreated: now,
	}
	stmt, args, err := r.builder.Insert("users").
		Columns("is_active", "language", "date_created").
		Values(user.IsActive, user.Language, user.DateCreated).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build insert user sql: %w", err)
	}
	if err := tx.QueryRow(ctx, stmt, args...).Scan(&user.ID); err != nil {
		return nil, nil, nil, fmt.Errorf("insert user: %w", err)
	}

	membership := domain.UserUserGroup{
		UserID:      user.ID,
		UserGroupID: reg.Group.ID,
		IsActive:    true,
		DateCreated: now,
	}
	stmt, args, err = r.builder.Insert("user_user_groups").
		Columns("user_id", "user_group_id", "is_active", "date_created").
		Values(membership.UserID, membership.UserGroupID, membership.IsActive, membership.DateCreated).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build insert membership sql: %w", err)
	}
	if err := tx.QueryRow(ctx, stmt, args...).Scan(&membership.ID); err != nil {
		return nil, nil, nil, fmt.Errorf("insert membership: %w", err)
	}

	method := reg.Method
	if reg.Identifier != nil {
		existing, err := txRepo.IdentifierByKey(ctx, reg.Identifier.Kind, reg.Identifier.Key)
		switch {
		case err == nil:
			method.IdentifierID = &existing.ID
		case err == repository.ErrNotFound:
			stmt, args, err = r.builder.Insert("identifiers").
				Columns("kind", "key", "date_verified").
				Values(reg.Identifier.Kind, reg.Identifier.Key, reg.Identifier.DateVerified).
				Suffix("RETURNING id").
				ToSql()
			if err != nil {
				return nil, nil, nil, fmt.Errorf("build insert identifier sql: %w", err)
			}
			var identifierID int64
			if err := tx.QueryRow(ctx, stmt, args...).Scan(&identifierID); err != nil {
				return nil, nil, nil, fmt.Errorf("insert identifier: %w", err)
			}
			method.IdentifierID = &identifierID
		default:
			return nil, nil, nil, err
		}
		method.IdentifierKind = reg.Identifier.Kind
	}

	methodID, err := r.insertMethod(ctx, tx, membership.ID, &method)
	if err != nil {
		return nil, nil, nil, err
	}
	method.ID = methodID
	method.UserUserGroupID = membership.ID

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("commit register tx: %w", err)
	}

	return &method, &membership, &user, nil
}

func prefixed(alias string, cols []string) []string {
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = alias + "." + col
	}
	return out
}

var _ port.AuthRepository = (*AuthRepository)(nil)
