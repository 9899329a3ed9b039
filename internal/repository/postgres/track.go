package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
)

// TrackRepository implements port.TrackRepository using PostgreSQL.
type TrackRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTrackRepository wires a PostgreSQL-backed audit repository.
func NewTrackRepository(pool *pgxpool.Pool) *TrackRepository {
	return &TrackRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CreateTrack persists one request track and its child messages.
func (r *TrackRepository) CreateTrack(ctx context.Context, track *domain.RequestTrack) error {
	stmt, args, err := r.builder.Insert("request_tracks").
		Columns(
			"url",
			"method",
			"status",
			"start_time",
			"end_time",
			"request_headers",
			"request_body",
			"response_body",
			"user_user_group_id",
			"add_token",
		).
		Values(
			track.URL,
			track.Method,
			track.Status,
			track.StartTime,
			track.EndTime,
			track.RequestHeaders,
			track.RequestBody,
			track.ResponseBody,
			track.UserUserGroupID,
			track.AddToken,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert track sql: %w", err)
	}

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&track.ID); err != nil {
		return fmt.Errorf("insert track: %w", err)
	}

	if len(track.Messages) == 0 {
		return nil
	}

	query := r.builder.Insert("track_messages").
		Columns("request_track_id", "level", "body")
	for _, message := range track.Messages {
		query = query.Values(track.ID, message.Level, message.Body)
	}

	stmt, args, err = query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert track messages sql: %w", err)
	}
	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert track messages: %w", err)
	}

	return nil
}

// CreateException persists one exception record.
func (r *TrackRepository) CreateException(ctx context.Context, record *domain.ExceptionRecord) error {
	stmt, args, err := r.builder.Insert("exception_records").
		Columns(
			"request_track_id",
			"class_title",
			"args",
			"traceback",
			"checked",
			"date_created",
		).
		Values(
			record.RequestTrackID,
			record.ClassTitle,
			record.Args,
			record.Traceback,
			record.Checked,
			record.DateCreated,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert exception sql: %w", err)
	}

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&record.ID); err != nil {
		return fmt.Errorf("insert exception: %w", err)
	}

	return nil
}

var _ port.TrackRepository = (*TrackRepository)(nil)
