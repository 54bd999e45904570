package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/mcdev12/fingerbutton/go/internal/sqlutil"
)

const insertSession = `
INSERT INTO game_sessions (id, status, game_type, share_code, max_players,
	scheduled_start_time, created_by_fid, is_featured, daily_date, created_at)
VALUES ($1, $2::text::game_status, $3::text::game_type, $4, $5, $6, $7, $8, $9, $10)`

func insertArgs(p models.CreateSessionParams) ([]any, error) {
	day, err := sqlutil.ToDate(p.DailyDate)
	if err != nil {
		return nil, err
	}
	return []any{
		p.ID,
		string(p.Status),
		string(p.GameType),
		sqlutil.ToText(p.ShareCode),
		int32(p.MaxPlayers),
		sqlutil.ToTimestamptz(p.ScheduledStartTime),
		sqlutil.ToInt8(p.CreatedByFID),
		p.IsFeatured,
		day,
		p.CreatedAt,
	}, nil
}

func (r *Repository) CreateSession(ctx context.Context, p models.CreateSessionParams) (*models.GameSession, error) {
	args, err := insertArgs(p)
	if err != nil {
		return nil, err
	}
	sess, err := scanSession(r.db.QueryRow(ctx, insertSession+` RETURNING `+sessionColumns, args...))
	if isUniqueViolation(err, "game_sessions_share_code_key") {
		return nil, models.ErrShareCodeTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create game session: %w", err)
	}
	return sess, nil
}

// GetOrCreateDailySession returns the session for p.DailyDate, inserting it if
// absent. Concurrent callers converge on one row through the daily_date key.
func (r *Repository) GetOrCreateDailySession(ctx context.Context, p models.CreateSessionParams) (*models.GameSession, bool, error) {
	if p.DailyDate == nil {
		return nil, false, fmt.Errorf("daily date is required")
	}
	args, err := insertArgs(p)
	if err != nil {
		return nil, false, err
	}

	sess, err := scanSession(r.db.QueryRow(ctx,
		insertSession+` ON CONFLICT (daily_date) DO NOTHING RETURNING `+sessionColumns, args...))
	if err == nil {
		return sess, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create daily session: %w", err)
	}

	sess, err = scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM game_sessions WHERE daily_date = $1`, args[8]))
	if err != nil {
		return nil, false, fmt.Errorf("failed to get daily session: %w", err)
	}
	return sess, false, nil
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	sess, err := scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game session: %w", err)
	}
	return sess, nil
}

func (r *Repository) GetSessionByShareCode(ctx context.Context, code string) (*models.GameSession, error) {
	sess, err := scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE share_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game session by share code: %w", err)
	}
	return sess, nil
}

// listQuery builds the filtered session listing, newest first.
func listQuery(filter models.SessionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status::text = ANY($%d::text[])", len(args)))
	}
	if filter.GameType != "" {
		args = append(args, string(filter.GameType))
		where = append(where, fmt.Sprintf("game_type::text = $%d", len(args)))
	}
	if filter.FeaturedOnly {
		where = append(where, "is_featured")
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + sessionColumns + ` FROM game_sessions`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func (r *Repository) ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.GameSession, error) {
	query, args := listQuery(filter)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list game sessions: %w", err)
	}
	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan game sessions: %w", err)
	}
	return sessions, nil
}

// ListUnplacedSessions returns completed sessions that still have players
// without a placement.
func (r *Repository) ListUnplacedSessions(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT s.id
		FROM game_sessions s
		JOIN game_players p ON p.session_id = s.id
		WHERE s.status = 'completed' AND p.placement IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unplaced sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to read unplaced sessions: %w", err)
	}
	return ids, nil
}

// TransitionToStarting moves a waiting session into its countdown.
func (r *Repository) TransitionToStarting(ctx context.Context, id uuid.UUID, startedAt, countdownEndsAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE game_sessions
		SET status = 'starting', started_at = $2, countdown_ends_at = $3
		WHERE id = $1 AND status = 'waiting'`, id, startedAt, countdownEndsAt)
	if err != nil {
		return false, fmt.Errorf("failed to start countdown: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteCountdown eliminates every non-pressing player and activates the
// session while holding the session lock.
func (r *Repository) CompleteCountdown(ctx context.Context, id uuid.UUID, now time.Time) (bool, []int64, error) {
	var eliminated []int64
	ok, err := sqlutil.RunValue(ctx, r.db, func(tx pgx.Tx) (bool, error) {
		status, err := lockSession(ctx, tx, id, "UPDATE")
		if errors.Is(err, models.ErrSessionNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if status != models.GameStatusStarting {
			return false, nil
		}

		rows, err := tx.Query(ctx, `
			UPDATE game_players
			SET is_eliminated = TRUE, eliminated_at = $2
			WHERE session_id = $1 AND NOT is_pressing AND NOT is_eliminated
			RETURNING fid`, id, now)
		if err != nil {
			return false, fmt.Errorf("failed to eliminate non-holders: %w", err)
		}
		if eliminated, err = collectFIDs(rows); err != nil {
			return false, fmt.Errorf("failed to read eliminated players: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE game_sessions SET status = 'active', countdown_ends_at = NULL
			WHERE id = $1`, id); err != nil {
			return false, fmt.Errorf("failed to activate session: %w", err)
		}
		return true, nil
	})
	if err != nil || !ok {
		return false, nil, err
	}
	slices.Sort(eliminated)
	return true, eliminated, nil
}

// CompleteSession marks a live session completed. It applies only while the
// set of surviving players is exactly {winner}, or empty when winner is nil.
func (r *Repository) CompleteSession(ctx context.Context, id uuid.UUID, winnerFID *int64, endedAt time.Time) (bool, error) {
	return sqlutil.RunValue(ctx, r.db, func(tx pgx.Tx) (bool, error) {
		status, err := lockSession(ctx, tx, id, "UPDATE")
		if errors.Is(err, models.ErrSessionNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !status.IsLive() {
			return false, nil
		}

		rows, err := tx.Query(ctx, `SELECT fid FROM game_players WHERE session_id = $1 AND NOT is_eliminated`, id)
		if err != nil {
			return false, fmt.Errorf("failed to read survivors: %w", err)
		}
		survivors, err := collectFIDs(rows)
		if err != nil {
			return false, fmt.Errorf("failed to read survivors: %w", err)
		}
		switch {
		case winnerFID == nil && len(survivors) != 0,
			winnerFID != nil && (len(survivors) != 1 || survivors[0] != *winnerFID):
			return false, nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE game_sessions
			SET status = 'completed', ended_at = $2, winner_fid = $3, countdown_ends_at = NULL
			WHERE id = $1`, id, endedAt, sqlutil.ToInt8(winnerFID)); err != nil {
			return false, fmt.Errorf("failed to complete session: %w", err)
		}
		return true, nil
	})
}

// ActivateScheduledSessions opens every scheduled session whose start time has passed.
func (r *Repository) ActivateScheduledSessions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE game_sessions SET status = 'waiting'
		WHERE status = 'scheduled' AND scheduled_start_time <= $1
		RETURNING id`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to activate scheduled sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to read activated sessions: %w", err)
	}
	return ids, nil
}
