package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/mcdev12/fingerbutton/go/internal/sqlutil"
)

type joinResult struct {
	player  *models.Player
	created bool
}

// JoinSession inserts the participant or refreshes their existing row.
// created reports whether a new row was inserted.
func (r *Repository) JoinSession(ctx context.Context, p models.JoinParams) (*models.Player, bool, error) {
	res, err := sqlutil.RunValue(ctx, r.db, func(tx pgx.Tx) (joinResult, error) {
		var (
			status            string
			total, maxPlayers int32
		)
		err := tx.QueryRow(ctx, `
			SELECT status::text, total_players, max_players
			FROM game_sessions WHERE id = $1 FOR UPDATE`, p.SessionID).Scan(&status, &total, &maxPlayers)
		if errors.Is(err, pgx.ErrNoRows) {
			return joinResult{}, models.ErrSessionNotFound
		}
		if err != nil {
			return joinResult{}, fmt.Errorf("failed to lock session: %w", err)
		}

		existing, err := scanPlayer(tx.QueryRow(ctx,
			`SELECT `+playerColumns+` FROM game_players WHERE session_id = $1 AND fid = $2`, p.SessionID, p.FID))
		switch {
		case err == nil:
			if models.GameStatus(status) == models.GameStatusCompleted {
				return joinResult{player: existing}, nil
			}
			refreshed, err := scanPlayer(tx.QueryRow(ctx, `
				UPDATE game_players
				SET last_heartbeat = $3, username = $4, display_name = $5, pfp_url = $6
				WHERE session_id = $1 AND fid = $2
				RETURNING `+playerColumns,
				p.SessionID, p.FID, p.Now, p.Username, sqlutil.ToText(p.DisplayName), sqlutil.ToText(p.PfpURL)))
			if err != nil {
				return joinResult{}, fmt.Errorf("failed to refresh player: %w", err)
			}
			return joinResult{player: refreshed}, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return joinResult{}, fmt.Errorf("failed to get player: %w", err)
		}

		if models.GameStatus(status) != models.GameStatusWaiting {
			return joinResult{}, models.ErrGameNotJoinable
		}
		if total >= maxPlayers {
			return joinResult{}, models.ErrGameFull
		}

		player, err := scanPlayer(tx.QueryRow(ctx, `
			INSERT INTO game_players (id, session_id, fid, username, display_name, pfp_url, joined_at, last_heartbeat)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			RETURNING `+playerColumns,
			uuid.New(), p.SessionID, p.FID, p.Username, sqlutil.ToText(p.DisplayName), sqlutil.ToText(p.PfpURL), p.Now))
		if err != nil {
			return joinResult{}, fmt.Errorf("failed to insert player: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE game_sessions
			SET total_players = (SELECT count(*) FROM game_players WHERE session_id = $1)
			WHERE id = $1`, p.SessionID); err != nil {
			return joinResult{}, fmt.Errorf("failed to update player count: %w", err)
		}
		return joinResult{player: player, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.player, res.created, nil
}

func (r *Repository) GetPlayer(ctx context.Context, sessionID uuid.UUID, fid int64) (*models.Player, error) {
	p, err := scanPlayer(r.db.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM game_players WHERE session_id = $1 AND fid = $2`, sessionID, fid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

// ListPlayers returns every player ordered for a results table: placement
// ascending with unplaced last, then most recently eliminated first.
func (r *Repository) ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]*models.Player, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+playerColumns+` FROM game_players
		WHERE session_id = $1
		ORDER BY placement ASC NULLS LAST, eliminated_at DESC NULLS FIRST, joined_at, fid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	players, err := collectPlayers(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan players: %w", err)
	}
	return players, nil
}

// ListActivePlayers returns the non-eliminated players in join order.
func (r *Repository) ListActivePlayers(ctx context.Context, sessionID uuid.UUID) ([]*models.Player, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+playerColumns+` FROM game_players
		WHERE session_id = $1 AND NOT is_eliminated
		ORDER BY joined_at, fid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active players: %w", err)
	}
	players, err := collectPlayers(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan active players: %w", err)
	}
	return players, nil
}

// StartPressing marks a live, non-eliminated player as holding.
func (r *Repository) StartPressing(ctx context.Context, sessionID uuid.UUID, fid int64, now time.Time) (bool, error) {
	return r.withLiveSession(ctx, sessionID, func(tx pgx.Tx) (bool, error) {
		tag, err := tx.Exec(ctx, `
			UPDATE game_players SET is_pressing = TRUE, last_heartbeat = $3
			WHERE session_id = $1 AND fid = $2 AND NOT is_eliminated`, sessionID, fid, now)
		if err != nil {
			return false, fmt.Errorf("failed to start pressing: %w", err)
		}
		return tag.RowsAffected() == 1, nil
	})
}

// TouchHeartbeat refreshes last_heartbeat for a player still holding.
func (r *Repository) TouchHeartbeat(ctx context.Context, sessionID uuid.UUID, fid int64, now time.Time) (bool, error) {
	return r.withLiveSession(ctx, sessionID, func(tx pgx.Tx) (bool, error) {
		tag, err := tx.Exec(ctx, `
			UPDATE game_players SET last_heartbeat = $3
			WHERE session_id = $1 AND fid = $2 AND is_pressing AND NOT is_eliminated`, sessionID, fid, now)
		if err != nil {
			return false, fmt.Errorf("failed to record heartbeat: %w", err)
		}
		return tag.RowsAffected() == 1, nil
	})
}

// EliminatePlayer releases and eliminates a player exactly once.
func (r *Repository) EliminatePlayer(ctx context.Context, sessionID uuid.UUID, fid int64, now time.Time) (bool, error) {
	return r.withLiveSession(ctx, sessionID, func(tx pgx.Tx) (bool, error) {
		tag, err := tx.Exec(ctx, `
			UPDATE game_players
			SET is_pressing = FALSE, is_eliminated = TRUE, eliminated_at = $3
			WHERE session_id = $1 AND fid = $2 AND NOT is_eliminated`, sessionID, fid, now)
		if err != nil {
			return false, fmt.Errorf("failed to eliminate player: %w", err)
		}
		return tag.RowsAffected() == 1, nil
	})
}

// EliminateStalePlayers eliminates holders whose last heartbeat is before cutoff.
func (r *Repository) EliminateStalePlayers(ctx context.Context, sessionID uuid.UUID, cutoff, now time.Time) ([]int64, error) {
	var fids []int64
	_, err := r.withLiveSession(ctx, sessionID, func(tx pgx.Tx) (bool, error) {
		rows, err := tx.Query(ctx, `
			UPDATE game_players
			SET is_pressing = FALSE, is_eliminated = TRUE, eliminated_at = $3
			WHERE session_id = $1 AND is_pressing AND NOT is_eliminated AND last_heartbeat < $2
			RETURNING fid`, sessionID, cutoff, now)
		if err != nil {
			return false, fmt.Errorf("failed to eliminate stale players: %w", err)
		}
		if fids, err = collectFIDs(rows); err != nil {
			return false, fmt.Errorf("failed to read stale players: %w", err)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(fids)
	return fids, nil
}

// SetPlacement records a final rank. Only applies once the session is completed.
func (r *Repository) SetPlacement(ctx context.Context, sessionID uuid.UUID, fid int64, placement int) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE game_players p SET placement = $3
		FROM game_sessions s
		WHERE s.id = p.session_id AND p.session_id = $1 AND p.fid = $2 AND s.status = 'completed'`,
		sessionID, fid, int32(placement))
	if err != nil {
		return false, fmt.Errorf("failed to set placement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizePlacements numbers every unplaced eliminated player from start,
// most recently eliminated first.
func (r *Repository) FinalizePlacements(ctx context.Context, sessionID uuid.UUID, start int) (int, error) {
	return sqlutil.RunValue(ctx, r.db, func(tx pgx.Tx) (int, error) {
		status, err := lockSession(ctx, tx, sessionID, "UPDATE")
		if errors.Is(err, models.ErrSessionNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		if status != models.GameStatusCompleted {
			return 0, nil
		}

		tag, err := tx.Exec(ctx, `
			WITH ranked AS (
				SELECT id, ($2::int - 1 + row_number() OVER (
					ORDER BY eliminated_at DESC, joined_at DESC, fid ASC))::int AS rank
				FROM game_players
				WHERE session_id = $1 AND is_eliminated AND placement IS NULL
			)
			UPDATE game_players g SET placement = ranked.rank
			FROM ranked WHERE g.id = ranked.id`, sessionID, int32(start))
		if err != nil {
			return 0, fmt.Errorf("failed to finalize placements: %w", err)
		}
		return int(tag.RowsAffected()), nil
	})
}

// ListPlayerHistory returns a participant's most recent games.
func (r *Repository) ListPlayerHistory(ctx context.Context, fid int64, limit int) ([]models.PlayerHistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s.id, s.game_type::text, s.status::text, p.joined_at, s.ended_at, p.placement,
			s.total_players, COALESCE(s.winner_fid = p.fid, FALSE)
		FROM game_players p
		JOIN game_sessions s ON s.id = p.session_id
		WHERE p.fid = $1
		ORDER BY p.joined_at DESC
		LIMIT $2`, fid, historyLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list player history: %w", err)
	}
	defer rows.Close()

	out := make([]models.PlayerHistoryEntry, 0)
	for rows.Next() {
		var (
			e                models.PlayerHistoryEntry
			gameType, status string
			endedAt          pgtype.Timestamptz
			placement        pgtype.Int4
			total            int32
		)
		if err := rows.Scan(&e.SessionID, &gameType, &status, &e.JoinedAt, &endedAt, &placement, &total, &e.Won); err != nil {
			return nil, fmt.Errorf("failed to scan player history: %w", err)
		}
		e.GameType = models.GameType(gameType)
		e.Status = models.GameStatus(status)
		e.EndedAt = sqlutil.FromTimestamptz(endedAt)
		e.Placement = sqlutil.FromInt4(placement)
		e.TotalPlayers = int(total)
		out = append(out, e)
	}
	return out, rows.Err()
}

// historyLimit maps a non-positive limit to LIMIT NULL, which is unbounded.
func historyLimit(limit int) pgtype.Int8 {
	if limit <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: int64(limit), Valid: true}
}
