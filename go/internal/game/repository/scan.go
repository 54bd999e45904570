package repository

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/mcdev12/fingerbutton/go/internal/sqlutil"
)

const sessionColumns = `id, status::text, game_type::text, share_code, total_players, max_players,
	scheduled_start_time, started_at, countdown_ends_at, ended_at, winner_fid,
	created_by_fid, is_featured, daily_date, created_at`

const playerColumns = `id, session_id, fid, username, display_name, pfp_url, joined_at,
	last_heartbeat, is_pressing, is_eliminated, eliminated_at, placement`

func scanSession(row pgx.Row) (*models.GameSession, error) {
	var (
		s                                    models.GameSession
		id                                   uuid.UUID
		status, gameType                     string
		shareCode                            pgtype.Text
		total, maxPlayers                    int32
		scheduled, started, countdown, ended pgtype.Timestamptz
		winner, createdBy                    pgtype.Int8
		dailyDate                            pgtype.Date
		createdAt                            pgtype.Timestamptz
	)
	err := row.Scan(&id, &status, &gameType, &shareCode, &total, &maxPlayers,
		&scheduled, &started, &countdown, &ended, &winner,
		&createdBy, &s.IsFeatured, &dailyDate, &createdAt)
	if err != nil {
		return nil, err
	}

	s.ID = id
	s.Status = models.GameStatus(status)
	s.GameType = models.GameType(gameType)
	s.ShareCode = sqlutil.FromText(shareCode)
	s.TotalPlayers = int(total)
	s.MaxPlayers = int(maxPlayers)
	s.ScheduledStartTime = sqlutil.FromTimestamptz(scheduled)
	s.StartedAt = sqlutil.FromTimestamptz(started)
	s.CountdownEndsAt = sqlutil.FromTimestamptz(countdown)
	s.EndedAt = sqlutil.FromTimestamptz(ended)
	s.WinnerFID = sqlutil.FromInt8(winner)
	s.CreatedByFID = sqlutil.FromInt8(createdBy)
	s.DailyDate = sqlutil.FromDate(dailyDate)
	s.CreatedAt = createdAt.Time
	return &s, nil
}

func scanPlayer(row pgx.Row) (*models.Player, error) {
	var (
		p                   models.Player
		displayName, pfpURL pgtype.Text
		joinedAt, heartbeat pgtype.Timestamptz
		eliminatedAt        pgtype.Timestamptz
		placement           pgtype.Int4
	)
	err := row.Scan(&p.ID, &p.SessionID, &p.FID, &p.Username, &displayName, &pfpURL, &joinedAt,
		&heartbeat, &p.IsPressing, &p.IsEliminated, &eliminatedAt, &placement)
	if err != nil {
		return nil, err
	}

	p.DisplayName = sqlutil.FromText(displayName)
	p.PfpURL = sqlutil.FromText(pfpURL)
	p.JoinedAt = joinedAt.Time
	p.LastHeartbeat = heartbeat.Time
	p.EliminatedAt = sqlutil.FromTimestamptz(eliminatedAt)
	p.Placement = sqlutil.FromInt4(placement)
	return &p, nil
}

func collectSessions(rows pgx.Rows) ([]*models.GameSession, error) {
	defer rows.Close()
	out := make([]*models.GameSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func collectPlayers(rows pgx.Rows) ([]*models.Player, error) {
	defer rows.Close()
	out := make([]*models.Player, 0)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func collectFIDs(rows pgx.Rows) ([]int64, error) {
	fids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	return fids, nil
}
