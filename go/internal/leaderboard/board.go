package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	winsKey        = "leaderboard:wins"
	gamesKey       = "leaderboard:games"
	recordedPrefix = "leaderboard:recorded:"

	// recordedTTL bounds the dedupe markers; completed games are never re-announced after this.
	recordedTTL = 30 * 24 * time.Hour
)

// Entry is one participant's standing.
type Entry struct {
	Rank  int64 `json:"rank"`
	FID   int64 `json:"fid"`
	Wins  int64 `json:"wins"`
	Games int64 `json:"games"`
}

func member(fid int64) string {
	return strconv.FormatInt(fid, 10)
}

func parseMember(m any) (int64, error) {
	s, ok := m.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected leaderboard member %T", m)
	}
	return strconv.ParseInt(s, 10, 64)
}

// recordScript sets the dedupe marker and applies the increments in one
// atomic step, so a session is either fully counted or not marked.
var recordScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], 1, 'NX', 'EX', ARGV[1]) then
	return 0
end
if ARGV[2] ~= '' then
	redis.call('ZINCRBY', KEYS[2], 1, ARGV[2])
end
for i = 3, #ARGV do
	redis.call('ZINCRBY', KEYS[3], 1, ARGV[i])
end
return 1
`)

// recordArgs lays out the script's keys and arguments: marker TTL in
// seconds, the winner (empty for none), then every participant.
func recordArgs(sessionID uuid.UUID, winnerFID *int64, participants []int64) ([]string, []any) {
	keys := []string{recordedPrefix + sessionID.String(), winsKey, gamesKey}
	args := make([]any, 0, len(participants)+2)
	args = append(args, int64(recordedTTL/time.Second))
	if winnerFID != nil {
		args = append(args, member(*winnerFID))
	} else {
		args = append(args, "")
	}
	for _, fid := range participants {
		args = append(args, member(fid))
	}
	return keys, args
}

// RecordResult counts a completed game once per session: a win for the
// winner and a game played for every participant. It reports false when the
// session was already recorded.
func (c *Client) RecordResult(ctx context.Context, sessionID uuid.UUID, winnerFID *int64, participants []int64) (bool, error) {
	keys, args := recordArgs(sessionID, winnerFID, participants)
	n, err := recordScript.Run(ctx, c.Client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to record game result: %w", err)
	}
	return n == 1, nil
}

// Top returns the participants with the most wins, highest first.
func (c *Client) Top(ctx context.Context, limit int64) ([]Entry, error) {
	if limit <= 0 {
		return []Entry{}, nil
	}
	winners, err := c.ZRevRangeWithScores(ctx, winsKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get top winners: %w", err)
	}

	entries := make([]Entry, 0, len(winners))
	pipe := c.Pipeline()
	games := make([]*redis.FloatCmd, 0, len(winners))
	for i, z := range winners {
		fid, err := parseMember(z.Member)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Rank: int64(i) + 1, FID: fid, Wins: int64(z.Score)})
		games = append(games, pipe.ZScore(ctx, gamesKey, member(fid)))
	}
	if len(entries) == 0 {
		return entries, nil
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get games played: %w", err)
	}
	for i, cmd := range games {
		if n, err := cmd.Result(); err == nil {
			entries[i].Games = int64(n)
		}
	}
	return entries, nil
}
