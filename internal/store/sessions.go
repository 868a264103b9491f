package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"video-chess/internal/game"
)

func (s *Store) UpsertUser(ctx context.Context, id, name string, guest bool) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO users (id, name, is_guest) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()`,
		id, name, guest)
	return err
}

func (s *Store) UserName(ctx context.Context, id string) (string, error) {
	var name string
	err := s.Pool.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return name, err
}

// CreateSession inserts a fresh WAITING session, typically originated by a
// friend-game link with only the creator assigned.
func (s *Store) CreateSession(ctx context.Context, id string, whitePlayerID *string, timeControl int, initialTimeMS int64) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO games (id, white_player_id, status, current_fen, turn, time_control, white_time_left, black_time_left, last_move_timestamp)
		VALUES ($1, $2, $3, $4, 'w', $5, $6, $6, now())`,
		id, whitePlayerID, StatusWaiting, game.StartFEN, timeControl, initialTimeMS)
	return err
}

// CreateMatchedSession inserts a session originated by matchmaking; matched
// games start in progress with both colors assigned and full clocks.
func (s *Store) CreateMatchedSession(ctx context.Context, id, whitePlayerID, blackPlayerID string, timeControl int, initialTimeMS int64) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO games (id, white_player_id, black_player_id, status, current_fen, turn, time_control, white_time_left, black_time_left, last_move_timestamp)
		VALUES ($1, $2, $3, $4, $5, 'w', $6, $7, $7, now())`,
		id, whitePlayerID, blackPlayerID, StatusInProgress, game.StartFEN, timeControl, initialTimeMS)
	return err
}

// GetSessionWithMoves loads the full durable snapshot: the session row, the
// player display names, and the ordered move history.
func (s *Store) GetSessionWithMoves(ctx context.Context, id string) (*SessionWithMoves, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT g.id, g.white_player_id, g.black_player_id, wu.name, bu.name,
		       g.status, g.winner_id, g.current_fen, g.turn, g.time_control,
		       g.white_time_left, g.black_time_left, g.last_move_timestamp,
		       g.pgn, g.end_time, g.created_at
		FROM games g
		LEFT JOIN users wu ON wu.id = g.white_player_id
		LEFT JOIN users bu ON bu.id = g.black_player_id
		WHERE g.id = $1`, id)

	var sess SessionWithMoves
	err := row.Scan(&sess.ID, &sess.WhitePlayerID, &sess.BlackPlayerID,
		&sess.WhitePlayerName, &sess.BlackPlayerName,
		&sess.Status, &sess.WinnerID, &sess.CurrentFEN, &sess.Turn, &sess.TimeControl,
		&sess.WhiteTimeLeft, &sess.BlackTimeLeft, &sess.LastMoveTimestamp,
		&sess.PGN, &sess.EndTime, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT m.id, m.game_id, m.player_id, COALESCE(u.name, ''), m.move_number,
		       m.move_san, m.fen_after_move, m.white_time_left, m.black_time_left, m.created_at
		FROM moves m
		LEFT JOIN users u ON u.id = m.player_id
		WHERE m.game_id = $1
		ORDER BY m.move_number ASC, m.created_at ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m MoveRecord
		if err := rows.Scan(&m.ID, &m.GameID, &m.PlayerID, &m.PlayerName, &m.MoveNumber,
			&m.MoveSAN, &m.FENAfterMove, &m.WhiteTimeLeft, &m.BlackTimeLeft, &m.Timestamp); err != nil {
			return nil, err
		}
		sess.Moves = append(sess.Moves, m)
	}
	return &sess, rows.Err()
}

// AssignColor fills one color slot of a waiting session.
func (s *Store) AssignColor(ctx context.Context, gameID, userID, color string) error {
	column := "white_player_id"
	if color == "b" {
		column = "black_player_id"
	}
	_, err := s.Pool.Exec(ctx,
		`UPDATE games SET `+column+` = $1, updated_at = now() WHERE id = $2`,
		userID, gameID)
	return err
}

// RecordMove appends a move record and refreshes the session snapshot so a
// later reload needs only the games row. Both writes happen in one
// transaction.
func (s *Store) RecordMove(ctx context.Context, m MoveRecord) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if m.ID == "" {
		m.ID = NewID()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO moves (id, game_id, player_id, move_number, move_san, fen_after_move, white_time_left, black_time_left, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.GameID, m.PlayerID, m.MoveNumber, m.MoveSAN, m.FENAfterMove,
		m.WhiteTimeLeft, m.BlackTimeLeft, m.Timestamp); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE games SET current_fen = $1, turn = $2, white_time_left = $3,
		       black_time_left = $4, last_move_timestamp = $5, updated_at = now()
		WHERE id = $6`,
		m.FENAfterMove, turnFromFEN(m.FENAfterMove), m.WhiteTimeLeft,
		m.BlackTimeLeft, m.Timestamp, m.GameID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateStatus transitions the durable status. A timed-out loser's clock is
// zeroed so the stored snapshot matches the outcome.
func (s *Store) UpdateStatus(ctx context.Context, gameID, status string, winnerID, pgn *string, zeroWhiteClock, zeroBlackClock bool) error {
	var endTime *time.Time
	if status == StatusCompleted || status == StatusAborted {
		now := time.Now()
		endTime = &now
	}
	_, err := s.Pool.Exec(ctx, `
		UPDATE games SET status = $1, winner_id = $2,
		       pgn = COALESCE($3, pgn),
		       end_time = COALESCE($4, end_time),
		       white_time_left = CASE WHEN $5 THEN 0 ELSE white_time_left END,
		       black_time_left = CASE WHEN $6 THEN 0 ELSE black_time_left END,
		       updated_at = now()
		WHERE id = $7`,
		status, winnerID, pgn, endTime, zeroWhiteClock, zeroBlackClock, gameID)
	return err
}

// SessionPlayers returns the assigned color slots of a session.
func (s *Store) SessionPlayers(ctx context.Context, gameID string) (whiteID, blackID *string, err error) {
	err = s.Pool.QueryRow(ctx,
		`SELECT white_player_id, black_player_id FROM games WHERE id = $1`, gameID).
		Scan(&whiteID, &blackID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	return whiteID, blackID, err
}

// MoveSANs returns the SAN move text of a session in play order.
func (s *Store) MoveSANs(ctx context.Context, gameID string) ([]string, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT move_san FROM moves WHERE game_id = $1 ORDER BY move_number ASC, created_at ASC`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sans []string
	for rows.Next() {
		var san string
		if err := rows.Scan(&san); err != nil {
			return nil, err
		}
		sans = append(sans, san)
	}
	return sans, rows.Err()
}

func turnFromFEN(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 1 && fields[1] == "b" {
		return "b"
	}
	return "w"
}
