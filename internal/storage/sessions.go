package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Observation sessions ---

const sessionColumns = `id, meeting_id, phase, status, created_at, updated_at`

func scanSession(row rowScanner) (ObservationSession, error) {
	var o ObservationSession
	var createdAt, updatedAt string
	err := row.Scan(&o.ID, &o.MeetingID, &o.Phase, &o.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return ObservationSession{}, ErrNotFound
	}
	if err != nil {
		return ObservationSession{}, err
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return ObservationSession{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ObservationSession{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return o, nil
}

// CreateObservationSession starts a new session in the observe phase.
func (s *Store) CreateObservationSession(meetingID string) (ObservationSession, error) {
	if err := s.EnsureMeeting(meetingID, ""); err != nil {
		return ObservationSession{}, fmt.Errorf("ensuring meeting: %w", err)
	}
	now := time.Now()
	o := ObservationSession{
		ID:        uuid.New().String(),
		MeetingID: meetingID,
		Phase:     PhaseObserve,
		Status:    SessionActive,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	_, err := s.db.Exec(`INSERT INTO observation_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.MeetingID, o.Phase, o.Status, formatTime(now), formatTime(now))
	if err != nil {
		return ObservationSession{}, err
	}
	return o, nil
}

func (s *Store) GetObservationSession(id string) (ObservationSession, error) {
	return scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM observation_sessions WHERE id = ?`, id))
}

// LatestObservationSession returns the most recently created session of a
// meeting.
func (s *Store) LatestObservationSession(meetingID string) (ObservationSession, error) {
	return scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM observation_sessions
		WHERE meeting_id = ? ORDER BY rowid DESC LIMIT 1`, meetingID))
}

// UpdateObservationSession persists phase and status.
func (s *Store) UpdateObservationSession(o ObservationSession) error {
	res, err := s.db.Exec(`UPDATE observation_sessions SET phase = ?, status = ?, updated_at = ? WHERE id = ?`,
		o.Phase, o.Status, formatTime(time.Now()), o.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Observations ---

func (s *Store) SaveObservation(r ObservationRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO observations (id, session_id, timestamp, text, category, source, confidence, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, formatTime(r.Timestamp), r.Text, r.Category, r.Source, r.Confidence, r.DetailsJSON,
	)
	return err
}

// ListObservations returns a session's observations in arrival order.
func (s *Store) ListObservations(sessionID string, limit, offset int) ([]ObservationRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, timestamp, text, category, source, confidence, details_json
		FROM observations WHERE session_id = ? ORDER BY rowid ASC LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ObservationRecord
	for rows.Next() {
		var r ObservationRecord
		var ts string
		if err := rows.Scan(&r.ID, &r.SessionID, &ts, &r.Text, &r.Category, &r.Source, &r.Confidence, &r.DetailsJSON); err != nil {
			return nil, err
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) CountObservations(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM observations WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// --- Clarifications ---

const clarificationColumns = `id, session_id, question, category, status, answer, answered_at, created_at`

func scanClarification(row rowScanner) (Clarification, error) {
	var c Clarification
	var answeredAt sql.NullString
	var createdAt string
	err := row.Scan(&c.ID, &c.SessionID, &c.Question, &c.Category, &c.Status, &c.Answer, &answeredAt, &createdAt)
	if err == sql.ErrNoRows {
		return Clarification{}, ErrNotFound
	}
	if err != nil {
		return Clarification{}, err
	}
	if answeredAt.Valid {
		if c.AnsweredAt, err = parseTime(answeredAt.String); err != nil {
			return Clarification{}, fmt.Errorf("parsing answered_at: %w", err)
		}
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Clarification{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}

func (s *Store) SaveClarification(c Clarification) error {
	if c.Status == "" {
		c.Status = ClarificationPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO clarifications (`+clarificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Question, c.Category, c.Status, c.Answer, nullTime(c.AnsweredAt), formatTime(c.CreatedAt))
	return err
}

func (s *Store) GetClarification(id string) (Clarification, error) {
	return scanClarification(s.db.QueryRow(`SELECT `+clarificationColumns+` FROM clarifications WHERE id = ?`, id))
}

// ListClarifications returns a session's clarifications, oldest first. An
// empty status matches every status.
func (s *Store) ListClarifications(sessionID string, status ClarificationStatus) ([]Clarification, error) {
	query := `SELECT ` + clarificationColumns + ` FROM clarifications WHERE session_id = ?`
	args := []any{sessionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY rowid ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Clarification
	for rows.Next() {
		c, err := scanClarification(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// UpdateClarification persists status and answer.
func (s *Store) UpdateClarification(c Clarification) error {
	res, err := s.db.Exec(`UPDATE clarifications SET status = ?, answer = ?, answered_at = ? WHERE id = ?`,
		c.Status, c.Answer, nullTime(c.AnsweredAt), c.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}
