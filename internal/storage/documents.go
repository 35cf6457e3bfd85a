package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const documentColumns = `id, meeting_id, kind, title, status, version, latest_version, content, sections_json, flowchart, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	var createdAt, updatedAt string
	err := row.Scan(&d.ID, &d.MeetingID, &d.Kind, &d.Title, &d.Status, &d.Version, &d.LatestVersion,
		&d.Content, &d.SectionsJSON, &d.Flowchart, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Document{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}

// GetDocument returns the document of the given kind for a meeting.
func (s *Store) GetDocument(meetingID string, kind DocumentKind) (Document, error) {
	return scanDocument(s.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE meeting_id = ? AND kind = ?`, meetingID, kind))
}

func (s *Store) GetDocumentByID(id string) (Document, error) {
	return scanDocument(s.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
}

// ListDocuments returns every document of a meeting.
func (s *Store) ListDocuments(meetingID string) ([]Document, error) {
	rows, err := s.db.Query(`SELECT `+documentColumns+` FROM documents WHERE meeting_id = ? ORDER BY kind`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// AppendVersion writes a new snapshot and makes it current. The document
// (and its meeting) is created on first write. The new version is always
// LatestVersion+1, so numbering stays gapless even after a rollback.
func (s *Store) AppendVersion(v NewVersion) (Document, error) {
	if !v.Kind.Valid() {
		return Document{}, fmt.Errorf("invalid document kind %q", v.Kind)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Document{}, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	if _, err := tx.Exec(`INSERT INTO meetings (id, title, created_at) VALUES (?, '', ?) ON CONFLICT(id) DO NOTHING`,
		v.MeetingID, now); err != nil {
		return Document{}, fmt.Errorf("ensuring meeting: %w", err)
	}

	doc, err := scanDocument(tx.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE meeting_id = ? AND kind = ?`, v.MeetingID, v.Kind))
	switch {
	case errors.Is(err, ErrNotFound):
		doc = Document{
			ID:        uuid.New().String(),
			MeetingID: v.MeetingID,
			Kind:      v.Kind,
			Status:    StatusDraft,
		}
		if _, err := tx.Exec(`INSERT INTO documents (id, meeting_id, kind, title, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.MeetingID, doc.Kind, v.Title, doc.Status, now, now); err != nil {
			return Document{}, fmt.Errorf("creating document: %w", err)
		}
	case err != nil:
		return Document{}, fmt.Errorf("loading document: %w", err)
	}

	next := doc.LatestVersion + 1
	if _, err := tx.Exec(`INSERT INTO document_versions (document_id, version, content, sections_json, change_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, next, v.Content, v.SectionsJSON, v.ChangeSummary, now); err != nil {
		return Document{}, fmt.Errorf("inserting version %d: %w", next, err)
	}

	title := v.Title
	if title == "" {
		title = doc.Title
	}
	if _, err := tx.Exec(`UPDATE documents SET title = ?, version = ?, latest_version = ?, content = ?, sections_json = ?, flowchart = '', updated_at = ?
		WHERE id = ?`,
		title, next, next, v.Content, v.SectionsJSON, now, doc.ID); err != nil {
		return Document{}, fmt.Errorf("updating document: %w", err)
	}

	doc, err = scanDocument(tx.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, doc.ID))
	if err != nil {
		return Document{}, fmt.Errorf("reloading document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("committing version %d: %w", next, err)
	}
	return doc, nil
}

// ListVersions returns all snapshots of a document, oldest first.
func (s *Store) ListVersions(documentID string) ([]DocumentVersion, error) {
	rows, err := s.db.Query(`SELECT document_id, version, content, sections_json, change_summary, created_at
		FROM document_versions WHERE document_id = ? ORDER BY version ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DocumentVersion
	for rows.Next() {
		var v DocumentVersion
		var createdAt string
		if err := rows.Scan(&v.DocumentID, &v.Version, &v.Content, &v.SectionsJSON, &v.ChangeSummary, &createdAt); err != nil {
			return nil, err
		}
		if v.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

func (s *Store) GetVersion(documentID string, version int) (DocumentVersion, error) {
	var v DocumentVersion
	var createdAt string
	err := s.db.QueryRow(`SELECT document_id, version, content, sections_json, change_summary, created_at
		FROM document_versions WHERE document_id = ? AND version = ?`, documentID, version,
	).Scan(&v.DocumentID, &v.Version, &v.Content, &v.SectionsJSON, &v.ChangeSummary, &createdAt)
	if err == sql.ErrNoRows {
		return DocumentVersion{}, ErrVersionNotFound
	}
	if err != nil {
		return DocumentVersion{}, err
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return DocumentVersion{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return v, nil
}

// Rollback points the document at an earlier snapshot. Later versions are
// kept and LatestVersion is unchanged.
func (s *Store) Rollback(documentID string, version int) (Document, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Document{}, fmt.Errorf("beginning rollback transaction: %w", err)
	}
	defer tx.Rollback()

	var content, sections string
	err = tx.QueryRow(`SELECT content, sections_json FROM document_versions WHERE document_id = ? AND version = ?`,
		documentID, version).Scan(&content, &sections)
	if err == sql.ErrNoRows {
		if _, err := scanDocument(tx.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, documentID)); err != nil {
			return Document{}, err
		}
		return Document{}, ErrVersionNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("loading version %d: %w", version, err)
	}

	if _, err := tx.Exec(`UPDATE documents SET version = ?, content = ?, sections_json = ?, flowchart = '', updated_at = ? WHERE id = ?`,
		version, content, sections, formatTime(time.Now()), documentID); err != nil {
		return Document{}, fmt.Errorf("updating document: %w", err)
	}

	doc, err := scanDocument(tx.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, documentID))
	if err != nil {
		return Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("committing rollback: %w", err)
	}
	return doc, nil
}

func (s *Store) SetDocumentStatus(documentID string, status DocumentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid document status %q", status)
	}
	res, err := s.db.Exec(`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(time.Now()), documentID)
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

// SetFlowchart stores a flowchart derived from the given version. It is
// ignored (and reports false) when the document has moved to another version
// since the flowchart was requested.
func (s *Store) SetFlowchart(documentID string, version int, flowchart string) (bool, error) {
	res, err := s.db.Exec(`UPDATE documents SET flowchart = ? WHERE id = ? AND version = ?`, flowchart, documentID, version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetDocumentByID(documentID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
