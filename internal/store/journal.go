package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/castplan/internal/model"
)

// AppendAudit inserts an audit entry. The store assigns the ID.
func (s *Store) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	created, err := marshalIDs(e.CreatedIDs)
	if err != nil {
		return err
	}
	updated, err := marshalIDs(e.UpdatedIDs)
	if err != nil {
		return err
	}
	deleted, err := marshalIDs(e.DeletedIDs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
		(id, at, group_id, action, generation_marker, details, created_ids, updated_ids, deleted_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.newID(), formatTimestamp(e.At), e.GroupID, e.Action, e.Marker,
		string(details), created, updated, deleted)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AppendError inserts an error entry. Unless SourceAsText is set the entry
// links to its group, and the foreign key rejects unknown groups.
func (s *Store) AppendError(ctx context.Context, e model.ErrorEntry) error {
	var link, text sql.NullString
	if e.SourceAsText {
		text = nullString(e.GroupID)
	} else {
		link = nullString(e.GroupID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_entries (id, at, source_group_id, source_text, message, details)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.newID(), formatTimestamp(e.At), link, text, e.Message, e.Details)
	if err != nil {
		return fmt.Errorf("insert error entry: %w", err)
	}
	return nil
}

// ListAudit returns up to limit audit entries of groupID, newest first.
// A limit of zero or less returns every entry.
func (s *Store) ListAudit(ctx context.Context, groupID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, group_id, action, generation_marker, details, created_ids, updated_ids, deleted_ids
		FROM audit_entries
		WHERE group_id = ?
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	out := []model.AuditEntry{}
	for rows.Next() {
		var (
			e                                   model.AuditEntry
			at, details, created, updated, dels string
		)
		if err := rows.Scan(&e.ID, &at, &e.GroupID, &e.Action, &e.Marker, &details, &created, &updated, &dels); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if e.At, err = parseTimestamp(at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("unmarshal audit details: %w", err)
		}
		if e.CreatedIDs, err = unmarshalIDs(created); err != nil {
			return nil, err
		}
		if e.UpdatedIDs, err = unmarshalIDs(updated); err != nil {
			return nil, err
		}
		if e.DeletedIDs, err = unmarshalIDs(dels); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

// ListErrors returns the error entries that reference groupID, linked or as
// text, oldest first.
func (s *Store) ListErrors(ctx context.Context, groupID string) ([]model.ErrorEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, source_group_id, source_text, message, details
		FROM error_entries
		WHERE source_group_id = ? OR source_text = ?
		ORDER BY at, id
	`, groupID, groupID)
	if err != nil {
		return nil, fmt.Errorf("query error entries: %w", err)
	}
	defer rows.Close()

	out := []model.ErrorEntry{}
	for rows.Next() {
		var (
			e          model.ErrorEntry
			at         string
			link, text sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &link, &text, &e.Message, &e.Details); err != nil {
			return nil, fmt.Errorf("scan error entry: %w", err)
		}
		if e.At, err = parseTimestamp(at); err != nil {
			return nil, err
		}
		if link.Valid {
			e.GroupID = link.String
		} else {
			e.GroupID = text.String
			e.SourceAsText = true
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error entries: %w", err)
	}
	return out, nil
}
