package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/guard"
	"github.com/oarkflow/squealx"
)

// SQLAttributeStore persists administered attribute records in SQL (squealx).
// One row per (scope, subject, workstream); the attribute map travels as JSON.
type SQLAttributeStore struct {
	db *squealx.DB
}

func NewSQLAttributeStore(db *squealx.DB) *SQLAttributeStore {
	return &SQLAttributeStore{db: db}
}

func (s *SQLAttributeStore) SaveAttributes(ctx context.Context, rec *guard.AttributeRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return err
	}
	q := `INSERT INTO attribute_records(scope, subject_id, workstream, attributes_json, updated_at) VALUES(:scope, :subject_id, :workstream, :attributes_json, :updated_at) ON CONFLICT(scope, subject_id, workstream) DO UPDATE SET attributes_json=:attributes_json, updated_at=:updated_at`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"scope":           string(rec.Scope),
		"subject_id":      rec.SubjectID,
		"workstream":      rec.Workstream,
		"attributes_json": string(attrs),
		"updated_at":      rec.UpdatedAt,
	})
	return err
}

func (s *SQLAttributeStore) DeleteAttributes(ctx context.Context, scope guard.AttributeScope, subjectID, workstream string) error {
	q := `DELETE FROM attribute_records WHERE scope = :scope AND subject_id = :subject_id AND workstream = :workstream`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"scope":      string(scope),
		"subject_id": subjectID,
		"workstream": workstream,
	})
	return err
}

func (s *SQLAttributeStore) GetUserAttributes(ctx context.Context, userID, workstream string) (*guard.AttributeRecord, error) {
	recs, err := s.fetch(ctx, guard.ScopeUser, []string{userID}, workstream)
	if err != nil {
		return nil, err
	}
	return recs[userID], nil
}

func (s *SQLAttributeStore) GetGroupAttributes(ctx context.Context, groupIDs []string, workstream string) (map[string]*guard.AttributeRecord, error) {
	return s.fetch(ctx, guard.ScopeGroup, groupIDs, workstream)
}

func (s *SQLAttributeStore) GetRoleAttributes(ctx context.Context, roleIDs []string, workstream string) (map[string]*guard.AttributeRecord, error) {
	return s.fetch(ctx, guard.ScopeRole, roleIDs, workstream)
}

// fetch loads one scope's records for the listed subjects in a single query.
func (s *SQLAttributeStore) fetch(ctx context.Context, scope guard.AttributeScope, ids []string, workstream string) (map[string]*guard.AttributeRecord, error) {
	out := make(map[string]*guard.AttributeRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	idSet, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	q := `SELECT subject_id, attributes_json, updated_at FROM attribute_records WHERE scope = :scope AND workstream = :workstream AND subject_id IN (SELECT value FROM json_each(:subject_ids))`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"scope":       string(scope),
		"workstream":  workstream,
		"subject_ids": string(idSet),
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	for r.Next() {
		var subjectID, attrsJSON string
		var updatedRaw interface{}
		if err := r.Scan(&subjectID, &attrsJSON, &updatedRaw); err != nil {
			return nil, err
		}
		rec := &guard.AttributeRecord{
			Scope:      scope,
			SubjectID:  subjectID,
			Workstream: workstream,
			UpdatedAt:  scanTime(updatedRaw),
		}
		if err := json.Unmarshal([]byte(attrsJSON), &rec.Attributes); err != nil {
			return nil, err
		}
		out[subjectID] = rec
	}
	return out, nil
}
