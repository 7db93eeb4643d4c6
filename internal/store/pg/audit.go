package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"seatgrid.io/internal/impersonation"
)

type AuditStore struct {
	db *sql.DB
}

var _ impersonation.AuditStore = (*AuditStore)(nil)

const auditColumns = `id, session_id, impersonator_id, tenant_id, action, action_type,
	resource, resource_id, description, success, error_message, client_ip, user_agent,
	metadata, created_at`

func (s *AuditStore) Append(ctx context.Context, entry *impersonation.AuditEntry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	metaJSON := []byte("{}")
	if len(entry.Metadata) > 0 {
		bytes, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = bytes
	}
	_, err := s.db.ExecContext(ctx, `
		insert into impersonation_audit_log (`+auditColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,nullif($8,''),nullif($9,''),$10,nullif($11,''),nullif($12,''),nullif($13,''),$14,$15)
	`,
		entry.ID, entry.SessionID, entry.ImpersonatorID, entry.TenantID,
		entry.Action, string(entry.ActionType), entry.Resource, entry.ResourceID,
		entry.Description, entry.Success, entry.ErrorMessage,
		entry.ClientIP, entry.UserAgent, metaJSON, entry.CreatedAt,
	)
	return err
}

func (s *AuditStore) List(ctx context.Context, filter impersonation.AuditFilter) ([]impersonation.AuditEntry, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.SessionID != "" {
		add("session_id = $%d", filter.SessionID)
	}
	if filter.ActionType != "" {
		add("action_type = $%d", string(filter.ActionType))
	}
	if filter.Success != nil {
		add("success = $%d", *filter.Success)
	}
	if filter.AfterID != "" {
		// ULIDs sort by creation time, so id pagination follows the trail.
		add("id > $%d", filter.AfterID)
	}

	query := `select ` + auditColumns + ` from impersonation_audit_log`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" order by created_at asc, id asc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []impersonation.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *AuditStore) CountActions(ctx context.Context, sessionID string) (int64, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var count int64
	err := s.db.QueryRowContext(ctx, `
		select count(*) from impersonation_audit_log
		where session_id = $1 and action_type <> 'system'
	`, sessionID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func scanAuditEntry(row rowScanner) (impersonation.AuditEntry, error) {
	var (
		entry        impersonation.AuditEntry
		actionType   string
		resourceID   *string
		description  *string
		errorMessage *string
		clientIP     *string
		userAgent    *string
		metaJSON     []byte
	)
	err := row.Scan(
		&entry.ID, &entry.SessionID, &entry.ImpersonatorID, &entry.TenantID,
		&entry.Action, &actionType, &entry.Resource, &resourceID, &description,
		&entry.Success, &errorMessage, &clientIP, &userAgent, &metaJSON, &entry.CreatedAt,
	)
	if err != nil {
		return impersonation.AuditEntry{}, err
	}
	entry.ActionType = impersonation.ActionType(actionType)
	if resourceID != nil {
		entry.ResourceID = *resourceID
	}
	if description != nil {
		entry.Description = *description
	}
	if errorMessage != nil {
		entry.ErrorMessage = *errorMessage
	}
	if clientIP != nil {
		entry.ClientIP = *clientIP
	}
	if userAgent != nil {
		entry.UserAgent = *userAgent
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &entry.Metadata); err != nil {
			return impersonation.AuditEntry{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return entry, nil
}
