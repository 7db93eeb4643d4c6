package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"seatgrid.io/internal/impersonation"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type SessionStore struct {
	db *sql.DB
}

var _ impersonation.SessionStore = (*SessionStore)(nil)

const sessionColumns = `id, impersonator_id, impersonator_role, tenant_id, target_user_id,
	reason, ticket_ref, requested_by, status, started_at, expires_at, ended_at,
	permissions, restrictions, client_ip, user_agent, location`

func (s *SessionStore) Create(ctx context.Context, session *impersonation.Session) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	perms, err := json.Marshal(session.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	restrictions, err := json.Marshal(session.Restrictions)
	if err != nil {
		return fmt.Errorf("marshal restrictions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		insert into impersonation_sessions (`+sessionColumns+`)
		values ($1,$2,$3,$4,nullif($5,''),$6,nullif($7,''),nullif($8,''),$9,$10,$11,null,$12,$13,nullif($14,''),nullif($15,''),nullif($16,''))
	`,
		session.ID, session.ImpersonatorID, session.ImpersonatorRole, session.TenantID,
		session.TargetUserID, session.Reason, session.TicketRef, session.RequestedBy,
		string(session.Status), session.StartedAt, session.ExpiresAt,
		perms, restrictions, session.Client.IP, session.Client.UserAgent, session.Client.Location,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: session %s", impersonation.ErrInvalidInput, session.ID)
			case pgErrForeignKeyViolation:
				return impersonation.ErrTenantUnavailable
			}
		}
		return err
	}
	return nil
}

func (s *SessionStore) Find(ctx context.Context, id string) (*impersonation.Session, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+sessionColumns+`
		from impersonation_sessions
		where id = $1
	`, id)
	return scanSession(row)
}

func (s *SessionStore) ActiveByImpersonator(ctx context.Context, impersonatorID string) (*impersonation.Session, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+sessionColumns+`
		from impersonation_sessions
		where impersonator_id = $1 and status = 'active'
		order by started_at desc
		limit 1
	`, impersonatorID)
	return scanSession(row)
}

func (s *SessionStore) Finish(ctx context.Context, id string, status impersonation.SessionStatus, endedAt time.Time) (bool, error) {
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}
	// ended_at written once; a terminal row never matches again.
	res, err := s.db.ExecContext(ctx, `
		update impersonation_sessions
		set status = $2, ended_at = $3
		where id = $1 and ended_at is null and status = 'active'
	`, id, string(status), endedAt.UTC())
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if aff > 0 {
		return true, nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `select 1 from impersonation_sessions where id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, impersonation.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*impersonation.Session, error) {
	var (
		session      impersonation.Session
		targetUser   sql.NullString
		ticketRef    sql.NullString
		requestedBy  sql.NullString
		status       string
		endedAt      sql.NullTime
		perms        []byte
		restrictions []byte
		clientIP     sql.NullString
		userAgent    sql.NullString
		location     sql.NullString
	)
	err := row.Scan(
		&session.ID, &session.ImpersonatorID, &session.ImpersonatorRole, &session.TenantID,
		&targetUser, &session.Reason, &ticketRef, &requestedBy, &status,
		&session.StartedAt, &session.ExpiresAt, &endedAt,
		&perms, &restrictions, &clientIP, &userAgent, &location,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, impersonation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	session.TargetUserID = targetUser.String
	session.TicketRef = ticketRef.String
	session.RequestedBy = requestedBy.String
	session.Status = impersonation.SessionStatus(status)
	if endedAt.Valid {
		ended := endedAt.Time.UTC()
		session.EndedAt = &ended
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &session.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	if len(restrictions) > 0 {
		if err := json.Unmarshal(restrictions, &session.Restrictions); err != nil {
			return nil, fmt.Errorf("decode restrictions: %w", err)
		}
	}
	session.Client = impersonation.ClientInfo{
		IP:        clientIP.String,
		UserAgent: userAgent.String,
		Location:  location.String,
	}
	return &session, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
