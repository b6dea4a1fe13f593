// Package store persists the CRM in PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnitech-labs/omnidial/pkg/crm"
)

// PostgresStore implements the CRM store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Connect opens a pool against the given database URL and verifies it.
func Connect(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

const prospectColumns = "id, company, contact, title, phone, email, status, assigned_to, last_contacted, next_follow_up"

func scanProspect(row pgx.Row) (crm.Prospect, error) {
	var p crm.Prospect
	var status string
	err := row.Scan(&p.ID, &p.Company, &p.Contact, &p.Title, &p.Phone, &p.Email,
		&status, &p.AssignedTo, &p.LastContacted, &p.NextFollowUp)
	p.Status = crm.ProspectStatus(status)
	return p, err
}

func (s *PostgresStore) ListProspects(ctx context.Context) ([]crm.Prospect, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+prospectColumns+" FROM prospects ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("list prospects: %w", err)
	}
	defer rows.Close()

	var prospects []crm.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prospect: %w", err)
		}
		prospects = append(prospects, p)
	}
	return prospects, rows.Err()
}

func (s *PostgresStore) GetProspect(ctx context.Context, id int64) (crm.Prospect, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+prospectColumns+" FROM prospects WHERE id = $1", id)
	p, err := scanProspect(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crm.Prospect{}, fmt.Errorf("prospect %d: %w", id, crm.ErrProspectNotFound)
	}
	if err != nil {
		return crm.Prospect{}, fmt.Errorf("get prospect: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) AddProspect(ctx context.Context, p crm.Prospect) (crm.Prospect, error) {
	if p.Status == "" {
		p.Status = crm.StatusPending
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO prospects (company, contact, title, phone, email, status, assigned_to)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.Company, p.Contact, p.Title, p.Phone, p.Email, string(p.Status), p.AssignedTo)
	if err := row.Scan(&p.ID); err != nil {
		return crm.Prospect{}, fmt.Errorf("add prospect: %w", err)
	}
	p.LastContacted = nil
	p.NextFollowUp = nil
	return p, nil
}

func (s *PostgresStore) UpdateProspectStatus(ctx context.Context, id int64, status crm.ProspectStatus) (crm.Prospect, error) {
	if !status.Valid() {
		return crm.Prospect{}, fmt.Errorf("unknown status %q", status)
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE prospects SET status = $2, last_contacted = $3 WHERE id = $1 RETURNING `+prospectColumns,
		id, string(status), s.now())
	p, err := scanProspect(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crm.Prospect{}, fmt.Errorf("prospect %d: %w", id, crm.ErrProspectNotFound)
	}
	if err != nil {
		return crm.Prospect{}, fmt.Errorf("update prospect status: %w", err)
	}
	return p, nil
}

const callLogColumns = "id, prospect_id, ts, summary, disposition, transcript, meeting"

func scanCallLog(row pgx.Row) (crm.CallLog, error) {
	var log crm.CallLog
	var prospectID *int64
	var disposition string
	var transcript []byte
	var meeting []byte
	err := row.Scan(&log.ID, &prospectID, &log.Timestamp, &log.Summary, &disposition, &transcript, &meeting)
	if err != nil {
		return crm.CallLog{}, err
	}
	if prospectID != nil {
		log.ProspectID = *prospectID
	}
	log.Disposition = crm.ProspectStatus(disposition)
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &log.Transcript); err != nil {
			return crm.CallLog{}, fmt.Errorf("decode transcript: %w", err)
		}
	}
	if len(meeting) > 0 {
		log.Meeting = &crm.MeetingDetails{}
		if err := json.Unmarshal(meeting, log.Meeting); err != nil {
			return crm.CallLog{}, fmt.Errorf("decode meeting: %w", err)
		}
	}
	return log, nil
}

func (s *PostgresStore) queryCallLogs(ctx context.Context, query string, args ...any) ([]crm.CallLog, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query call logs: %w", err)
	}
	defer rows.Close()

	var logs []crm.CallLog
	for rows.Next() {
		log, err := scanCallLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) ListCallLogs(ctx context.Context) ([]crm.CallLog, error) {
	return s.queryCallLogs(ctx, "SELECT "+callLogColumns+" FROM call_logs ORDER BY ts")
}

func (s *PostgresStore) CallLogsForProspect(ctx context.Context, prospectID int64) ([]crm.CallLog, error) {
	return s.queryCallLogs(ctx, "SELECT "+callLogColumns+" FROM call_logs WHERE prospect_id = $1 ORDER BY ts", prospectID)
}

func (s *PostgresStore) AddCallLog(ctx context.Context, log crm.CallLog) (crm.CallLog, error) {
	if log.Timestamp.IsZero() {
		log.Timestamp = s.now()
	}
	if log.ID == "" {
		log.ID = "log_" + uuid.NewString()
	}
	transcript, err := json.Marshal(log.Transcript)
	if err != nil {
		return crm.CallLog{}, fmt.Errorf("encode transcript: %w", err)
	}
	var meeting []byte
	if log.Meeting != nil {
		if meeting, err = json.Marshal(log.Meeting); err != nil {
			return crm.CallLog{}, fmt.Errorf("encode meeting: %w", err)
		}
	}
	var prospectID *int64
	if log.ProspectID != 0 {
		prospectID = &log.ProspectID
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO call_logs (id, prospect_id, ts, summary, disposition, transcript, meeting)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.ID, prospectID, log.Timestamp, log.Summary, string(log.Disposition), transcript, meeting)
	if err != nil {
		return crm.CallLog{}, fmt.Errorf("add call log: %w", err)
	}
	return log, nil
}

func (s *PostgresStore) ScheduleMeeting(ctx context.Context, prospectID int64, details crm.MeetingDetails) error {
	meeting, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode meeting: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE call_logs SET meeting = $2
		 WHERE id = (SELECT id FROM call_logs WHERE prospect_id = $1 ORDER BY ts DESC LIMIT 1)`,
		prospectID, meeting)
	if err != nil {
		return fmt.Errorf("attach meeting: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	prospect, err := s.GetProspect(ctx, prospectID)
	if err != nil {
		return err
	}
	_, err = s.AddCallLog(ctx, crm.CallLog{
		ProspectID:  prospectID,
		Summary:     fmt.Sprintf("Meeting booked with %s from %s.", prospect.Contact, prospect.Company),
		Disposition: crm.StatusMeetingBooked,
		Meeting:     &details,
	})
	return err
}

func (s *PostgresStore) ScheduledMeetings(ctx context.Context) ([]crm.ScheduledMeeting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.id, l.prospect_id, p.contact, p.company, l.meeting
		 FROM call_logs l
		 JOIN prospects p ON p.id = l.prospect_id
		 WHERE l.meeting IS NOT NULL
		 ORDER BY (l.meeting->>'StartTime')`)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []crm.ScheduledMeeting
	for rows.Next() {
		var m crm.ScheduledMeeting
		var meeting []byte
		if err := rows.Scan(&m.ID, &m.ProspectID, &m.ProspectName, &m.CompanyName, &meeting); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		var details crm.MeetingDetails
		if err := json.Unmarshal(meeting, &details); err != nil {
			return nil, fmt.Errorf("decode meeting: %w", err)
		}
		m.StartTime = details.StartTime
		m.Agenda = details.Agenda
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

func (s *PostgresStore) CreateSupportTicket(ctx context.Context, ticket crm.SupportTicket) (crm.SupportTicket, error) {
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = s.now()
	}
	if ticket.ID == "" {
		ticket.ID = "ticket_" + uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO support_tickets (id, caller_name, company_name, issue_summary, priority, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ticket.ID, ticket.CallerName, ticket.CompanyName, ticket.IssueSummary, ticket.Priority, ticket.CreatedAt)
	if err != nil {
		return crm.SupportTicket{}, fmt.Errorf("create support ticket: %w", err)
	}
	return ticket, nil
}

func (s *PostgresStore) ListSupportTickets(ctx context.Context) ([]crm.SupportTicket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, caller_name, company_name, issue_summary, priority, created_at
		 FROM support_tickets ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list support tickets: %w", err)
	}
	defer rows.Close()

	var tickets []crm.SupportTicket
	for rows.Next() {
		var t crm.SupportTicket
		if err := rows.Scan(&t.ID, &t.CallerName, &t.CompanyName, &t.IssueSummary, &t.Priority, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan support ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *PostgresStore) ListQueue(ctx context.Context) ([]crm.CallQueueItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.company, p.contact, p.title, p.phone, p.email, p.status,
		        p.assigned_to, p.last_contacted, p.next_follow_up, q.position
		 FROM call_queue q
		 JOIN prospects p ON p.id = q.prospect_id
		 ORDER BY q.position`)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var queue []crm.CallQueueItem
	for rows.Next() {
		var item crm.CallQueueItem
		var status string
		err := rows.Scan(&item.ID, &item.Company, &item.Contact, &item.Title, &item.Phone,
			&item.Email, &status, &item.AssignedTo, &item.LastContacted, &item.NextFollowUp,
			&item.QueuePosition)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		item.Status = crm.ProspectStatus(status)
		queue = append(queue, item)
	}
	return queue, rows.Err()
}

// ReorderQueue replaces the queue with the given order. Positions are
// renumbered from zero.
func (s *PostgresStore) ReorderQueue(ctx context.Context, queue []crm.CallQueueItem) ([]crm.CallQueueItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reorder: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM call_queue"); err != nil {
		return nil, fmt.Errorf("clear queue: %w", err)
	}
	for i := range queue {
		queue[i].QueuePosition = i
		if _, err := tx.Exec(ctx,
			"INSERT INTO call_queue (prospect_id, position) VALUES ($1, $2)",
			queue[i].ID, i); err != nil {
			return nil, fmt.Errorf("insert queue item: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reorder: %w", err)
	}
	return queue, nil
}

// RemoveFromQueue drops the prospect and closes the position gap.
func (s *PostgresStore) RemoveFromQueue(ctx context.Context, prospectID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin remove: %w", err)
	}
	defer tx.Rollback(ctx)

	var position int
	err = tx.QueryRow(ctx,
		"DELETE FROM call_queue WHERE prospect_id = $1 RETURNING position",
		prospectID).Scan(&position)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("prospect %d: %w", prospectID, crm.ErrNotInQueue)
	}
	if err != nil {
		return fmt.Errorf("remove queue item: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE call_queue SET position = position - 1 WHERE position > $1", position); err != nil {
		return fmt.Errorf("renumber queue: %w", err)
	}
	return tx.Commit(ctx)
}

var _ crm.Store = (*PostgresStore)(nil)
