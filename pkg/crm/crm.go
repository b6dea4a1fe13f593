// Package crm holds the prospect, call log, and call queue model shared
// by the voice agents and the campaign orchestrator.
package crm

import (
	"context"
	"errors"
	"time"
)

// ProspectStatus is the pipeline stage of a prospect. Values double as
// call dispositions when an agent logs an outcome.
type ProspectStatus string

const (
	StatusPending       ProspectStatus = "Pending"
	StatusFollowUp      ProspectStatus = "Follow Up"
	StatusMeetingBooked ProspectStatus = "Meeting Booked"
	StatusNotInterested ProspectStatus = "Not Interested"
)

// Valid reports whether s is a known pipeline stage.
func (s ProspectStatus) Valid() bool {
	switch s {
	case StatusPending, StatusFollowUp, StatusMeetingBooked, StatusNotInterested:
		return true
	}
	return false
}

var (
	ErrProspectNotFound = errors.New("prospect not found")
	ErrNotInQueue       = errors.New("prospect not in call queue")
)

// Prospect is one sales lead.
type Prospect struct {
	ID            int64
	Company       string
	Contact       string
	Title         string
	Phone         string
	Email         string
	Status        ProspectStatus
	AssignedTo    string
	LastContacted *time.Time
	NextFollowUp  *time.Time
}

// TranscriptEntry is one line of a recorded conversation.
type TranscriptEntry struct {
	Speaker string
	Text    string
}

// MeetingDetails describes a meeting booked during a call.
type MeetingDetails struct {
	StartTime time.Time
	Agenda    string
}

// CallLog records the outcome of one finished call.
type CallLog struct {
	ID          string
	ProspectID  int64
	Timestamp   time.Time
	Summary     string
	Disposition ProspectStatus
	Transcript  []TranscriptEntry
	Meeting     *MeetingDetails
}

// CallQueueItem is a prospect placed in the outbound dialing queue.
type CallQueueItem struct {
	Prospect
	QueuePosition int
}

// ScheduledMeeting is a booked meeting joined with its prospect, for the
// schedule view.
type ScheduledMeeting struct {
	ID           string
	ProspectID   int64
	ProspectName string
	CompanyName  string
	StartTime    time.Time
	Agenda       string
}

// SupportTicket is a helpdesk ticket opened during an inbound call.
type SupportTicket struct {
	ID           string
	CallerName   string
	CompanyName  string
	IssueSummary string
	Priority     string
	CreatedAt    time.Time
}

// Store is the CRM persistence surface. Implementations must be safe for
// concurrent use.
type Store interface {
	ListProspects(ctx context.Context) ([]Prospect, error)
	GetProspect(ctx context.Context, id int64) (Prospect, error)
	AddProspect(ctx context.Context, p Prospect) (Prospect, error)
	UpdateProspectStatus(ctx context.Context, id int64, status ProspectStatus) (Prospect, error)

	ListCallLogs(ctx context.Context) ([]CallLog, error)
	CallLogsForProspect(ctx context.Context, prospectID int64) ([]CallLog, error)
	AddCallLog(ctx context.Context, log CallLog) (CallLog, error)

	ScheduleMeeting(ctx context.Context, prospectID int64, details MeetingDetails) error
	ScheduledMeetings(ctx context.Context) ([]ScheduledMeeting, error)

	CreateSupportTicket(ctx context.Context, ticket SupportTicket) (SupportTicket, error)
	ListSupportTickets(ctx context.Context) ([]SupportTicket, error)

	ListQueue(ctx context.Context) ([]CallQueueItem, error)
	ReorderQueue(ctx context.Context, queue []CallQueueItem) ([]CallQueueItem, error)
	RemoveFromQueue(ctx context.Context, prospectID int64) error
}

// Notifier delivers out-of-band messages to prospects.
type Notifier interface {
	SendMessage(ctx context.Context, phone, message string) error
}
