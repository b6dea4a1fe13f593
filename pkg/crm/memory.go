package crm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for demos and tests.
type MemoryStore struct {
	mu        sync.Mutex
	prospects []Prospect
	logs      []CallLog
	queue     []CallQueueItem
	tickets   []SupportTicket
	now       func() time.Time
	nextLogID int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// NewSeededMemoryStore returns a store preloaded with a demo pipeline;
// pending and follow-up prospects are queued for dialing.
func NewSeededMemoryStore() *MemoryStore {
	s := NewMemoryStore()
	t := func(v string) *time.Time {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			panic(err)
		}
		return &parsed
	}
	s.prospects = []Prospect{
		{ID: 1, Company: "Innovate LLC", Contact: "John Doe", Title: "CTO", Phone: "555-1234", Email: "john.doe@innovate.com", Status: StatusPending, AssignedTo: "AI Agent"},
		{ID: 2, Company: "Synergy Corp", Contact: "Jane Smith", Title: "Office Manager", Phone: "555-5678", Email: "jane.smith@synergy.com", Status: StatusFollowUp, AssignedTo: "AI Agent", LastContacted: t("2023-10-25T10:00:00Z"), NextFollowUp: t("2023-11-01T10:00:00Z")},
		{ID: 3, Company: "Quantum Solutions", Contact: "Peter Jones", Title: "IT Director", Phone: "555-8765", Email: "peter.jones@quantum.com", Status: StatusMeetingBooked, AssignedTo: "AI Agent", LastContacted: t("2023-10-26T14:30:00Z")},
		{ID: 4, Company: "Apex Industries", Contact: "Mary Williams", Title: "CEO", Phone: "555-4321", Email: "mary.williams@apex.com", Status: StatusNotInterested, AssignedTo: "AI Agent", LastContacted: t("2023-10-24T11:00:00Z")},
		{ID: 5, Company: "Dynamic Tech", Contact: "David Brown", Title: "Operations Lead", Phone: "555-9988", Email: "david.brown@dynamic.com", Status: StatusPending, AssignedTo: "AI Agent"},
		{ID: 6, Company: "Global Exports", Contact: "Sarah Chen", Title: "Logistics Coordinator", Phone: "555-3344", Email: "sarah.chen@global.com", Status: StatusPending, AssignedTo: "AI Agent"},
		{ID: 7, Company: "Future Gadgets", Contact: "Mike Rodriguez", Title: "Lead Engineer", Phone: "555-5566", Email: "mike.r@futuregadgets.com", Status: StatusFollowUp, AssignedTo: "AI Agent", LastContacted: t("2023-10-23T09:00:00Z"), NextFollowUp: t("2023-10-30T09:00:00Z")},
	}
	s.logs = []CallLog{{
		ID:          "log_1672531200000",
		ProspectID:  3,
		Timestamp:   *t("2023-10-26T14:30:00Z"),
		Summary:     "AI agent successfully booked a meeting with Peter Jones to discuss OmniSupport IT packages. Prospect is interested in a flat-rate solution.",
		Disposition: StatusMeetingBooked,
		Transcript: []TranscriptEntry{
			{Speaker: "agent", Text: "Hello, is this Peter?"},
			{Speaker: "user", Text: "Yes, this is him."},
			{Speaker: "agent", Text: "Great, I'm calling from OmniTech... (conversation continues)"},
		},
		Meeting: &MeetingDetails{
			StartTime: *t("2023-11-02T10:00:00Z"),
			Agenda:    "Discuss OmniSupport Managed IT services for Quantum Solutions.",
		},
	}}
	pos := 0
	for _, p := range s.prospects {
		if p.Status != StatusPending && p.Status != StatusFollowUp {
			continue
		}
		if pos >= 5 {
			break
		}
		s.queue = append(s.queue, CallQueueItem{Prospect: p, QueuePosition: pos})
		pos++
	}
	return s
}

func (s *MemoryStore) ListProspects(ctx context.Context) ([]Prospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prospect(nil), s.prospects...), nil
}

func (s *MemoryStore) GetProspect(ctx context.Context, id int64) (Prospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prospects {
		if p.ID == id {
			return p, nil
		}
	}
	return Prospect{}, fmt.Errorf("prospect %d: %w", id, ErrProspectNotFound)
}

func (s *MemoryStore) AddProspect(ctx context.Context, p Prospect) (Prospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var maxID int64
	for _, existing := range s.prospects {
		if existing.ID > maxID {
			maxID = existing.ID
		}
	}
	p.ID = maxID + 1
	if p.Status == "" {
		p.Status = StatusPending
	}
	p.LastContacted = nil
	p.NextFollowUp = nil
	// Newest prospects go to the top of the list.
	s.prospects = append([]Prospect{p}, s.prospects...)
	return p, nil
}

func (s *MemoryStore) UpdateProspectStatus(ctx context.Context, id int64, status ProspectStatus) (Prospect, error) {
	if !status.Valid() {
		return Prospect{}, fmt.Errorf("invalid prospect status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.prospects {
		if s.prospects[i].ID != id {
			continue
		}
		now := s.now()
		s.prospects[i].Status = status
		s.prospects[i].LastContacted = &now
		return s.prospects[i], nil
	}
	return Prospect{}, fmt.Errorf("prospect %d: %w", id, ErrProspectNotFound)
}

func (s *MemoryStore) ListCallLogs(ctx context.Context) ([]CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CallLog(nil), s.logs...), nil
}

func (s *MemoryStore) CallLogsForProspect(ctx context.Context, prospectID int64) ([]CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CallLog
	for _, log := range s.logs {
		if log.ProspectID == prospectID {
			out = append(out, log)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddCallLog(ctx context.Context, log CallLog) (CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.Timestamp.IsZero() {
		log.Timestamp = s.now()
	}
	if log.ID == "" {
		s.nextLogID++
		log.ID = fmt.Sprintf("log_%d_%d", log.Timestamp.UnixMilli(), s.nextLogID)
	}
	s.logs = append(s.logs, log)
	return log, nil
}

// ScheduleMeeting attaches meeting details to the prospect's most recent
// call log, creating a log when none exists yet.
func (s *MemoryStore) ScheduleMeeting(ctx context.Context, prospectID int64, details MeetingDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := -1
	for i, log := range s.logs {
		if log.ProspectID != prospectID {
			continue
		}
		if latest == -1 || log.Timestamp.After(s.logs[latest].Timestamp) {
			latest = i
		}
	}
	if latest >= 0 {
		s.logs[latest].Meeting = &details
		return nil
	}

	var prospect *Prospect
	for i := range s.prospects {
		if s.prospects[i].ID == prospectID {
			prospect = &s.prospects[i]
			break
		}
	}
	if prospect == nil {
		return fmt.Errorf("prospect %d: %w", prospectID, ErrProspectNotFound)
	}
	now := s.now()
	s.nextLogID++
	s.logs = append(s.logs, CallLog{
		ID:          fmt.Sprintf("log_%d_%d", now.UnixMilli(), s.nextLogID),
		ProspectID:  prospectID,
		Timestamp:   now,
		Summary:     fmt.Sprintf("Meeting booked with %s from %s.", prospect.Contact, prospect.Company),
		Disposition: StatusMeetingBooked,
		Meeting:     &details,
	})
	return nil
}

func (s *MemoryStore) ScheduledMeetings(ctx context.Context) ([]ScheduledMeeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var meetings []ScheduledMeeting
	for _, log := range s.logs {
		if log.Meeting == nil {
			continue
		}
		for _, p := range s.prospects {
			if p.ID != log.ProspectID {
				continue
			}
			meetings = append(meetings, ScheduledMeeting{
				ID:           log.ID,
				ProspectID:   log.ProspectID,
				ProspectName: p.Contact,
				CompanyName:  p.Company,
				StartTime:    log.Meeting.StartTime,
				Agenda:       log.Meeting.Agenda,
			})
			break
		}
	}
	sort.Slice(meetings, func(i, j int) bool { return meetings[i].StartTime.Before(meetings[j].StartTime) })
	return meetings, nil
}

func (s *MemoryStore) CreateSupportTicket(ctx context.Context, ticket SupportTicket) (SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = s.now()
	}
	if ticket.ID == "" {
		ticket.ID = fmt.Sprintf("ticket_%d_%d", ticket.CreatedAt.UnixMilli(), len(s.tickets)+1)
	}
	s.tickets = append(s.tickets, ticket)
	return ticket, nil
}

func (s *MemoryStore) ListSupportTickets(ctx context.Context) ([]SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SupportTicket(nil), s.tickets...), nil
}

func (s *MemoryStore) ListQueue(ctx context.Context) ([]CallQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CallQueueItem(nil), s.queue...), nil
}

// ReorderQueue replaces the queue, renumbering positions from zero.
func (s *MemoryStore) ReorderQueue(ctx context.Context, queue []CallQueueItem) ([]CallQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = make([]CallQueueItem, len(queue))
	for i, item := range queue {
		item.QueuePosition = i
		s.queue[i] = item
	}
	return append([]CallQueueItem(nil), s.queue...), nil
}

func (s *MemoryStore) RemoveFromQueue(ctx context.Context, prospectID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.queue {
		if item.ID != prospectID {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		for j := range s.queue {
			s.queue[j].QueuePosition = j
		}
		return nil
	}
	return fmt.Errorf("prospect %d: %w", prospectID, ErrNotInQueue)
}
