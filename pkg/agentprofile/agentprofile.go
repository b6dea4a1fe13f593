// Package agentprofile defines the OmniTech voice agent variants: the
// shared system prompt and tool surface, specialized per call context
// (inbound line, outbound campaign item, prospect detail view).
package agentprofile

import (
	"context"
	"fmt"
	"time"

	"github.com/omnitech-labs/omnidial/pkg/crm"
	"github.com/omnitech-labs/omnidial/pkg/voice"
	"github.com/omnitech-labs/omnidial/pkg/voice/protocol"
)

// DefaultModel is the generative voice model the agent runs on.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// SystemPrompt is the base instruction shared by every agent variant.
const SystemPrompt = `Role & Objective
You are OmniTech's AI voice agent. Your job is twofold:
	1.	Outbound: call businesses from the provided Prospect Sheet, qualify, and book meetings for OmniTech's team.
	2.	Inbound: answer calls, triage sales vs. support, resolve simple issues, and warm-transfer/schedule when needed.

You represent OmniTech, Gulfport, MS. Friendly, competent, no fluff. Always confirm consent for call recording, honor Do-Not-Call requests, and follow US calling hours (8am-8pm local unless otherwise specified).

Products (high level)
	•	OmniTalk: Business VoIP/phone systems: clear calling on any device, modern voicemail, and cost-saving phone features for SMBs.
	•	OmniSupport: Managed IT/help desk: flat-rate IT support packages for small/medium businesses.
	•	OmniSecure: Cameras/security & automation for office/home. (If a caller says "OmniVol," treat it as OmniSecure unless the knowledge base says otherwise.)

If internal docs later redefine products, prefer the uploaded knowledge over this summary.

Tooling You Can Use
	•	schedule_meeting to place meetings on the OmniTech Sales Calendar.
	•	create_support_ticket for IT support tickets.
	•	write_to_call_log when the call is over.
	•	send_sms for follow-ups.
(If a tool is not available, clearly say what you would do and log the data.)

Compliance & Safety
	•	State location (Gulfport, MS) if asked. Gain recording consent. Honor DNC. No promises or pricing that are not in the knowledge base. No collecting full credit-card numbers. For abusive/unsafe situations, de-escalate and end the call.

Tone & Style
Warm, efficient, local. Short sentences. Avoid jargon. Mirror the caller's pace.

Failure & Fallbacks
If a tool is missing or returns an error, explain what you tried, log the interaction, send the caller a calendar link via SMS or email, and ask for the best time to follow up.`

// Profile is a ready-to-dial agent configuration.
type Profile struct {
	Name     string
	Model    string
	System   string
	Tools    []protocol.ToolDecl
	Handlers map[string]voice.ToolDef
}

// Declarations lists the tools advertised to the backend, shared by all
// variants.
func Declarations() []protocol.ToolDecl {
	return []protocol.ToolDecl{
		{
			Name:        "schedule_meeting",
			Description: "Schedules a meeting on the OmniTech Sales Calendar.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"attendees":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Emails of the attendees."},
					"start_time": map[string]any{"type": "string", "description": "Start time of the meeting in ISO 8601 format."},
					"end_time":   map[string]any{"type": "string", "description": "End time of the meeting in ISO 8601 format."},
					"agenda":     map[string]any{"type": "string", "description": "A brief agenda for the meeting."},
				},
				"required": []string{"attendees", "start_time", "end_time", "agenda"},
			},
		},
		{
			Name:        "create_support_ticket",
			Description: "Creates a new IT support ticket in the helpdesk system.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"caller_name":   map[string]any{"type": "string", "description": "Name of the person reporting the issue."},
					"company_name":  map[string]any{"type": "string", "description": "Company the caller belongs to."},
					"issue_summary": map[string]any{"type": "string", "description": "A detailed summary of the technical issue."},
					"priority":      map[string]any{"type": "string", "description": "Priority of the ticket (e.g., 'High', 'Medium', 'Low')."},
				},
				"required": []string{"caller_name", "issue_summary", "priority"},
			},
		},
		{
			Name:        "write_to_call_log",
			Description: "Writes an entry to the call log and ends the call.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"direction":   map[string]any{"type": "string", "description": "'inbound' or 'outbound'"},
					"company":     map[string]any{"type": "string"},
					"summary":     map[string]any{"type": "string", "description": "A summary of the call."},
					"disposition": map[string]any{"type": "string", "description": "The outcome of the call (e.g., 'Meeting Booked', 'Not Interested', 'Follow Up')."},
				},
				"required": []string{"direction", "summary", "disposition"},
			},
		},
		{
			Name:        "send_sms",
			Description: "Sends an SMS message to a given phone number.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"phone_number": map[string]any{"type": "string", "description": "The recipient's phone number."},
					"message":      map[string]any{"type": "string", "description": "The content of the SMS message."},
				},
				"required": []string{"phone_number", "message"},
			},
		},
	}
}

// CallOutcome captures the disposition the agent logged for one call.
// Safe to read after the session's Done channel closes.
type CallOutcome struct {
	disposition crm.ProspectStatus
	logged      bool
}

// Disposition returns the logged outcome, or empty when the call ended
// without a log entry.
func (o *CallOutcome) Disposition() crm.ProspectStatus { return o.disposition }

// Logged reports whether the agent finalized a call record.
func (o *CallOutcome) Logged() bool { return o.logged }

// Inbound builds the receptionist profile: no prospect context; support
// tickets and SMS are live, and the call log is not tied to a prospect.
func Inbound(store crm.Store, notifier crm.Notifier) Profile {
	handlers := map[string]voice.ToolDef{
		"create_support_ticket": {Handler: createTicketHandler(store)},
		"send_sms":              {Handler: sendSMSHandler(notifier)},
		"write_to_call_log": {
			EndsCall: true,
			Handler:  writeCallLogHandler(store, nil, nil),
		},
	}
	return Profile{
		Name:     "inbound",
		Model:    DefaultModel,
		System:   SystemPrompt,
		Tools:    Declarations(),
		Handlers: handlers,
	}
}

// Outbound builds the campaign-call profile for one prospect. The
// returned outcome reports the logged disposition once the call ends.
func Outbound(store crm.Store, notifier crm.Notifier, prospect crm.Prospect) (Profile, *CallOutcome) {
	outcome := &CallOutcome{}
	profile := prospectProfile(store, notifier, prospect, outcome)
	profile.Name = "outbound"
	profile.System = SystemPrompt + fmt.Sprintf(
		"\nThis is an outbound call. The current prospect is %s from %s. Your goal is to qualify them and book a meeting if appropriate.",
		prospect.Contact, prospect.Company)
	return profile, outcome
}

// DetailView builds the ad-hoc single-prospect call profile.
func DetailView(store crm.Store, notifier crm.Notifier, prospect crm.Prospect) (Profile, *CallOutcome) {
	outcome := &CallOutcome{}
	profile := prospectProfile(store, notifier, prospect, outcome)
	profile.Name = "detail"
	profile.System = SystemPrompt + fmt.Sprintf(
		"\nThe current prospect is %s from %s.", prospect.Contact, prospect.Company)
	return profile, outcome
}

func prospectProfile(store crm.Store, notifier crm.Notifier, prospect crm.Prospect, outcome *CallOutcome) Profile {
	handlers := map[string]voice.ToolDef{
		"schedule_meeting":      {Handler: scheduleMeetingHandler(store, prospect.ID)},
		"create_support_ticket": {Handler: createTicketHandler(store)},
		"send_sms":              {Handler: sendSMSHandler(notifier)},
		"write_to_call_log": {
			EndsCall: true,
			Handler:  writeCallLogHandler(store, &prospect, outcome),
		},
	}
	return Profile{
		Model:    DefaultModel,
		Tools:    Declarations(),
		Handlers: handlers,
	}
}

func scheduleMeetingHandler(store crm.Store, prospectID int64) voice.ToolHandler {
	return func(ctx context.Context, req voice.ToolRequest) (string, error) {
		start, err := time.Parse(time.RFC3339, stringArg(req.Arguments, "start_time"))
		if err != nil {
			return "", fmt.Errorf("start_time must be ISO 8601: %w", err)
		}
		details := crm.MeetingDetails{
			StartTime: start,
			Agenda:    stringArg(req.Arguments, "agenda"),
		}
		if err := store.ScheduleMeeting(ctx, prospectID, details); err != nil {
			return "", err
		}
		return fmt.Sprintf("Meeting scheduled for %s.", start.Format(time.RFC1123)), nil
	}
}

func createTicketHandler(store crm.Store) voice.ToolHandler {
	return func(ctx context.Context, req voice.ToolRequest) (string, error) {
		ticket := crm.SupportTicket{
			CallerName:   stringArg(req.Arguments, "caller_name"),
			CompanyName:  stringArg(req.Arguments, "company_name"),
			IssueSummary: stringArg(req.Arguments, "issue_summary"),
			Priority:     stringArg(req.Arguments, "priority"),
		}
		if ticket.CallerName == "" || ticket.IssueSummary == "" {
			return "", fmt.Errorf("caller_name and issue_summary are required")
		}
		created, err := store.CreateSupportTicket(ctx, ticket)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Support ticket %s created with priority %s.", created.ID, created.Priority), nil
	}
}

func sendSMSHandler(notifier crm.Notifier) voice.ToolHandler {
	return func(ctx context.Context, req voice.ToolRequest) (string, error) {
		phone := stringArg(req.Arguments, "phone_number")
		message := stringArg(req.Arguments, "message")
		if phone == "" || message == "" {
			return "", fmt.Errorf("phone_number and message are required")
		}
		if err := notifier.SendMessage(ctx, phone, message); err != nil {
			return "", err
		}
		return fmt.Sprintf("SMS sent to %s.", phone), nil
	}
}

// writeCallLogHandler persists the call record with the live transcript.
// With a prospect it also updates the pipeline status and records the
// disposition on the outcome.
func writeCallLogHandler(store crm.Store, prospect *crm.Prospect, outcome *CallOutcome) voice.ToolHandler {
	return func(ctx context.Context, req voice.ToolRequest) (string, error) {
		disposition := crm.ProspectStatus(stringArg(req.Arguments, "disposition"))
		log := crm.CallLog{
			Summary:     stringArg(req.Arguments, "summary"),
			Disposition: disposition,
			Transcript:  transcriptEntries(req.Transcript),
		}
		if prospect != nil {
			log.ProspectID = prospect.ID
		}
		if _, err := store.AddCallLog(ctx, log); err != nil {
			return "", err
		}
		if prospect != nil && disposition.Valid() {
			if _, err := store.UpdateProspectStatus(ctx, prospect.ID, disposition); err != nil {
				return "", err
			}
		}
		if outcome != nil {
			outcome.disposition = disposition
			outcome.logged = true
		}
		return "Call logged.", nil
	}
}

func transcriptEntries(turns []voice.TranscriptTurn) []crm.TranscriptEntry {
	entries := make([]crm.TranscriptEntry, 0, len(turns))
	for _, turn := range turns {
		entries = append(entries, crm.TranscriptEntry{
			Speaker: string(turn.Speaker),
			Text:    turn.Text,
		})
	}
	return entries
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
