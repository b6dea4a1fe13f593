// Package compose drafts follow-up emails and call scripts for prospects
// using the Gemini text models.
package compose

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/omnitech-labs/omnidial/pkg/crm"
)

// DefaultModel is the text model used for drafting.
const DefaultModel = "gemini-2.5-flash"

const systemInstruction = `You write sales correspondence for OmniTech, a Gulfport, MS provider of
business VoIP (OmniTalk), managed IT (OmniSupport), and security systems
(OmniSecure). Plain, warm, professional. No pricing claims. Keep it short.`

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Composer drafts prospect-facing text.
type Composer struct {
	models generator
	model  string
}

// NewComposer connects to the Gemini API with the given key.
func NewComposer(ctx context.Context, apiKey string) (*Composer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Composer{models: client.Models, model: DefaultModel}, nil
}

// FollowUpEmailPrompt builds the drafting prompt for a post-call email.
func FollowUpEmailPrompt(prospect crm.Prospect, log crm.CallLog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft a short follow-up email to %s, %s at %s.\n", prospect.Contact, prospect.Title, prospect.Company)
	fmt.Fprintf(&b, "Call summary: %s\n", log.Summary)
	fmt.Fprintf(&b, "Call outcome: %s\n", log.Disposition)
	if log.Meeting != nil {
		fmt.Fprintf(&b, "A meeting is booked for %s. Agenda: %s\n",
			log.Meeting.StartTime.Format("Monday, January 2 at 3:04 PM MST"), log.Meeting.Agenda)
	}
	b.WriteString("Sign off as the OmniTech sales team. Return only the email body.")
	return b.String()
}

// CallScriptPrompt builds the drafting prompt for a pre-call script.
func CallScriptPrompt(prospect crm.Prospect) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft a brief cold-call opening script for a call to %s, %s at %s.\n", prospect.Contact, prospect.Title, prospect.Company)
	fmt.Fprintf(&b, "Pipeline status: %s\n", prospect.Status)
	if prospect.LastContacted != nil {
		fmt.Fprintf(&b, "Last contacted: %s\n", prospect.LastContacted.Format("January 2, 2006"))
	}
	b.WriteString("Include one open qualifying question. Return only the script.")
	return b.String()
}

// FollowUpEmail drafts an email referencing the given call.
func (c *Composer) FollowUpEmail(ctx context.Context, prospect crm.Prospect, log crm.CallLog) (string, error) {
	return c.generate(ctx, FollowUpEmailPrompt(prospect, log))
}

// CallScript drafts an opening script for the next call to the prospect.
func (c *Composer) CallScript(ctx context.Context, prospect crm.Prospect) (string, error) {
	return c.generate(ctx, CallScriptPrompt(prospect))
}

func (c *Composer) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("model returned no text")
	}
	return strings.TrimSpace(text), nil
}
