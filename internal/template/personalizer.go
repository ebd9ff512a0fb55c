package template

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ignite/campaign-orchestrator/internal/domain"
)

// Personalizer turns a campaign plus a contact into a ready-to-send message.
// It renders the subject and body templates with the contact's fields, adds
// the unsubscribe footer, and sets correlation and deliverability headers.
type Personalizer struct {
	engine  *Engine
	baseURL string
}

// NewPersonalizer creates a personalizer. baseURL is the public URL used to
// build unsubscribe links, e.g. "https://mail.example.com".
func NewPersonalizer(engine *Engine, baseURL string) *Personalizer {
	return &Personalizer{engine: engine, baseURL: strings.TrimRight(baseURL, "/")}
}

// Build renders the campaign content for one contact.
func (p *Personalizer) Build(campaign *domain.Campaign, contact *domain.Contact) (*domain.EmailMessage, error) {
	ctx := contactContext(contact)
	unsubURL := p.unsubscribeURL(campaign, contact)
	ctx["unsubscribe_url"] = unsubURL

	key := campaign.ID.String() + ":" + campaign.UpdatedAt.UTC().Format("20060102150405")

	subject, err := p.engine.Render(key+":subject", campaign.Subject, ctx)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}

	htmlBody, err := p.engine.Render(key+":html", campaign.HTMLContent, ctx)
	if err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}
	htmlBody = appendUnsubscribeFooter(htmlBody, unsubURL)

	textBody := ""
	if campaign.PlainContent != "" {
		textBody, err = p.engine.Render(key+":text", campaign.PlainContent, ctx)
		if err != nil {
			return nil, fmt.Errorf("render text body: %w", err)
		}
		textBody += "\n\nUnsubscribe: " + unsubURL + "\n"
	}

	return &domain.EmailMessage{
		CampaignID:  campaign.ID,
		ContactID:   contact.ID,
		Email:       contact.Email,
		FromName:    campaign.FromName,
		FromEmail:   campaign.FromEmail,
		ReplyTo:     campaign.ReplyTo,
		Subject:     subject,
		HTMLContent: htmlBody,
		TextContent: textBody,
		Headers: map[string]string{
			"X-Campaign-ID":         campaign.ID.String(),
			"X-Contact-ID":          contact.ID.String(),
			"List-Unsubscribe":      "<" + unsubURL + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		},
	}, nil
}

// Validate parses the campaign's templates without rendering. Called before
// a send starts so broken templates fail the whole campaign up front rather
// than per contact.
func (p *Personalizer) Validate(campaign *domain.Campaign) error {
	if err := p.engine.Parse(campaign.Subject); err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	if err := p.engine.Parse(campaign.HTMLContent); err != nil {
		return fmt.Errorf("html content: %w", err)
	}
	if campaign.PlainContent != "" {
		if err := p.engine.Parse(campaign.PlainContent); err != nil {
			return fmt.Errorf("plain content: %w", err)
		}
	}
	return nil
}

func (p *Personalizer) unsubscribeURL(campaign *domain.Campaign, contact *domain.Contact) string {
	return fmt.Sprintf("%s/unsubscribe?c=%s&u=%s&e=%s",
		p.baseURL, campaign.ID, contact.ID, url.QueryEscape(contact.Email))
}

func contactContext(c *domain.Contact) map[string]interface{} {
	return map[string]interface{}{
		"email":      c.Email,
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"full_name":  strings.TrimSpace(c.FirstName + " " + c.LastName),
		"tags":       c.Tags,
	}
}

func appendUnsubscribeFooter(htmlBody, unsubURL string) string {
	footer := fmt.Sprintf(
		`<div style="font-size:12px;color:#888;margin-top:24px;text-align:center">`+
			`<a href="%s" style="color:#888">Unsubscribe</a></div>`, unsubURL)

	// Keep the footer inside <body> when the content is a full document.
	if idx := strings.LastIndex(strings.ToLower(htmlBody), "</body>"); idx >= 0 {
		return htmlBody[:idx] + footer + htmlBody[idx:]
	}
	return htmlBody + footer
}
