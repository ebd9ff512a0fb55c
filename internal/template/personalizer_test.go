package template

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-orchestrator/internal/domain"
)

func testCampaign() *domain.Campaign {
	return &domain.Campaign{
		ID:           uuid.New(),
		Name:         "Welcome Series",
		Subject:      "Welcome, {{ first_name | default: \"friend\" }}!",
		FromName:     "Acme",
		FromEmail:    "hello@acme.example",
		HTMLContent:  "<p>Hi {{ first_name }}, thanks for joining.</p>",
		PlainContent: "Hi {{ first_name }}, thanks for joining.",
		UpdatedAt:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testContact() *domain.Contact {
	return &domain.Contact{
		ID:        uuid.New(),
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Status:    domain.ContactStatusActive,
	}
}

func TestBuildRendersContactFields(t *testing.T) {
	p := NewPersonalizer(NewEngine(), "https://mail.acme.example")
	c := testCampaign()
	contact := testContact()

	msg, err := p.Build(c, contact)
	require.NoError(t, err)

	assert.Equal(t, "Welcome, Ada!", msg.Subject)
	assert.Contains(t, msg.HTMLContent, "Hi Ada, thanks for joining.")
	assert.Contains(t, msg.TextContent, "Hi Ada, thanks for joining.")
	assert.Equal(t, contact.Email, msg.Email)
	assert.Equal(t, c.FromEmail, msg.FromEmail)
}

func TestBuildSubjectDefaultFilter(t *testing.T) {
	p := NewPersonalizer(NewEngine(), "https://mail.acme.example")
	contact := testContact()
	contact.FirstName = ""

	msg, err := p.Build(testCampaign(), contact)
	require.NoError(t, err)
	assert.Equal(t, "Welcome, friend!", msg.Subject)
}

func TestBuildUnsubscribeFooterAndHeaders(t *testing.T) {
	p := NewPersonalizer(NewEngine(), "https://mail.acme.example/")
	c := testCampaign()
	contact := testContact()

	msg, err := p.Build(c, contact)
	require.NoError(t, err)

	wantURL := "https://mail.acme.example/unsubscribe?c=" + c.ID.String() +
		"&u=" + contact.ID.String() + "&e=ada%40example.com"
	assert.Contains(t, msg.HTMLContent, wantURL)
	assert.Contains(t, msg.TextContent, "Unsubscribe: "+wantURL)

	assert.Equal(t, c.ID.String(), msg.Headers["X-Campaign-ID"])
	assert.Equal(t, contact.ID.String(), msg.Headers["X-Contact-ID"])
	assert.Equal(t, "<"+wantURL+">", msg.Headers["List-Unsubscribe"])
	assert.Equal(t, "List-Unsubscribe=One-Click", msg.Headers["List-Unsubscribe-Post"])
}

func TestBuildFooterStaysInsideBody(t *testing.T) {
	p := NewPersonalizer(NewEngine(), "https://mail.acme.example")
	c := testCampaign()
	c.HTMLContent = "<html><body><p>Hello</p></body></html>"

	msg, err := p.Build(c, testContact())
	require.NoError(t, err)

	footerIdx := strings.Index(msg.HTMLContent, "Unsubscribe</a>")
	bodyCloseIdx := strings.Index(msg.HTMLContent, "</body>")
	require.Greater(t, footerIdx, 0)
	assert.Less(t, footerIdx, bodyCloseIdx)
}

func TestBuildSkipsTextWhenEmpty(t *testing.T) {
	p := NewPersonalizer(NewEngine(), "https://mail.acme.example")
	c := testCampaign()
	c.PlainContent = ""

	msg, err := p.Build(c, testContact())
	require.NoError(t, err)
	assert.Empty(t, msg.TextContent)
}

func TestValidate(t *testing.T) {
	p := NewPersonalizer(NewEngine(), "https://mail.acme.example")

	require.NoError(t, p.Validate(testCampaign()))

	broken := testCampaign()
	broken.HTMLContent = "{% if %}"
	assert.Error(t, p.Validate(broken))

	broken = testCampaign()
	broken.Subject = "{{ unclosed"
	assert.Error(t, p.Validate(broken))
}
