package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-orchestrator/internal/domain"
	"github.com/ignite/campaign-orchestrator/internal/provider"
)

// ---- in-memory fakes ----

type memCampaigns struct {
	mu sync.Mutex
	c  *domain.Campaign
}

func (m *memCampaigns) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.c
	return &cp, nil
}

func (m *memCampaigns) GetStatus(_ context.Context, id uuid.UUID) (domain.CampaignStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c.Status, nil
}

func (m *memCampaigns) TransitionStatus(_ context.Context, id uuid.UUID, to domain.CampaignStatus, allowedFrom ...domain.CampaignStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, from := range allowedFrom {
		if m.c.Status == from {
			m.c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memCampaigns) MarkStarted(_ context.Context, id uuid.UUID, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Progress.TotalRecipients = total
	if m.c.StartedAt == nil {
		now := time.Now()
		m.c.StartedAt = &now
	}
	return nil
}

func (m *memCampaigns) UpdateProgress(_ context.Context, id uuid.UUID, p domain.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.TotalRecipients = m.c.Progress.TotalRecipients
	m.c.Progress = p
	return nil
}

func (m *memCampaigns) MarkCompleted(_ context.Context, id uuid.UUID, sent, failed int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c.Status != domain.CampaignStatusSending {
		return false, nil
	}
	m.c.Status = domain.CampaignStatusSent
	m.c.Stats.Sent = sent
	m.c.Stats.Bounced = failed
	now := time.Now()
	m.c.CompletedAt = &now
	return true, nil
}

type memLedger struct {
	mu      sync.Mutex
	order   []uuid.UUID
	records map[uuid.UUID]*domain.SendRecord
}

func newMemLedger() *memLedger {
	return &memLedger{records: make(map[uuid.UUID]*domain.SendRecord)}
}

func (m *memLedger) Reserve(_ context.Context, campaignID uuid.UUID, contactIDs []uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newly []uuid.UUID
	for _, id := range contactIDs {
		if _, exists := m.records[id]; exists {
			continue
		}
		m.records[id] = &domain.SendRecord{CampaignID: campaignID, ContactID: id, Status: domain.SendPending}
		m.order = append(m.order, id)
		newly = append(newly, id)
	}
	return newly, nil
}

func (m *memLedger) FinalizeBatch(_ context.Context, campaignID uuid.UUID, outcomes []domain.SendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range outcomes {
		rec, ok := m.records[o.ContactID]
		if !ok || rec.Status != domain.SendPending {
			continue
		}
		rec.Status = o.Status
		rec.ProviderMessageID = o.ProviderMessageID
		rec.ErrorMessage = o.ErrorMessage
	}
	return nil
}

func (m *memLedger) Counts(_ context.Context, campaignID uuid.UUID) (domain.LedgerCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c domain.LedgerCounts
	for _, rec := range m.records {
		switch rec.Status {
		case domain.SendPending:
			c.Pending++
		case domain.SendSent:
			c.Sent++
		case domain.SendFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (m *memLedger) PendingContactIDs(_ context.Context, campaignID uuid.UUID, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for _, id := range m.order {
		if m.records[id].Status == domain.SendPending {
			out = append(out, id)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memLedger) AttemptedContactIDs(_ context.Context, campaignID uuid.UUID) (map[uuid.UUID]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]bool, len(m.records))
	for id := range m.records {
		out[id] = true
	}
	return out, nil
}

type memContacts struct {
	contacts []domain.Contact
	lists    map[uuid.UUID][]uuid.UUID
}

func (m *memContacts) find(id uuid.UUID) *domain.Contact {
	for i := range m.contacts {
		if m.contacts[i].ID == id {
			return &m.contacts[i]
		}
	}
	return nil
}

func (m *memContacts) ActiveIDs(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, id := range ids {
		if c := m.find(id); c != nil && c.IsActive() {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memContacts) ActiveIDsInList(_ context.Context, listID uuid.UUID, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, id := range m.lists[listID] {
		if c := m.find(id); c != nil && c.IsActive() {
			out = append(out, id)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memContacts) ActiveIDsByTags(_ context.Context, tags []string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for i := range m.contacts {
		if !m.contacts[i].IsActive() {
			continue
		}
		for _, want := range tags {
			matched := false
			for _, have := range m.contacts[i].Tags {
				if have == want {
					out = append(out, m.contacts[i].ID)
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
	}
	return out, nil
}

func (m *memContacts) ByIDs(_ context.Context, ids []uuid.UUID) ([]domain.Contact, error) {
	var out []domain.Contact
	for _, id := range ids {
		if c := m.find(id); c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

// fakeSender records every successful delivery and can fail specific
// contacts with configured errors.
type fakeSender struct {
	mu       sync.Mutex
	sends    map[uuid.UUID]int
	attempts map[uuid.UUID]int
	failWith map[uuid.UUID]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		sends:    make(map[uuid.UUID]int),
		attempts: make(map[uuid.UUID]int),
		failWith: make(map[uuid.UUID]error),
	}
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(_ context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[msg.ContactID]++
	if err, ok := f.failWith[msg.ContactID]; ok {
		return nil, err
	}
	f.sends[msg.ContactID]++
	return &domain.SendResult{MessageID: "m-" + msg.ContactID.String()[:8], Provider: "fake", SentAt: time.Now()}, nil
}

func (f *fakeSender) setFailure(id uuid.UUID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failWith, id)
	} else {
		f.failWith[id] = err
	}
}

type stubBuilder struct{}

func (stubBuilder) Build(c *domain.Campaign, ct *domain.Contact) (*domain.EmailMessage, error) {
	return &domain.EmailMessage{
		CampaignID: c.ID, ContactID: ct.ID, Email: ct.Email,
		Subject: c.Subject, HTMLContent: c.HTMLContent,
	}, nil
}

// ---- fixture ----

type fixture struct {
	orch      *Orchestrator
	campaigns *memCampaigns
	contacts  *memContacts
	ledger    *memLedger
	sender    *fakeSender
}

func newFixture(t *testing.T, contactCount int, cfg Config) *fixture {
	t.Helper()

	listID := uuid.New()
	contacts := &memContacts{lists: map[uuid.UUID][]uuid.UUID{}}
	for i := 0; i < contactCount; i++ {
		c := domain.Contact{
			ID:     uuid.New(),
			Email:  fmt.Sprintf("contact%d@example.com", i),
			Status: domain.ContactStatusActive,
		}
		contacts.contacts = append(contacts.contacts, c)
		contacts.lists[listID] = append(contacts.lists[listID], c.ID)
	}

	campaigns := &memCampaigns{c: &domain.Campaign{
		ID:          uuid.New(),
		Name:        "Test Campaign",
		Subject:     "Hello",
		FromEmail:   "news@acme.com",
		HTMLContent: "<p>Hi</p>",
		Status:      domain.CampaignStatusSending,
		Targeting:   domain.Targeting{ListIDs: []uuid.UUID{listID}},
	}}

	ledger := newMemLedger()
	sender := newFakeSender()
	pacer := NewPacer(1000, 2)
	dispatcher := NewDispatcher(contacts, stubBuilder{}, sender, pacer, nil, 2)

	return &fixture{
		orch:      New(campaigns, contacts, ledger, dispatcher, nil, cfg),
		campaigns: campaigns,
		contacts:  contacts,
		ledger:    ledger,
		sender:    sender,
	}
}

func (f *fixture) campaignID() uuid.UUID { return f.campaigns.c.ID }

// ---- tests ----

func TestRunThreeContactsBatchOfTwo(t *testing.T) {
	f := newFixture(t, 3, Config{BatchSize: 2, BatchesPerRun: 10})

	outcome, err := f.orch.Run(context.Background(), f.campaignID())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	for _, c := range f.contacts.contacts {
		assert.Equal(t, 1, f.sender.sends[c.ID], "contact %s", c.Email)
	}

	assert.Equal(t, domain.CampaignStatusSent, f.campaigns.c.Status)
	assert.Equal(t, 3, f.campaigns.c.Stats.Sent)
	assert.Equal(t, 3, f.campaigns.c.Progress.Processed)
	assert.Equal(t, 100, f.campaigns.c.Progress.Percentage)
	assert.NotNil(t, f.campaigns.c.CompletedAt)
}

func TestRunNoDoubleSendAcrossInvocations(t *testing.T) {
	f := newFixture(t, 5, Config{BatchSize: 2, BatchesPerRun: 1})

	outcome, err := f.orch.Run(context.Background(), f.campaignID())
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinuing, outcome)

	// Re-invoke until done, as the step host would.
	for i := 0; i < 10 && outcome != OutcomeCompleted; i++ {
		outcome, err = f.orch.Run(context.Background(), f.campaignID())
		require.NoError(t, err)
	}
	require.Equal(t, OutcomeCompleted, outcome)

	for _, c := range f.contacts.contacts {
		assert.Equal(t, 1, f.sender.sends[c.ID], "contact %s sent more than once", c.Email)
	}
}

func TestRunRateLimitAbortsThenResumes(t *testing.T) {
	f := newFixture(t, 4, Config{BatchSize: 4, BatchesPerRun: 10})

	limited := f.contacts.contacts[2].ID
	f.sender.setFailure(limited, &provider.RateLimitError{Provider: "fake", RetryAfter: 30 * time.Second})

	outcome, err := f.orch.Run(context.Background(), f.campaignID())
	require.Error(t, err)
	assert.Equal(t, OutcomeContinuing, outcome)
	assert.True(t, provider.IsRateLimit(err))
	assert.Equal(t, 30*time.Second, provider.RetryAfter(err))

	// The rate-limited contact keeps its reservation.
	counts, _ := f.ledger.Counts(context.Background(), f.campaignID())
	assert.Greater(t, counts.Pending, 0)

	// Provider recovers; the next invocation drains the pending rows.
	f.sender.setFailure(limited, nil)
	outcome, err = f.orch.Run(context.Background(), f.campaignID())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	for _, c := range f.contacts.contacts {
		assert.Equal(t, 1, f.sender.sends[c.ID], "contact %s", c.Email)
	}
}

func TestRunPermanentFailureRecordsFailed(t *testing.T) {
	f := newFixture(t, 3, Config{BatchSize: 10, BatchesPerRun: 10})

	bad := f.contacts.contacts[1].ID
	f.sender.setFailure(bad, &provider.SendError{Provider: "fake", Code: "7001", Message: "invalid recipient"})

	outcome, err := f.orch.Run(context.Background(), f.campaignID())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	counts, _ := f.ledger.Counts(context.Background(), f.campaignID())
	assert.Equal(t, domain.LedgerCounts{Sent: 2, Failed: 1}, counts)

	assert.Equal(t, 2, f.campaigns.c.Stats.Sent)
	assert.Equal(t, 1, f.campaigns.c.Stats.Bounced)
	assert.Equal(t, domain.CampaignStatusSent, f.campaigns.c.Status)

	// The failed contact is never retried.
	assert.Equal(t, 1, f.sender.attempts[bad])
}

func TestRunFailedContactNotRetriedOnResume(t *testing.T) {
	f := newFixture(t, 4, Config{BatchSize: 2, BatchesPerRun: 1})

	bad := f.contacts.contacts[0].ID
	f.sender.setFailure(bad, &provider.SendError{Provider: "fake", Code: "7001", Message: "invalid recipient"})

	outcome, err := f.orch.Run(context.Background(), f.campaignID())
	require.NoError(t, err)
	require.Equal(t, OutcomeContinuing, outcome)

	// Even if the provider would now accept the contact, the terminal
	// ledger entry keeps it out of later batches.
	f.sender.setFailure(bad, nil)
	for i := 0; i < 10 && outcome != OutcomeCompleted; i++ {
		outcome, err = f.orch.Run(context.Background(), f.campaignID())
		require.NoError(t, err)
	}
	require.Equal(t, OutcomeCompleted, outcome)

	assert.Equal(t, 1, f.sender.attempts[bad])
	assert.Equal(t, 0, f.sender.sends[bad])
}

func TestRunEmptyAudienceReturnsToDraft(t *testing.T) {
	f := newFixture(t, 0, Config{BatchSize: 10, BatchesPerRun: 10})

	outcome, err := f.orch.Run(context.Background(), f.campaignID())
	assert.Equal(t, OutcomeInvalid, outcome)
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Equal(t, domain.CampaignStatusDraft, f.campaigns.c.Status)
}

func TestRunMissingSubjectReturnsToDraft(t *testing.T) {
	f := newFixture(t, 2, Config{BatchSize: 10, BatchesPerRun: 10})
	f.campaigns.c.Subject = ""

	outcome, err := f.orch.Run(context.Background(), f.campaignID())
	assert.Equal(t, OutcomeInvalid, outcome)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "subject", ve.Field)
	assert.Equal(t, domain.CampaignStatusDraft, f.campaigns.c.Status)
	assert.Empty(t, f.sender.sends)
}

func TestRunPausedCampaignStops(t *testing.T) {
	f := newFixture(t, 3, Config{BatchSize: 10, BatchesPerRun: 10})
	f.campaigns.c.Status = domain.CampaignStatusPaused

	outcome, err := f.orch.Run(context.Background(), f.campaignID())
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, outcome)
	assert.Empty(t, f.sender.sends)
}

func TestRunReassertsSendingForDraft(t *testing.T) {
	f := newFixture(t, 2, Config{BatchSize: 10, BatchesPerRun: 10})
	// The run was enqueued but the trigger's status write never landed.
	f.campaigns.c.Status = domain.CampaignStatusDraft

	outcome, err := f.orch.Run(context.Background(), f.campaignID())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, domain.CampaignStatusSent, f.campaigns.c.Status)
	assert.Len(t, f.sender.sends, 2)
}

func TestRunUnsubscribedContactsExcluded(t *testing.T) {
	f := newFixture(t, 3, Config{BatchSize: 10, BatchesPerRun: 10})
	f.contacts.contacts[1].Status = domain.ContactStatusUnsubscribed

	outcome, err := f.orch.Run(context.Background(), f.campaignID())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	assert.Equal(t, 0, f.sender.attempts[f.contacts.contacts[1].ID])
	assert.Equal(t, 2, f.campaigns.c.Stats.Sent)
	assert.Equal(t, 2, f.campaigns.c.Progress.TotalRecipients)
}

func TestRunAppliesConfiguredAudienceCaps(t *testing.T) {
	f := newFixture(t, 4, Config{BatchSize: 10, BatchesPerRun: 10, MaxTotal: 2, MaxPerList: 2})

	outcome, err := f.orch.Run(context.Background(), f.campaignID())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	assert.Equal(t, 2, f.campaigns.c.Progress.TotalRecipients)
	assert.Len(t, f.sender.sends, 2)
}

func TestRunCampaignTargetingCapsWinOverConfigured(t *testing.T) {
	f := newFixture(t, 4, Config{BatchSize: 10, BatchesPerRun: 10, MaxTotal: 1})
	f.campaigns.c.Targeting.MaxTotal = 3
	f.campaigns.c.Targeting.MaxPerList = 3

	outcome, err := f.orch.Run(context.Background(), f.campaignID())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 3, f.campaigns.c.Progress.TotalRecipients)
}
