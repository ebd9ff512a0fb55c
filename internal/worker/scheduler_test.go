package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type stubCampaigns struct {
	due []uuid.UUID
}

func (s *stubCampaigns) DueScheduled(_ context.Context, _ time.Time, _ int) ([]uuid.UUID, error) {
	return s.due, nil
}

type stubRuns struct {
	orphaned []uuid.UUID
	enqueued []uuid.UUID
}

func (s *stubRuns) OrphanedSendingCampaigns(_ context.Context, _ int) ([]uuid.UUID, error) {
	return s.orphaned, nil
}

func (s *stubRuns) Enqueue(_ context.Context, id uuid.UUID) error {
	s.enqueued = append(s.enqueued, id)
	return nil
}

type stubTrigger struct {
	started []uuid.UUID
	failOn  map[uuid.UUID]error
}

func (s *stubTrigger) StartSend(_ context.Context, id uuid.UUID) error {
	if err, ok := s.failOn[id]; ok {
		return err
	}
	s.started = append(s.started, id)
	return nil
}

func TestScanStartsDueCampaigns(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	campaigns := &stubCampaigns{due: []uuid.UUID{a, b}}
	runs := &stubRuns{}
	trigger := &stubTrigger{}

	NewScheduler(campaigns, runs, trigger, time.Second).scan(context.Background())

	assert.Equal(t, []uuid.UUID{a, b}, trigger.started)
}

func TestScanContinuesPastTriggerFailure(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	campaigns := &stubCampaigns{due: []uuid.UUID{a, b}}
	runs := &stubRuns{}
	trigger := &stubTrigger{failOn: map[uuid.UUID]error{a: errors.New("invalid transition")}}

	NewScheduler(campaigns, runs, trigger, time.Second).scan(context.Background())

	assert.Equal(t, []uuid.UUID{b}, trigger.started)
}

func TestScanReenqueuesOrphanedCampaigns(t *testing.T) {
	orphan := uuid.New()
	campaigns := &stubCampaigns{}
	runs := &stubRuns{orphaned: []uuid.UUID{orphan}}
	trigger := &stubTrigger{}

	NewScheduler(campaigns, runs, trigger, time.Second).scan(context.Background())

	assert.Equal(t, []uuid.UUID{orphan}, runs.enqueued)
	assert.Empty(t, trigger.started)
}
