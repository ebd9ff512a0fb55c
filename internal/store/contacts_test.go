package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-orchestrator/internal/domain"
)

func TestContactsByIDs(t *testing.T) {
	s, mock := newMockStore(t)

	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, first_name, last_name, status, tags")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "status", "tags"}).
			AddRow(id, "ada@example.com", "Ada", "Lovelace", "active", "{newsletter,beta}"))

	got, err := s.Contacts.ByIDs(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "ada@example.com", got[0].Email)
	assert.Equal(t, domain.ContactStatusActive, got[0].Status)
	assert.Equal(t, []string{"newsletter", "beta"}, got[0].Tags)
}

func TestContactsByIDsEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	got, err := s.Contacts.ByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContactsActiveIDsFiltersStatus(t *testing.T) {
	s, mock := newMockStore(t)

	active, unsubscribed := uuid.New(), uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("status = 'active'")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(active))

	got, err := s.Contacts.ActiveIDs(context.Background(), []uuid.UUID{active, unsubscribed})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{active}, got)
}

func TestContactsActiveIDsInListAppliesLimit(t *testing.T) {
	s, mock := newMockStore(t)

	listID := uuid.New()
	member := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $2")).
		WithArgs(listID, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(member))

	got, err := s.Contacts.ActiveIDsInList(context.Background(), listID, 100)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{member}, got)
}

func TestContactsActiveIDsInListNoLimit(t *testing.T) {
	s, mock := newMockStore(t)

	listID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY m.added_at, c.id")).
		WithArgs(listID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := s.Contacts.ActiveIDsInList(context.Background(), listID, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContactsActiveIDsByTags(t *testing.T) {
	s, mock := newMockStore(t)

	tagged := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("tags && $1")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(tagged))

	got, err := s.Contacts.ActiveIDsByTags(context.Background(), []string{"newsletter"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{tagged}, got)
}

func TestContactsActiveIDsByTagsEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	got, err := s.Contacts.ActiveIDsByTags(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}
