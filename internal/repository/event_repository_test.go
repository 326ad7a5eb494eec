package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/referral-portal-api/internal/models"
)

func newEventRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEventRepositoryAppendAssignsDefaults(t *testing.T) {
	db, mock, cleanup := newEventRepoMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO document_events")).
		WithArgs(sqlmock.AnyArg(), "doc-1", "REQUEST_VALIDATION", "u2", "Lena", "ACTIVE", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(7)))

	event := &models.Event{
		DocumentID: "doc-1",
		Verb:       models.VerbRequestValidation,
		ActorID:    "u2",
		ActorName:  "Lena",
		Payload: models.EventPayload{ValidationRequest: &models.ValidationRequestPayload{
			RequestID:    "req-1",
			ReceiverUnit: "UnitA",
			ReceiverRole: models.UnitRoleOwner,
		}},
	}
	require.NoError(t, repo.Append(context.Background(), event))
	require.NotEmpty(t, event.ID)
	require.Equal(t, models.EventStateActive, event.State)
	require.Equal(t, int64(7), event.Seq)
	require.False(t, event.RecordedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryListByDocumentOrdered(t *testing.T) {
	db, mock, cleanup := newEventRepoMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "document_id", "seq", "verb", "actor_id", "actor_name", "state", "payload", "recorded_at"}).
		AddRow("ev-1", "doc-1", int64(1), "VERSION_ADDED", "u1", "Omar", "ACTIVE", `{"upload":{"file_name":"report.pdf","file_size":1024}}`, now).
		AddRow("ev-2", "doc-1", int64(2), "REQUEST_VALIDATION", "u2", "Lena", "ACTIVE", `{"validation_request":{"request_id":"req-1","receiver_unit":"UnitA","receiver_role":"OWNER"}}`, now.Add(time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta("FROM document_events WHERE document_id = $1 ORDER BY seq ASC")).
		WithArgs("doc-1").
		WillReturnRows(rows)

	events, err := repo.ListByDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, models.VerbVersionAdded, events[0].Verb)
	require.NotNil(t, events[0].Payload.Upload)
	require.Equal(t, "report.pdf", events[0].Payload.Upload.FileName)
	require.NotNil(t, events[1].Payload.ValidationRequest)
	require.Equal(t, models.UnitRoleOwner, events[1].Payload.ValidationRequest.ReceiverRole)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryListByDocumentsGroups(t *testing.T) {
	db, mock, cleanup := newEventRepoMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "document_id", "seq", "verb", "actor_id", "actor_name", "state", "payload", "recorded_at"}).
		AddRow("ev-1", "doc-1", int64(1), "VERSION_ADDED", "u1", "Omar", "ACTIVE", `{}`, now).
		AddRow("ev-2", "doc-2", int64(1), "VERSION_ADDED", "u1", "Omar", "ACTIVE", `{}`, now)
	mock.ExpectQuery("FROM document_events WHERE document_id IN").
		WithArgs("doc-1", "doc-2").
		WillReturnRows(rows)

	grouped, err := repo.ListByDocuments(context.Background(), []string{"doc-1", "doc-2"})
	require.NoError(t, err)
	require.Len(t, grouped, 2)
	require.Len(t, grouped["doc-1"], 1)
	require.Len(t, grouped["doc-2"], 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryListByDocumentsEmpty(t *testing.T) {
	db, _, cleanup := newEventRepoMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	grouped, err := repo.ListByDocuments(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, grouped)
}
