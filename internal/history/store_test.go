package history

import (
	"context"
	"log/slog"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, slog.Default()), mock
}

type storedRow struct {
	id        int64
	uuid      string
	sender    string
	recipient string
	delivered bool
	flags     string
}

func rowsOf(stored ...storedRow) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"message_id", "message_uuid", "gamespace_id", "message_sender",
		"message_recipient_class", "message_recipient", "message_time",
		"message_type", "message_payload", "message_delivered", "message_flags",
	})
	for _, r := range stored {
		rows.AddRow(r.id, r.uuid, "gs1", r.sender, "user", r.recipient,
			time.Now().UTC(), "chat", []byte(`{"text":"hi"}`), r.delivered, r.flags)
	}
	return rows
}

func TestAddMessageRequiresPayload(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.AddMessage(context.Background(), &model.Message{
		MessageUUID: "m-1", GamespaceID: "gs1", Sender: "alice",
		RecipientClass: "user", Recipient: "bob", MessageType: "chat",
		Time: time.Now(), Flags: model.DeliveryFlags{},
	})
	assert.Equal(t, model.KindBadInput, model.KindOf(err))
}

func TestAddMessageDuplicateUUID(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO `messages`").
		WillReturnError(&mysql.MySQLError{Number: 1062})

	_, err := s.AddMessage(context.Background(), &model.Message{
		MessageUUID: "m-1", GamespaceID: "gs1", Sender: "alice",
		RecipientClass: "user", Recipient: "bob", MessageType: "chat",
		Payload: map[string]any{}, Time: time.Now(), Flags: model.DeliveryFlags{},
	})
	assert.Equal(t, model.KindAlreadyExists, model.KindOf(err))
}

func TestAddMessageAssignsID(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO `messages`").
		WillReturnResult(sqlmock.NewResult(55, 1))

	m := &model.Message{
		MessageUUID: "m-1", GamespaceID: "gs1", Sender: "alice",
		RecipientClass: "user", Recipient: "bob", MessageType: "chat",
		Payload: map[string]any{"text": "hi"}, Time: time.Now(),
		Flags: model.ParseFlags([]string{"remove_delivered"}),
	}
	id, err := s.AddMessage(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, int64(55), id)
	assert.Equal(t, int64(55), m.MessageID)
}

func TestReadIncomingMessagesDrain(t *testing.T) {
	s, mock := newTestStore(t)

	// Three undelivered rows: one acked plain, one acked remove_delivered,
	// one rejected by the receiver.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FOR UPDATE").
		WithArgs("user", "bob", "gs1").
		WillReturnRows(rowsOf(
			storedRow{id: 3, uuid: "m-3", sender: "alice", recipient: "bob"},
			storedRow{id: 2, uuid: "m-2", sender: "alice", recipient: "bob", flags: "remove_delivered"},
			storedRow{id: 1, uuid: "m-1", sender: "alice", recipient: "bob"},
		))
	mock.ExpectExec("UPDATE `messages` SET `message_delivered`=1").
		WithArgs("gs1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM `messages`").
		WithArgs("gs1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var seen []string
	err := s.ReadIncomingMessages(context.Background(), "gs1", model.UserRecipient("bob"),
		func(m *model.Message) bool {
			seen = append(seen, m.MessageUUID)
			return m.MessageUUID != "m-1"
		})
	require.NoError(t, err)

	// Drain order follows the query: newest first.
	assert.Equal(t, []string{"m-3", "m-2", "m-1"}, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadIncomingMessagesEmptyStream(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FOR UPDATE").
		WillReturnRows(rowsOf())
	mock.ExpectCommit()

	called := false
	err := s.ReadIncomingMessages(context.Background(), "gs1", model.UserRecipient("bob"),
		func(*model.Message) bool { called = true; return true })
	require.NoError(t, err)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListMessagesAccountRejectsBadPaging(t *testing.T) {
	s, _ := newTestStore(t)

	_, _, err := s.ListMessagesAccount(context.Background(), "gs1", "bob", 0, 0)
	assert.Equal(t, model.KindBadInput, model.KindOf(err))

	_, _, err = s.ListMessagesAccount(context.Background(), "gs1", "bob", 100, 20000)
	assert.Equal(t, model.KindBadInput, model.KindOf(err))
}

func TestListMessagesAccountCountsOnSameConnection(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT SQL_CALC_FOUND_ROWS").
		WillReturnRows(rowsOf(storedRow{id: 9, uuid: "m-9", sender: "alice", recipient: "bob"}))
	mock.ExpectQuery("SELECT FOUND_ROWS").
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(123))
	mock.ExpectCommit()

	messages, total, err := s.ListMessagesAccount(context.Background(), "gs1", "bob", 10, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
	assert.Equal(t, 123, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryBuilderComposesFilters(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) `message_sender`=\\? AND `message_recipient` LIKE \\? AND `message_delivered`=\\?").
		WithArgs("gs1", "alice", "11-%", false, 0, 20).
		WillReturnRows(rowsOf(storedRow{id: 1, uuid: "m-1", sender: "alice", recipient: "11-0"}))
	mock.ExpectCommit()

	messages, _, err := s.Query("gs1").
		WithSender("alice").
		WithRecipient("11-%").
		WithDelivered(false).
		WithLimit(20).
		Do(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
