// Package history is the persistent message store: durable rows, read
// watermarks, and the transactional deliver-or-persist drain the
// conversation endpoint runs on attach.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

// Enqueuer is the slice of the queue engine the store needs: after an
// authoritative storage change it enqueues the matching live mutation so
// online sessions observe it. Wired after construction to break the
// store<->engine cycle.
type Enqueuer interface {
	QueueUpdated(ctx context.Context, gamespaceID, sender string, rcpt model.Recipient, messageUUID string, payload map[string]any) bool
	QueueDeleted(ctx context.Context, gamespaceID, sender string, rcpt model.Recipient, messageUUID string) bool
}

// Receiver consumes one undelivered row during a drain and reports whether
// the recipient acknowledged it.
type Receiver func(*model.Message) bool

// Store implements the history contract on MySQL. Concurrency is delegated
// to the relational engine: row-level FOR UPDATE inside short transactions,
// no cross-transaction locks.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	queue  Enqueuer
}

func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// BindQueue attaches the queue engine once both sides exist.
func (s *Store) BindQueue(queue Enqueuer) { s.queue = queue }

const messageColumns = "`message_id`, `message_uuid`, `gamespace_id`, `message_sender`, " +
	"`message_recipient_class`, `message_recipient`, `message_time`, `message_type`, " +
	"`message_payload`, `message_delivered`, `message_flags`"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m       model.Message
		payload []byte
		flags   string
	)
	err := row.Scan(
		&m.MessageID, &m.MessageUUID, &m.GamespaceID, &m.Sender,
		&m.RecipientClass, &m.Recipient, &m.Time, &m.MessageType,
		&payload, &m.Delivered, &flags,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m.Payload); err != nil {
			return nil, err
		}
	}
	m.Flags = model.FlagsFromColumn(flags)
	return &m, nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// AddMessage inserts one history row and returns its storage-assigned id.
func (s *Store) AddMessage(ctx context.Context, m *model.Message) (int64, error) {
	if m.Payload == nil {
		return 0, model.NewError(model.KindBadInput, "payload should be an object")
	}

	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return 0, model.WrapError(model.KindBadInput, err, "payload is not serializable")
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO `messages` (`gamespace_id`, `message_uuid`, `message_recipient_class`, "+
			"`message_sender`, `message_recipient`, `message_time`, `message_type`, "+
			"`message_payload`, `message_delivered`, `message_flags`) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		m.GamespaceID, m.MessageUUID, m.RecipientClass, m.Sender, m.Recipient,
		m.Time.UTC(), m.MessageType, payload, m.Delivered, m.Flags.Dump(),
	)
	if err != nil {
		if isDuplicate(err) {
			return 0, model.WrapError(model.KindAlreadyExists, err, "message uuid already exists")
		}
		return 0, model.WrapError(model.KindStorage, err, "failed to add message")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, model.WrapError(model.KindStorage, err, "failed to add message")
	}
	m.MessageID = id
	return id, nil
}

// GetMessageUUID fetches a message by its external identity.
func (s *Store) GetMessageUUID(ctx context.Context, gamespaceID, messageUUID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM `messages` "+
			"WHERE `message_uuid`=? AND `gamespace_id`=? LIMIT 1",
		messageUUID, gamespaceID,
	)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewError(model.KindNotFound, "no such message")
	}
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to get message")
	}
	return m, nil
}

// ListIncoming returns the newest messages addressed to one recipient stream.
func (s *Store) ListIncoming(ctx context.Context, gamespaceID string, rcpt model.Recipient, limit int) ([]*model.Message, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM `messages` "+
			"WHERE `message_recipient_class`=? AND `message_recipient`=? AND `gamespace_id`=? "+
			"ORDER BY `message_time` DESC LIMIT ?",
		rcpt.Class, rcpt.Key, gamespaceID, limit,
	)
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to list incoming messages")
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListMessagesAccount returns the account's message union, newest-first by
// message_id, plus the total count in a single round trip: messages to
// groups the account participates in, direct messages to the account, and
// messages the account sent.
func (s *Store) ListMessagesAccount(ctx context.Context, gamespaceID, accountID string, limit, offset int) ([]*model.Message, int, error) {
	if limit < 1 || limit > 10000 || offset < 0 || offset > 10000 {
		return nil, 0, model.NewError(model.KindBadInput, "bad limit/offset")
	}

	// FOUND_ROWS() must observe the union query, so both statements run on
	// one connection.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, model.WrapError(model.KindStorage, err, "failed to list account messages")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT SQL_CALC_FOUND_ROWS "+messageColumns+" FROM `messages` "+
			"WHERE `messages`.`gamespace_id`=? "+
			"AND (`messages`.`message_recipient_class`, `messages`.`message_recipient`) IN ("+
			"  SELECT `g`.`group_class`, "+
			"    IF(`g`.`group_clustered`, CONCAT(`g`.`group_id`, '-', `p`.`cluster_id`), `g`.`group_id`) "+
			"  FROM `groups` AS `g` "+
			"  INNER JOIN `group_participants` AS `p` ON `g`.`group_id`=`p`.`group_id` "+
			"  WHERE `p`.`participation_account`=? AND `g`.`gamespace_id`=?"+
			") "+
			"UNION DISTINCT ("+
			"  SELECT "+messageColumns+" FROM `messages` "+
			"  WHERE `gamespace_id`=? AND `message_recipient_class`=? AND `message_recipient`=?"+
			") "+
			"UNION DISTINCT ("+
			"  SELECT "+messageColumns+" FROM `messages` "+
			"  WHERE `gamespace_id`=? AND `message_sender`=?"+
			") "+
			"ORDER BY `message_id` DESC LIMIT ?, ?",
		gamespaceID, accountID, gamespaceID,
		gamespaceID, model.ClassUser, accountID,
		gamespaceID, accountID,
		offset, limit,
	)
	if err != nil {
		return nil, 0, model.WrapError(model.KindStorage, err, "failed to list account messages")
	}
	messages, err := collectMessages(rows)
	rows.Close()
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT FOUND_ROWS()").Scan(&total); err != nil {
		return nil, 0, model.WrapError(model.KindStorage, err, "failed to count account messages")
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, model.WrapError(model.KindStorage, err, "failed to list account messages")
	}
	return messages, total, nil
}

// ReadIncomingMessages is the transactional drain. Undelivered rows of the
// recipient stream are locked, handed to the receiver one by one, and the
// acknowledged ones either promoted to delivered or purged when flagged
// remove_delivered. Anything failing rolls the whole batch back.
func (s *Store) ReadIncomingMessages(ctx context.Context, gamespaceID string, rcpt model.Recipient, receiver Receiver) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapError(model.KindStorage, err, "failed to read incoming messages")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM `messages` "+
			"WHERE `message_recipient_class`=? AND `message_recipient`=? "+
			"AND `gamespace_id`=? AND `message_delivered`=0 "+
			"ORDER BY `message_time` DESC "+
			"FOR UPDATE",
		rcpt.Class, rcpt.Key, gamespaceID,
	)
	if err != nil {
		return model.WrapError(model.KindStorage, err, "failed to read incoming messages")
	}
	pending, err := collectMessages(rows)
	rows.Close()
	if err != nil {
		return err
	}

	var markDelivered, remove []int64
	for _, m := range pending {
		if !receiver(m) {
			continue
		}
		if m.Flags.Has(model.FlagRemoveDelivered) {
			remove = append(remove, m.MessageID)
		} else {
			markDelivered = append(markDelivered, m.MessageID)
		}
	}

	if len(markDelivered) > 0 {
		query, args := inClause(
			"UPDATE `messages` SET `message_delivered`=1 WHERE `gamespace_id`=? AND `message_id` IN ",
			gamespaceID, markDelivered)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return model.WrapError(model.KindStorage, err, "failed to mark messages delivered")
		}
	}

	if len(remove) > 0 {
		query, args := inClause(
			"DELETE FROM `messages` WHERE `gamespace_id`=? AND `message_id` IN ",
			gamespaceID, remove)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return model.WrapError(model.KindStorage, err, "failed to remove delivered messages")
		}
	}

	if err := tx.Commit(); err != nil {
		return model.WrapError(model.KindStorage, err, "failed to read incoming messages")
	}
	return nil
}

// DeleteMessages purges every row of one recipient stream. Used when a
// group (or one of its clusters) is removed.
func (s *Store) DeleteMessages(ctx context.Context, gamespaceID string, rcpt model.Recipient) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM `messages` "+
			"WHERE `message_recipient_class`=? AND `message_recipient`=? AND `gamespace_id`=?",
		rcpt.Class, rcpt.Key, gamespaceID,
	)
	if err != nil {
		return model.WrapError(model.KindStorage, err, "failed to delete messages")
	}
	return nil
}

// ListReadMessages returns every read watermark of one account.
func (s *Store) ListReadMessages(ctx context.Context, gamespaceID, accountID string) ([]*model.LastReadMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT `gamespace_id`, `account_id`, `message_recipient_class`, `message_recipient`, "+
			"`last_message_time`, `last_message_uuid` "+
			"FROM `last_read_message` WHERE `gamespace_id`=? AND `account_id`=?",
		gamespaceID, accountID,
	)
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to list read messages")
	}
	defer rows.Close()

	var out []*model.LastReadMessage
	for rows.Next() {
		var lr model.LastReadMessage
		if err := rows.Scan(&lr.GamespaceID, &lr.AccountID, &lr.RecipientClass,
			&lr.Recipient, &lr.LastMessageTime, &lr.LastMessageUUID); err != nil {
			return nil, model.WrapError(model.KindStorage, err, "failed to list read messages")
		}
		out = append(out, &lr)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to list read messages")
	}
	return out, nil
}

func collectMessages(rows *sql.Rows) ([]*model.Message, error) {
	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, model.WrapError(model.KindStorage, err, "failed to scan message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to iterate messages")
	}
	return out, nil
}

// inClause expands "prefix (?, ?, ...)" with the leading arg and ids.
func inClause(prefix, lead string, ids []int64) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, lead)
	for _, id := range ids {
		args = append(args, id)
	}
	return prefix + "(" + placeholders + ")", args
}
