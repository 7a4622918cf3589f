package history

import (
	"context"

	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

// Query is the filtered message listing used by the HTTP surface.
// Filters compose with AND; recipient matches with LIKE so callers can
// sweep every cluster of a group with "<group_id>-%".
type Query struct {
	store       *Store
	gamespaceID string

	sender         string
	recipientClass string
	recipient      string
	messageType    string
	delivered      *bool

	offset int
	limit  int
}

// Query starts a builder scoped to one gamespace.
func (s *Store) Query(gamespaceID string) *Query {
	return &Query{store: s, gamespaceID: gamespaceID}
}

func (q *Query) WithSender(sender string) *Query {
	q.sender = sender
	return q
}

func (q *Query) WithRecipientClass(class string) *Query {
	q.recipientClass = class
	return q
}

// WithRecipient accepts a LIKE pattern.
func (q *Query) WithRecipient(pattern string) *Query {
	q.recipient = pattern
	return q
}

func (q *Query) WithType(messageType string) *Query {
	q.messageType = messageType
	return q
}

func (q *Query) WithDelivered(delivered bool) *Query {
	q.delivered = &delivered
	return q
}

func (q *Query) WithOffset(offset int) *Query {
	q.offset = offset
	return q
}

func (q *Query) WithLimit(limit int) *Query {
	q.limit = limit
	return q
}

func (q *Query) conditions() (string, []any) {
	where := "`gamespace_id`=?"
	args := []any{q.gamespaceID}

	if q.sender != "" {
		where += " AND `message_sender`=?"
		args = append(args, q.sender)
	}
	if q.recipientClass != "" {
		where += " AND `message_recipient_class`=?"
		args = append(args, q.recipientClass)
	}
	if q.recipient != "" {
		where += " AND `message_recipient` LIKE ?"
		args = append(args, q.recipient)
	}
	if q.messageType != "" {
		where += " AND `message_type`=?"
		args = append(args, q.messageType)
	}
	if q.delivered != nil {
		where += " AND `message_delivered`=?"
		args = append(args, *q.delivered)
	}
	return where, args
}

// Do runs the query; when count is true the total matching rows come back
// alongside the page, computed on the same connection.
func (q *Query) Do(ctx context.Context, count bool) ([]*model.Message, int, error) {
	where, args := q.conditions()

	query := "SELECT "
	if count {
		query += "SQL_CALC_FOUND_ROWS "
	}
	query += messageColumns + " FROM `messages` WHERE " + where +
		" ORDER BY `message_time` DESC"

	if q.limit > 0 {
		query += " LIMIT ?, ?"
		args = append(args, q.offset, q.limit)
	}

	tx, err := q.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, model.WrapError(model.KindStorage, err, "failed to query messages")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, model.WrapError(model.KindStorage, err, "failed to query messages")
	}
	messages, err := collectMessages(rows)
	rows.Close()
	if err != nil {
		return nil, 0, err
	}

	total := len(messages)
	if count {
		if err := tx.QueryRowContext(ctx, "SELECT FOUND_ROWS()").Scan(&total); err != nil {
			return nil, 0, model.WrapError(model.KindStorage, err, "failed to count messages")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, model.WrapError(model.KindStorage, err, "failed to query messages")
	}
	return messages, total, nil
}
