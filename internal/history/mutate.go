package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

// lockMessage loads one row by uuid under FOR UPDATE.
func lockMessage(ctx context.Context, tx *sql.Tx, gamespaceID, messageUUID string) (*model.Message, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM `messages` "+
			"WHERE `message_uuid`=? AND `gamespace_id`=? LIMIT 1 FOR UPDATE",
		messageUUID, gamespaceID,
	)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewError(model.KindNotFound, "no such message")
	}
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to lock message")
	}
	return m, nil
}

// DeleteMessageConcurrent deletes one message under a row lock. The sender
// can always delete their own message; anyone else needs the deletable
// flag. Authoritative callers pass authoritative=true to skip the check.
// Live sessions learn about the deletion through the queue engine before
// the row goes away.
func (s *Store) DeleteMessageConcurrent(ctx context.Context, gamespaceID, caller, messageUUID string, authoritative bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapError(model.KindStorage, err, "failed to delete message")
	}
	defer tx.Rollback()

	m, err := lockMessage(ctx, tx, gamespaceID, messageUUID)
	if err != nil {
		return err
	}

	if !authoritative && m.Sender != caller && !m.Flags.Has(model.FlagDeletable) {
		return model.NewError(model.KindConflict, "this message is not deletable")
	}

	if s.queue != nil {
		s.queue.QueueDeleted(ctx, gamespaceID, caller,
			model.Recipient{Class: m.RecipientClass, Key: m.Recipient}, messageUUID)
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM `messages` WHERE `message_uuid`=? AND `gamespace_id`=? LIMIT 1",
		messageUUID, gamespaceID,
	)
	if err != nil {
		return model.WrapError(model.KindStorage, err, "failed to delete message")
	}

	if err := tx.Commit(); err != nil {
		return model.WrapError(model.KindStorage, err, "failed to delete message")
	}
	return nil
}

// UpdateMessageConcurrent merges patch into the stored payload under a row
// lock (nulls delete keys) and announces the merged payload to live
// sessions. Non-senders need the editable flag.
func (s *Store) UpdateMessageConcurrent(ctx context.Context, gamespaceID, caller, messageUUID string, patch map[string]any, authoritative bool) (map[string]any, error) {
	if patch == nil {
		return nil, model.NewError(model.KindBadInput, "payload should be an object")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to update message")
	}
	defer tx.Rollback()

	m, err := lockMessage(ctx, tx, gamespaceID, messageUUID)
	if err != nil {
		return nil, err
	}

	if !authoritative && m.Sender != caller && !m.Flags.Has(model.FlagEditable) {
		return nil, model.NewError(model.KindConflict, "this message is not editable")
	}

	merged := model.MergePayload(m.Payload, patch)
	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, model.WrapError(model.KindBadInput, err, "merged payload is not serializable")
	}

	if s.queue != nil {
		s.queue.QueueUpdated(ctx, gamespaceID, caller,
			model.Recipient{Class: m.RecipientClass, Key: m.Recipient}, messageUUID, merged)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE `messages` SET `message_payload`=? "+
			"WHERE `message_uuid`=? AND `gamespace_id`=? LIMIT 1",
		encoded, messageUUID, gamespaceID,
	)
	if err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to update message")
	}

	if err := tx.Commit(); err != nil {
		return nil, model.WrapError(model.KindStorage, err, "failed to update message")
	}
	return merged, nil
}

// MarkMessageAsRead moves the account's read watermark for the message's
// conversation stream. The conditional upsert keeps last_message_time
// monotonic: an older message never regresses the watermark.
func (s *Store) MarkMessageAsRead(ctx context.Context, gamespaceID, accountID, messageUUID string) (bool, error) {
	m, err := s.GetMessageUUID(ctx, gamespaceID, messageUUID)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO `last_read_message` "+
			"(`gamespace_id`, `account_id`, `message_recipient_class`, `message_recipient`, "+
			"`last_message_time`, `last_message_uuid`) "+
			"VALUES (?, ?, ?, ?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE "+
			"`last_message_uuid` = IF(VALUES(`last_message_time`) > `last_message_time`, "+
			"VALUES(`last_message_uuid`), `last_message_uuid`), "+
			"`last_message_time` = IF(VALUES(`last_message_time`) > `last_message_time`, "+
			"VALUES(`last_message_time`), `last_message_time`)",
		gamespaceID, accountID, m.RecipientClass, m.Recipient, m.Time.UTC(), messageUUID,
	)
	if err != nil {
		return false, model.WrapError(model.KindStorage, err, "failed to mark message as read")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, model.WrapError(model.KindStorage, err, "failed to mark message as read")
	}
	return affected > 0, nil
}
