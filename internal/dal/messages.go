// package dal is the data access layer. It contains functions that perform SQL queries and logic
// that cannot be decoupled from the queries. Files correspond to SQL tables
package dal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gregriff/duet/internal/errs"
	"github.com/gregriff/duet/internal/schemas"
)

// MessageStore persists the message log of every conversation in the messages table.
type MessageStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db, now: time.Now}
}

// Append assigns the next id of the conversation and inserts the message. The message only exists
// once the transaction commits.
func (s *MessageStore) Append(ctx context.Context, key schemas.ConversationKey, from schemas.Identity, text string) (schemas.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schemas.Message{}, errs.Storage("begin append", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(id), 0) + 1 FROM messages WHERE conversation_key = ?", key,
	).Scan(&id)
	if err != nil {
		return schemas.Message{}, errs.Storage("next message id", err)
	}

	msg := schemas.Message{
		Id:        id,
		From:      from,
		Text:      text,
		Timestamp: s.now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (conversation_key, id, from_identity, text, created_at, deleted) VALUES (?, ?, ?, ?, ?, 0)",
		key, msg.Id, msg.From, msg.Text, msg.Timestamp.UnixNano(),
	)
	if err != nil {
		return schemas.Message{}, errs.Storage("insert message", err)
	}

	if err = tx.Commit(); err != nil {
		return schemas.Message{}, errs.Storage("commit append", err)
	}
	return msg, nil
}

// SoftDelete marks a message as deleted if requester is its author. changed is false when the
// message was already deleted.
func (s *MessageStore) SoftDelete(ctx context.Context, key schemas.ConversationKey, id int64, requester schemas.Identity) (msg schemas.Message, changed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schemas.Message{}, false, errs.Storage("begin delete", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT id, from_identity, text, created_at, deleted FROM messages WHERE conversation_key = ? AND id = ?",
		key, id,
	)
	msg, err = scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schemas.Message{}, false, fmt.Errorf("message %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return schemas.Message{}, false, errs.Storage("select message", err)
	}

	if msg.From != requester {
		return msg, false, fmt.Errorf("%s cannot delete message %d from %s: %w", requester, id, msg.From, errs.ErrUnauthorized)
	}
	if msg.Deleted {
		return msg, false, nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE messages SET deleted = 1 WHERE conversation_key = ? AND id = ?", key, id,
	)
	if err != nil {
		return schemas.Message{}, false, errs.Storage("update message", err)
	}
	if err = tx.Commit(); err != nil {
		return schemas.Message{}, false, errs.Storage("commit delete", err)
	}

	msg.Deleted = true
	return msg, true, nil
}

// Load returns every message of the conversation in append order, deleted ones included.
func (s *MessageStore) Load(ctx context.Context, key schemas.ConversationKey) ([]schemas.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, from_identity, text, created_at, deleted FROM messages WHERE conversation_key = ? ORDER BY id",
		key,
	)
	if err != nil {
		return nil, errs.Storage("select messages", err)
	}
	defer rows.Close()

	messages := []schemas.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errs.Storage("scan message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("iterate messages", err)
	}
	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (schemas.Message, error) {
	var (
		msg       schemas.Message
		from      string
		createdAt int64
	)
	if err := row.Scan(&msg.Id, &from, &msg.Text, &createdAt, &msg.Deleted); err != nil {
		return schemas.Message{}, err
	}
	msg.From = schemas.Identity(from)
	msg.Timestamp = time.Unix(0, createdAt).UTC()
	return msg, nil
}
