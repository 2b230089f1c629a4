// Package kv stores the message log and the profiles in BadgerDB. It is the alternative to the
// sqlite backend in package dal and satisfies the same store interfaces.
package kv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gregriff/duet/internal/errs"
	"github.com/gregriff/duet/internal/schemas"
)

// Open opens (or creates) the badger directory at path.
func Open(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).
		WithLoggingLevel(badger.WARNING).
		WithSyncWrites(true))
	if err != nil {
		return nil, fmt.Errorf("error opening badger at %s: %w", path, err)
	}
	return db, nil
}

type MessageStore struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

func NewMessageStore(db *badger.DB, log *slog.Logger) *MessageStore {
	return &MessageStore{db: db, log: log, now: time.Now}
}

// messageKey is formatted as "msg:{conversation}:{id padded to 20 digits}" so a prefix scan
// returns the messages in id order.
func messageKey(key schemas.ConversationKey, id int64) []byte {
	return fmt.Appendf(nil, "msg:%s:%020d", key, id)
}

func messagePrefix(key schemas.ConversationKey) []byte {
	return fmt.Appendf(nil, "msg:%s:", key)
}

// seqKey holds the last id assigned in a conversation
func seqKey(key schemas.ConversationKey) []byte {
	return fmt.Appendf(nil, "seq:%s", key)
}

// Append assigns the next id and writes the message and the sequence in one transaction.
func (s *MessageStore) Append(_ context.Context, key schemas.ConversationKey, from schemas.Identity, text string) (schemas.Message, error) {
	var msg schemas.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		last, err := readSeq(txn, key)
		if err != nil {
			return err
		}
		msg = schemas.Message{
			Id:        last + 1,
			From:      from,
			Text:      text,
			Timestamp: s.now().UTC(),
		}
		value, err := encMode.Marshal(fromMessage(msg))
		if err != nil {
			return err
		}
		if err := txn.Set(messageKey(key, msg.Id), value); err != nil {
			return err
		}
		return txn.Set(seqKey(key), binary.BigEndian.AppendUint64(nil, uint64(msg.Id)))
	})
	if err != nil {
		return schemas.Message{}, errs.Storage("append message", err)
	}
	return msg, nil
}

// SoftDelete marks a message as deleted if requester is its author. changed is false when the
// message was already deleted.
func (s *MessageStore) SoftDelete(_ context.Context, key schemas.ConversationKey, id int64, requester schemas.Identity) (msg schemas.Message, changed bool, err error) {
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(messageKey(key, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("message %d: %w", id, errs.ErrNotFound)
		}
		if err != nil {
			return err
		}

		var disk diskMessage
		if err := item.Value(func(val []byte) error {
			return decMode.Unmarshal(val, &disk)
		}); err != nil {
			return err
		}
		msg = disk.toMessage()

		if msg.From != requester {
			return fmt.Errorf("%s cannot delete message %d from %s: %w", requester, id, msg.From, errs.ErrUnauthorized)
		}
		if msg.Deleted {
			return nil
		}

		msg.Deleted = true
		value, err := encMode.Marshal(fromMessage(msg))
		if err != nil {
			return err
		}
		changed = true
		return txn.Set(messageKey(key, id), value)
	})
	switch {
	case err == nil:
		return msg, changed, nil
	case errors.Is(err, errs.ErrNotFound):
		return schemas.Message{}, false, err
	case errors.Is(err, errs.ErrUnauthorized):
		return msg, false, err
	default:
		return schemas.Message{}, false, errs.Storage("delete message", err)
	}
}

// Load scans the conversation prefix. Keys sort by id, so the result is in append order.
func (s *MessageStore) Load(_ context.Context, key schemas.ConversationKey) ([]schemas.Message, error) {
	messages := []schemas.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(key)
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var disk diskMessage
			err := it.Item().Value(func(val []byte) error {
				return decMode.Unmarshal(val, &disk)
			})
			if err != nil {
				return err
			}
			messages = append(messages, disk.toMessage())
		}
		return nil
	})
	if err != nil {
		return nil, errs.Storage("load messages", err)
	}
	s.log.Debug("messages loaded", "conversation", key, "count", len(messages))
	return messages, nil
}

func readSeq(txn *badger.Txn, key schemas.ConversationKey) (int64, error) {
	item, err := txn.Get(seqKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt sequence for %s", key)
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}
