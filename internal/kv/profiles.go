package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gregriff/duet/internal/errs"
	"github.com/gregriff/duet/internal/schemas"
)

type ProfileStore struct {
	db *badger.DB
}

func NewProfileStore(db *badger.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func profileKey(id schemas.Identity) []byte {
	return fmt.Appendf(nil, "profile:%s", id)
}

func (s *ProfileStore) Get(_ context.Context, id schemas.Identity) (schemas.Profile, error) {
	profile := schemas.Profile{Identity: id}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var disk diskProfile
		if err := item.Value(func(val []byte) error {
			return decMode.Unmarshal(val, &disk)
		}); err != nil {
			return err
		}
		profile.AvatarRef = disk.AvatarRef
		return nil
	})
	if err != nil {
		return schemas.Profile{}, errs.Storage("get profile", err)
	}
	return profile, nil
}

func (s *ProfileStore) Set(_ context.Context, id schemas.Identity, avatarRef string) (schemas.Profile, error) {
	value, err := encMode.Marshal(diskProfile{AvatarRef: &avatarRef, UpdatedAt: time.Now().UTC().UnixNano()})
	if err != nil {
		return schemas.Profile{}, errs.Storage("encode profile", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(profileKey(id), value)
	})
	if err != nil {
		return schemas.Profile{}, errs.Storage("set profile", err)
	}
	return schemas.Profile{Identity: id, AvatarRef: &avatarRef}, nil
}

func (s *ProfileStore) All(ctx context.Context, ids []schemas.Identity) (map[schemas.Identity]schemas.Profile, error) {
	profiles := make(map[schemas.Identity]schemas.Profile, len(ids))
	for _, id := range ids {
		profile, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		profiles[id] = profile
	}
	return profiles, nil
}
