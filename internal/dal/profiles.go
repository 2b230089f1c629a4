package dal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gregriff/duet/internal/errs"
	"github.com/gregriff/duet/internal/schemas"
)

// ProfileStore persists one profile row per identity.
type ProfileStore struct {
	db *sql.DB
}

func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Get returns the profile of id, or an empty profile if it was never set.
func (s *ProfileStore) Get(ctx context.Context, id schemas.Identity) (schemas.Profile, error) {
	var avatarRef sql.NullString

	err := s.db.QueryRowContext(ctx, "SELECT avatar_ref FROM profiles WHERE identity = ?", id).Scan(&avatarRef)
	if errors.Is(err, sql.ErrNoRows) {
		return schemas.Profile{Identity: id}, nil
	}
	if err != nil {
		return schemas.Profile{}, errs.Storage("select profile", err)
	}

	profile := schemas.Profile{Identity: id}
	if avatarRef.Valid {
		profile.AvatarRef = &avatarRef.String
	}
	return profile, nil
}

// Set replaces the avatar of id. Last write wins.
func (s *ProfileStore) Set(ctx context.Context, id schemas.Identity, avatarRef string) (schemas.Profile, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (identity, avatar_ref, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (identity) DO UPDATE SET avatar_ref = excluded.avatar_ref, updated_at = excluded.updated_at`,
		id, avatarRef, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return schemas.Profile{}, errs.Storage("upsert profile", err)
	}
	return schemas.Profile{Identity: id, AvatarRef: &avatarRef}, nil
}

// All returns the profile of every identity in ids
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
