package dal

import (
	"context"
	"testing"

	"github.com/gregriff/duet/internal/schemas"
	"github.com/stretchr/testify/require"
)

func Test_Profile_Default_When_Never_Set(t *testing.T) {
	req := require.New(t)
	store := NewProfileStore(openTestDB(t))

	profile, err := store.Get(context.Background(), alice)
	req.NoError(err)
	req.Equal(schemas.Profile{Identity: alice}, profile)
}

func Test_Profile_Last_Write_Wins(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := NewProfileStore(openTestDB(t))

	_, err := store.Set(ctx, alice, "https://example.com/a.png")
	req.NoError(err)
	set, err := store.Set(ctx, alice, "https://example.com/b.png")
	req.NoError(err)

	got, err := store.Get(ctx, alice)
	req.NoError(err)
	req.Equal(set, got)
	req.Equal("https://example.com/b.png", *got.AvatarRef)
}

func Test_Profile_All_Fills_Defaults(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := NewProfileStore(openTestDB(t))

	_, err := store.Set(ctx, alice, "x")
	req.NoError(err)

	profiles, err := store.All(ctx, []schemas.Identity{alice, bob})
	req.NoError(err)
	req.Len(profiles, 2)
	req.Equal("x", *profiles[alice].AvatarRef)
	req.Nil(profiles[bob].AvatarRef)
}
