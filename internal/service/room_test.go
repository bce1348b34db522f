package service

import (
	"context"
	"testing"

	"github.com/JhonHurtado/chat-in-real-time/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_GeneralAddsMember(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	general := env.store.addRoom(models.RoomGeneral, "General")
	u := env.store.addUser("nora", "Nora")

	ok, err := env.rooms.IsMember(ctx, general.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	room, err := env.rooms.Join(ctx, general.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, general.ID, room.ID)

	ok, err = env.rooms.IsMember(ctx, general.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Joining again is idempotent.
	_, err = env.rooms.Join(ctx, general.ID, u.ID)
	assert.NoError(t, err)
}

func TestJoin_Gates(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	a := env.store.addUser("anna", "Anna")
	b := env.store.addUser("ben", "Ben")
	group := env.store.addRoom(models.RoomGroup, "Team", a.ID)

	_, err := env.rooms.Join(ctx, 999, a.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = env.rooms.Join(ctx, group.ID, b.ID)
	assert.ErrorIs(t, err, ErrNotAMember)

	_, err = env.rooms.Join(ctx, group.ID, a.ID)
	assert.NoError(t, err)
}

func TestCanRead(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	a := env.store.addUser("anna", "Anna")
	b := env.store.addUser("ben", "Ben")
	general := env.store.addRoom(models.RoomGeneral, "General")
	group := env.store.addRoom(models.RoomGroup, "Team", a.ID)

	assert.NoError(t, env.rooms.CanRead(ctx, general.ID, b.ID))
	assert.NoError(t, env.rooms.CanRead(ctx, group.ID, a.ID))
	assert.ErrorIs(t, env.rooms.CanRead(ctx, group.ID, b.ID), ErrNotAMember)
	assert.ErrorIs(t, env.rooms.CanRead(ctx, 999, a.ID), ErrRoomNotFound)
}

func TestListRooms(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	a := env.store.addUser("anna", "Anna")
	env.store.addRoom(models.RoomGeneral, "General", a.ID)
	env.store.addRoom(models.RoomGroup, "Team", a.ID)
	env.store.addRoom(models.RoomGroup, "Other")

	general, err := env.rooms.ListGeneral(ctx)
	require.NoError(t, err)
	require.Len(t, general, 1)
	assert.Equal(t, "General", general[0].Name)

	mine, err := env.rooms.ListForUser(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}
