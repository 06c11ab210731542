package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*GeoRoomRouter, *PresenceRegistry, *Store, *recordingBroadcaster) {
	t.Helper()
	s := newTestStore(t)
	r := NewPresenceRegistry()
	bc := &recordingBroadcaster{}
	r.SetBroadcaster(bc)
	router := NewGeoRoomRouter(r, s, bc, 1000)
	return router, r, s, bc
}

func TestRoomKey(t *testing.T) {
	assert.Equal(t, "geo:48:2", roomKey(48.8566, 2.3522))
	assert.Equal(t, "geo:0:0", roomKey(0.5, 0.5))
	// 负坐标向下取整
	assert.Equal(t, "geo:-1:-1", roomKey(-0.5, -0.5))
	assert.Equal(t, "geo:-34:151", roomKey(-33.8688, 151.2093))
}

func TestJoinLeaveJoinMembershipIsExclusive(t *testing.T) {
	router, r, _, _ := newTestRouter(t)
	r.Register(testSession("s-a", "user-a", "Alice"))

	_, err := router.Join(t.Context(), "s-a", 48.85, 2.35, 500)
	require.NoError(t, err)
	assert.Equal(t, []SessionID{"s-a"}, router.Members("geo:48:2"))

	router.Leave("s-a")
	assert.Empty(t, router.Members("geo:48:2"))
	assert.Equal(t, "", router.RoomOf("s-a"))

	// 换坐标重新加入：只在最新的格子里，旧格子不残留
	_, err = router.Join(t.Context(), "s-a", 40.4168, -3.7038, 500)
	require.NoError(t, err)
	assert.Empty(t, router.Members("geo:48:2"))
	assert.Equal(t, []SessionID{"s-a"}, router.Members("geo:40:-4"))
}

func TestJoinMovesBetweenCells(t *testing.T) {
	router, r, _, _ := newTestRouter(t)
	r.Register(testSession("s-a", "user-a", "Alice"))

	_, err := router.Join(t.Context(), "s-a", 10.5, 10.5, 500)
	require.NoError(t, err)
	_, err = router.Join(t.Context(), "s-a", 11.5, 11.5, 500)
	require.NoError(t, err)

	assert.Empty(t, router.Members("geo:10:10"))
	assert.Equal(t, []SessionID{"s-a"}, router.Members("geo:11:11"))
}

func TestJoinReturnsNearbyPetsAndBroadcastsLocation(t *testing.T) {
	router, r, s, bc := newTestRouter(t)
	r.Register(testSession("s-a", "user-a", "Alice"))

	near := newTestPet(t, s, "Near", "user-b")
	require.NoError(t, s.UpdatePetLocation(t.Context(), near.ID, 48.8566, 2.3522))
	far := newTestPet(t, s, "Far", "user-b")
	require.NoError(t, s.UpdatePetLocation(t.Context(), far.ID, 48.9566, 2.3522))

	pets, err := router.Join(t.Context(), "s-a", 48.8566, 2.3522, 1000)
	require.NoError(t, err)
	require.Len(t, pets, 1)
	assert.Equal(t, "Near", pets[0].Name)

	// 位置写进了注册表
	sess, _ := r.Get("s-a")
	require.NotNil(t, sess.Location)
	assert.Equal(t, 48.8566, sess.Location.Lat())

	// user:location 是全员广播
	locs := bc.byEvent(EvtUserLocation)
	require.Len(t, locs, 1)
	assert.Equal(t, "all", locs[0].Scope)
	payload, ok := locs[0].Data.(UserLocationPayload)
	require.True(t, ok)
	assert.Equal(t, UserID("user-a"), payload.UserID)
}

func TestJoinValidation(t *testing.T) {
	router, r, _, _ := newTestRouter(t)
	r.Register(testSession("s-a", "user-a", "Alice"))

	_, err := router.Join(t.Context(), "s-a", 91, 0, 500)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = router.Join(t.Context(), "s-a", 0, 181, 500)
	assert.ErrorIs(t, err, ErrValidation)

	// 未注册会话
	_, err = router.Join(t.Context(), "ghost", 0, 0, 500)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLeaveUnknownSessionIsNoop(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	router.Leave("ghost") // 不应 panic
}

func TestMoveEntityOwnerOnly(t *testing.T) {
	router, r, s, _ := newTestRouter(t)
	r.Register(testSession("s-a", "user-a", "Alice"))
	other := newTestPet(t, s, "NotMine", "user-b")
	stray := newTestPet(t, s, "Stray", "")

	err := router.MoveEntity(t.Context(), "s-a", other.ID, 10, 10)
	assert.ErrorIs(t, err, ErrNotFound)
	err = router.MoveEntity(t.Context(), "s-a", stray.ID, 10, 10)
	assert.ErrorIs(t, err, ErrNotFound)
	err = router.MoveEntity(t.Context(), "s-a", "ghost-pet", 10, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMoveEntityPersistsAndBroadcastsToRoom(t *testing.T) {
	router, r, s, bc := newTestRouter(t)
	r.Register(testSession("s-a", "user-a", "Alice"))
	mine := newTestPet(t, s, "Rex", "user-a")

	_, err := router.Join(t.Context(), "s-a", 48.85, 2.35, 500)
	require.NoError(t, err)

	require.NoError(t, router.MoveEntity(t.Context(), "s-a", mine.ID, 48.86, 2.36))

	got, err := s.GetPet(t.Context(), mine.ID)
	require.NoError(t, err)
	assert.Equal(t, 48.86, got.Location.Lat())
	assert.Equal(t, 2.36, got.Location.Lng())

	// pet:moved 仅限当前房间
	moves := bc.byEvent(EvtPetMoved)
	require.Len(t, moves, 1)
	assert.Equal(t, "room", moves[0].Scope)
	assert.Equal(t, "geo:48:2", moves[0].Target)
}

func TestMoveEntityWithoutRoomSkipsBroadcast(t *testing.T) {
	router, r, s, bc := newTestRouter(t)
	r.Register(testSession("s-a", "user-a", "Alice"))
	mine := newTestPet(t, s, "Rex", "user-a")

	require.NoError(t, router.MoveEntity(t.Context(), "s-a", mine.ID, 48.86, 2.36))
	assert.Empty(t, bc.byEvent(EvtPetMoved))

	// 坐标仍然落库
	got, err := s.GetPet(t.Context(), mine.ID)
	require.NoError(t, err)
	assert.Equal(t, 48.86, got.Location.Lat())
}

func TestMoveEntityValidatesCoords(t *testing.T) {
	router, r, s, _ := newTestRouter(t)
	r.Register(testSession("s-a", "user-a", "Alice"))
	mine := newTestPet(t, s, "Rex", "user-a")

	err := router.MoveEntity(t.Context(), "s-a", mine.ID, 120, 0)
	assert.ErrorIs(t, err, ErrValidation)
}
