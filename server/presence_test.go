package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(id SessionID, uid UserID, name string) *Session {
	return &Session{ID: id, UserID: uid, UserName: name, ConnectedAt: time.Now()}
}

func TestRegisterSnapshotExcludesSelf(t *testing.T) {
	r := NewPresenceRegistry()
	bc := &recordingBroadcaster{}
	r.SetBroadcaster(bc)

	// A 先上线：快照为空，也没有人收到 user:online
	viewsA := r.Register(testSession("s-a", "user-a", "Alice"))
	assert.Empty(t, viewsA)
	assert.Empty(t, bc.byEvent(EvtUserOnline))

	// B 上线：快照里只有 A，user:online 只发给 A
	viewsB := r.Register(testSession("s-b", "user-b", "Bob"))
	require.Len(t, viewsB, 1)
	assert.Equal(t, UserID("user-a"), viewsB[0].UserID)

	arrivals := bc.byEvent(EvtUserOnline)
	require.Len(t, arrivals, 1)
	assert.Equal(t, "s-a", arrivals[0].Target)
	assert.Equal(t, UserPresencePayload{UserID: "user-b", UserName: "Bob"}, arrivals[0].Data)
}

func TestUnregisterBroadcastsToRemaining(t *testing.T) {
	r := NewPresenceRegistry()
	bc := &recordingBroadcaster{}
	r.SetBroadcaster(bc)
	r.Register(testSession("s-a", "user-a", "Alice"))
	r.Register(testSession("s-b", "user-b", "Bob"))

	removed := r.Unregister("s-b")
	require.NotNil(t, removed)
	assert.Equal(t, UserID("user-b"), removed.UserID)

	// 注销先于广播：此时 ToAll 只覆盖 A
	departures := bc.byEvent(EvtUserOffline)
	require.Len(t, departures, 1)
	assert.Equal(t, 1, r.Count())
	_, stillThere := r.Get("s-b")
	assert.False(t, stillThere)

	// 重复注销无害
	assert.Nil(t, r.Unregister("s-b"))
}

func TestTouchUpdatesLocationWithoutBroadcast(t *testing.T) {
	r := NewPresenceRegistry()
	bc := &recordingBroadcaster{}
	r.SetBroadcaster(bc)
	r.Register(testSession("s-a", "user-a", "Alice"))
	before := len(bc.byEvent(EvtUserLocation))

	ok := r.Touch("s-a", NewGeoPoint(2.35, 48.85))
	assert.True(t, ok)
	assert.Len(t, bc.byEvent(EvtUserLocation), before)

	s, found := r.Get("s-a")
	require.True(t, found)
	require.NotNil(t, s.Location)
	assert.Equal(t, 48.85, s.Location.Lat())

	// 快照携带位置
	views := r.Snapshot("other")
	require.Len(t, views, 1)
	require.NotNil(t, views[0].Location)
	assert.Equal(t, 2.35, views[0].Location.Lng())

	assert.False(t, r.Touch("missing", NewGeoPoint(0, 0)))
}

func TestSetRoomReturnsPrevious(t *testing.T) {
	r := NewPresenceRegistry()
	r.Register(testSession("s-a", "user-a", "Alice"))

	prev, ok := r.SetRoom("s-a", "geo:48:2")
	require.True(t, ok)
	assert.Equal(t, "", prev)

	prev, ok = r.SetRoom("s-a", "geo:49:2")
	require.True(t, ok)
	assert.Equal(t, "geo:48:2", prev)

	_, ok = r.SetRoom("missing", "geo:0:0")
	assert.False(t, ok)
}

func TestSnapshotCopiesLocation(t *testing.T) {
	r := NewPresenceRegistry()
	r.Register(testSession("s-a", "user-a", "Alice"))
	r.Touch("s-a", NewGeoPoint(1, 1))

	views := r.Snapshot("")
	require.Len(t, views, 1)
	views[0].Location.Coordinates[0] = 99

	// 快照是副本，改动不回写注册表
	s, _ := r.Get("s-a")
	assert.Equal(t, 1.0, s.Location.Lng())
}
