package server

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// newTestStore 内存库，用例结束自动关闭
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newTestPet 构造并落库一只满状态宠物
func newTestPet(t *testing.T, s *Store, name string, owner UserID) *Pet {
	t.Helper()
	now := time.Now().UTC()
	p := &Pet{
		ID:        PetID(uuid.NewString()),
		Name:      name,
		OwnerID:   owner,
		Level:     1,
		Stats:     StatVector{Hunger: 100, Hygiene: 100, Energy: 100, Fun: 100},
		Location:  NewGeoPoint(0, 0),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreatePet(t.Context(), p))
	return p
}

// sentEvent recordingBroadcaster 捕获的一次投递
type sentEvent struct {
	Scope  string // "session" / "user" / "room" / "all"
	Target string
	Event  string
	Data   any
}

// recordingBroadcaster 测试用广播器：只记录，不发送
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (b *recordingBroadcaster) record(e sentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBroadcaster) ToSession(id SessionID, event string, data any) {
	b.record(sentEvent{Scope: "session", Target: string(id), Event: event, Data: data})
}

func (b *recordingBroadcaster) ToUser(uid UserID, event string, data any) {
	b.record(sentEvent{Scope: "user", Target: string(uid), Event: event, Data: data})
}

func (b *recordingBroadcaster) ToRoom(room string, event string, data any) {
	b.record(sentEvent{Scope: "room", Target: room, Event: event, Data: data})
}

func (b *recordingBroadcaster) ToAll(event string, data any) {
	b.record(sentEvent{Scope: "all", Event: event, Data: data})
}

// byEvent 按事件名过滤
func (b *recordingBroadcaster) byEvent(event string) []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentEvent
	for _, e := range b.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
