package service

import (
	"sync"
	"testing"
	"time"

	"ticketboard/internal/db"
	"ticketboard/internal/storage"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type event struct {
	Room    string
	Type    string
	Payload map[string]any
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Broadcast(roomCode, eventType string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{Room: roomCode, Type: eventType, Payload: payload})
}

func (r *recorder) all() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	db      *gorm.DB
	blobs   *storage.Disk
	dir     string
	bus     *recorder
	rooms   *RoomService
	tickets *TicketService
	files   *FileService
	clock   time.Time
}

func (f *fixture) now() time.Time { return f.clock }

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect("sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := newTestDB(t)
	dir := t.TempDir()
	blobs, err := storage.NewDisk(dir)
	require.NoError(t, err)

	f := &fixture{db: gdb, blobs: blobs, dir: dir, bus: &recorder{}, clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.rooms = NewRoomService(gdb, blobs, f.bus, 30*time.Minute)
	f.tickets = NewTicketService(gdb, f.rooms, f.bus, 3*time.Hour+10*time.Minute, time.Hour)
	f.files = NewFileService(gdb, blobs, f.rooms, f.bus, 100, 60)
	f.rooms.now = f.now
	f.tickets.now = f.now
	f.files.now = f.now
	return f
}
