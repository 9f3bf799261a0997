package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"ticketboard/internal/config"
	"ticketboard/internal/db"
	"ticketboard/internal/models"
	"ticketboard/internal/service"
	"ticketboard/internal/storage"
	"ticketboard/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	engine  *gin.Engine
	blobDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb, err := db.Connect("sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() { _ = db.Close(gdb) })

	dir := t.TempDir()
	blobs, err := storage.NewDisk(dir)
	require.NoError(t, err)
	hub := ws.NewHub()
	t.Cleanup(hub.Close)

	cfg := config.Config{Env: "test", StaticDir: ""}
	rooms := service.NewRoomService(gdb, blobs, hub, 30*time.Minute)
	tickets := service.NewTicketService(gdb, rooms, hub, 3*time.Hour+10*time.Minute, time.Hour)
	files := service.NewFileService(gdb, blobs, rooms, hub, 100, 60)
	engine := SetupRouter(cfg, Deps{Rooms: rooms, Tickets: tickets, Files: files, Hub: hub})
	return &testServer{engine: engine, blobDir: dir}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(t *testing.T, fields map[string]string, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mpw.WriteField(k, v))
	}
	if content != nil {
		fw, err := mpw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mpw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) createRoom(t *testing.T, userID string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/rooms", gin.H{"userId": userID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[map[string]string](t, w)["code"]
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRooms(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/rooms", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "userId")

	w = s.do(t, http.MethodPost, "/api/rooms", gin.H{"userId": "u1"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[map[string]string](t, w)
	assert.Regexp(t, `^[A-Z0-9]{5}$`, created["code"])
	assert.Equal(t, "u1", created["adminId"])

	w = s.do(t, http.MethodGet, "/api/rooms/"+created["code"], nil)
	require.Equal(t, http.StatusOK, w.Code)
	room := decode[map[string]any](t, w)
	assert.Equal(t, map[string]any{
		"code":                created["code"],
		"adminId":             "u1",
		"announcementMessage": "",
		"announcementColor":   models.DefaultColor,
	}, room)

	w = s.do(t, http.MethodGet, "/api/rooms/ZZZZZ", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "room not found", decode[map[string]string](t, w)["error"])
}

func TestTicketLifecycle(t *testing.T) {
	s := newTestServer(t)
	code := s.createRoom(t, "u1")

	w := s.do(t, http.MethodPost, "/api/tickets", gin.H{"userId": "u1", "roomCode": code})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/api/tickets", gin.H{"nom": "t1", "userId": "u1", "roomCode": "ZZZZZ"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/tickets", gin.H{"nom": "t1", "userId": "u1", "roomCode": code})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ticket := decode[map[string]any](t, w)
	assert.Equal(t, "en cours", ticket["etat"])
	assert.Equal(t, "#cdcdcd", ticket["couleur"])
	assert.Equal(t, "", ticket["description"])
	id := ticket["id"].(string)

	w = s.do(t, http.MethodGet, "/api/tickets/"+code, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]map[string]any](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])

	w = s.do(t, http.MethodPut, "/api/tickets/"+id, gin.H{"description": "x", "roomCode": code})
	require.Equal(t, http.StatusOK, w.Code)
	echo := decode[map[string]any](t, w)
	assert.Equal(t, map[string]any{"id": id, "description": "x", "roomCode": code}, echo)

	list = decode[[]map[string]any](t, s.do(t, http.MethodGet, "/api/tickets/"+code, nil))
	assert.Equal(t, "t1", list[0]["nom"])
	assert.Equal(t, "x", list[0]["description"])
	assert.Equal(t, "#cdcdcd", list[0]["couleur"])
	assert.Equal(t, "en cours", list[0]["etat"])

	w = s.do(t, http.MethodDelete, "/api/tickets/"+id+"?userId=u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, "/api/tickets/"+id+"?userId=u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[map[string]string](t, w)["message"])

	w = s.do(t, http.MethodGet, "/api/tickets/"+code, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	w = s.do(t, http.MethodDelete, "/api/tickets/"+id+"?userId=u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnnouncement(t *testing.T) {
	s := newTestServer(t)
	code := s.createRoom(t, "u1")

	w := s.do(t, http.MethodGet, "/api/announcement/ZZZZZ", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"texte": "", "couleur": "#cdcdcd"}, decode[map[string]string](t, w))

	w = s.do(t, http.MethodPut, "/api/announcement/"+code, gin.H{"texte": "hi", "userId": "u1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"texte": "hi", "couleur": "#cdcdcd"}, decode[map[string]string](t, w))

	w = s.do(t, http.MethodPut, "/api/announcement/"+code, gin.H{"texte": "nope", "userId": "u2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/announcement/"+code, nil)
	assert.Equal(t, "hi", decode[map[string]string](t, w)["texte"])

	w = s.do(t, http.MethodPut, "/api/announcement/ZZZZZ", gin.H{"texte": "x", "userId": "u1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFiles(t *testing.T) {
	s := newTestServer(t)
	code := s.createRoom(t, "admin")

	w := s.upload(t, map[string]string{"roomCode": code, "userId": "u1"}, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.upload(t, map[string]string{"userId": "u1"}, "a.txt", []byte("abc"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.upload(t, map[string]string{"roomCode": code, "userId": "u1"}, "notes.txt", bytes.Repeat([]byte("a"), 50))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.upload(t, map[string]string{"roomCode": code, "userId": "u1"}, "big.bin", bytes.Repeat([]byte("b"), 61))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, "single file cap")

	w = s.upload(t, map[string]string{"roomCode": code, "userId": "u1"}, "more.bin", bytes.Repeat([]byte("c"), 51))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, "room quota")

	w = s.do(t, http.MethodGet, "/api/files/"+code, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Files []map[string]any `json:"files"`
		Usage int64            `json:"usage"`
		Limit int64            `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Files, 1)
	assert.EqualValues(t, 50, list.Usage)
	assert.EqualValues(t, 100, list.Limit)
	assert.NotContains(t, list.Files[0], "encryptedName")
	fileID := list.Files[0]["id"].(string)

	entries, err := os.ReadDir(s.blobDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "rejected uploads leave no blobs")

	w = s.do(t, http.MethodGet, "/api/files/download/"+fileID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, bytes.Repeat([]byte("a"), 50), w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename=notes.txt`)

	w = s.do(t, http.MethodGet, "/api/files/download/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/api/files/"+fileID+"?userId=u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodDelete, "/api/files/"+fileID+"?userId=admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodDelete, "/api/files/"+fileID+"?userId=admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	entries, err = os.ReadDir(s.blobDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUnknownAPIPathIsJSON404(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/nothing/here", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", decode[map[string]string](t, w)["error"])
}
