package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"ticketboard/internal/metrics"
	"ticketboard/internal/models"
	"ticketboard/internal/storage"
	"ticketboard/internal/ws"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/moby/locker"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// FileService 负责房间内的文件上传、下载、删除与配额控制。
type FileService struct {
	db      *gorm.DB
	blobs   storage.BlobStore
	rooms   *RoomService
	bus     Broadcaster
	quota   int64
	maxFile int64
	locks   *locker.Locker
	now     func() time.Time
}

func NewFileService(db *gorm.DB, blobs storage.BlobStore, rooms *RoomService, bus Broadcaster, quota, maxFile int64) *FileService {
	return &FileService{
		db: db, blobs: blobs, rooms: rooms, bus: bus,
		quota: quota, maxFile: maxFile,
		locks: locker.New(), now: time.Now,
	}
}

// FileList 是房间文件列表以及当前用量。
type FileList struct {
	Files []models.File `json:"files"`
	Usage int64         `json:"usage"`
	Limit int64         `json:"limit"`
}

// UploadInput 描述一次上传，Content 由调用方负责关闭。
type UploadInput struct {
	RoomCode     string
	UserID       string
	OriginalName string
	MimeType     string
	Size         int64
	Content      io.Reader
}

// Download 是待下载的文件内容，调用方负责关闭 Content。
type Download struct {
	File    models.File
	Content io.ReadCloser
}

func (s *FileService) Limit() int64   { return s.quota }
func (s *FileService) MaxFile() int64 { return s.maxFile }

func (s *FileService) usage(ctx context.Context, roomCode string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.File{}).Where("room_code = ?", roomCode).
		Select("COALESCE(SUM(size), 0)").Scan(&total).Error
	if err != nil {
		return 0, storeErr("room usage", err)
	}
	return total, nil
}

// List 返回房间内的文件以及已用字节数。
func (s *FileService) List(ctx context.Context, roomCode string) (*FileList, error) {
	files := make([]models.File, 0)
	if err := s.db.WithContext(ctx).Where("room_code = ?", roomCode).Order("created_at desc").Find(&files).Error; err != nil {
		return nil, storeErr("list files", err)
	}
	var usage int64
	for _, f := range files {
		usage += f.Size
	}
	return &FileList{Files: files, Usage: usage, Limit: s.quota}, nil
}

// Upload 校验配额后保存内容与记录。同一房间的配额检查与写入串行执行，
// 写入记录失败时会删除已写入的对象。
func (s *FileService) Upload(ctx context.Context, in UploadInput) (*models.File, error) {
	switch {
	case in.Content == nil:
		return nil, missing("file")
	case in.RoomCode == "":
		return nil, missing("roomCode")
	case in.UserID == "":
		return nil, missing("userId")
	}
	if in.Size < 0 {
		return nil, ErrSizeMismatch
	}
	if in.Size > s.maxFile {
		return nil, ErrFileTooLarge
	}
	if _, err := s.rooms.find(ctx, in.RoomCode); err != nil {
		return nil, err
	}

	s.locks.Lock(in.RoomCode)
	defer func() { _ = s.locks.Unlock(in.RoomCode) }()

	used, err := s.usage(ctx, in.RoomCode)
	if err != nil {
		return nil, err
	}
	if used+in.Size > s.quota {
		log.Info().Str("room", in.RoomCode).Str("used", humanize.IBytes(uint64(used))).
			Str("incoming", humanize.IBytes(uint64(in.Size))).Msg("upload rejected: quota")
		return nil, ErrRoomFull
	}

	f := models.File{
		ID:            uuid.NewString(),
		OriginalName:  sanitizeName(in.OriginalName),
		EncryptedName: strings.ReplaceAll(uuid.NewString(), "-", ""),
		MimeType:      in.MimeType,
		Size:          in.Size,
		RoomCode:      in.RoomCode,
		UserID:        in.UserID,
		CreatedAt:     s.now().UTC(),
	}
	if f.MimeType == "" {
		f.MimeType = "application/octet-stream"
	}
	body := &countingReader{r: io.LimitReader(in.Content, in.Size+1)}
	if err := s.blobs.Put(ctx, f.EncryptedName, body, in.Size, f.MimeType); err != nil {
		s.discard(f.EncryptedName)
		return nil, storeErr("write blob", err)
	}
	// 后端可能只读取声明的字节数，多读一个字节确认内容没有超出。
	_, _ = io.CopyN(io.Discard, body, 1)
	if body.n != in.Size {
		s.discard(f.EncryptedName)
		log.Warn().Str("room", in.RoomCode).Int64("declared", in.Size).Int64("read", body.n).Msg("upload rejected: size mismatch")
		return nil, ErrSizeMismatch
	}
	if err := s.db.WithContext(ctx).Create(&f).Error; err != nil {
		s.discard(f.EncryptedName)
		return nil, storeErr("create file", err)
	}
	metrics.UploadedBytesTotal.Add(float64(f.Size))

	s.rooms.Touch(ctx, f.RoomCode)
	s.bus.Broadcast(f.RoomCode, ws.EventNewFile, map[string]any{
		"id":     f.ID,
		"name":   f.OriginalName,
		"size":   f.Size,
		"userId": f.UserID,
	})
	return &f, nil
}

// discard 回滚写入的对象；请求的 ctx 可能已经取消，因此使用独立 ctx。
func (s *FileService) discard(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.blobs.Remove(ctx, name); err != nil && !errors.Is(err, storage.ErrNotExist) {
		log.Error().Err(err).Str("blob", name).Msg("rollback orphaned blob")
	}
}

func (s *FileService) find(ctx context.Context, id string) (*models.File, error) {
	var f models.File
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, storeErr("find file", err)
	}
	return &f, nil
}

// Open 打开文件内容，记录或对象缺失都视为 not found。
func (s *FileService) Open(ctx context.Context, id string) (*Download, error) {
	f, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	rc, err := s.blobs.Open(ctx, f.EncryptedName)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, storeErr("open blob", err)
	}
	return &Download{File: *f, Content: rc}, nil
}

// Delete 仅允许上传者或房间管理员删除；对象缺失不阻止删除记录。
func (s *FileService) Delete(ctx context.Context, id, requesterID string) error {
	f, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	adminID := ""
	room, err := s.rooms.find(ctx, f.RoomCode)
	switch {
	case err == nil:
		adminID = room.AdminID
	case !errors.Is(err, ErrNotFound):
		return err
	}
	if !canModerate(requesterID, f.UserID, adminID) {
		return ErrNotOwner
	}
	if err := s.blobs.Remove(ctx, f.EncryptedName); err != nil {
		if !errors.Is(err, storage.ErrNotExist) {
			return storeErr("remove blob", err)
		}
		log.Warn().Str("file", f.ID).Msg("blob already missing, removing record")
	}
	if err := s.db.WithContext(ctx).Delete(&models.File{}, "id = ?", f.ID).Error; err != nil {
		return storeErr("delete file", err)
	}
	s.rooms.Touch(ctx, f.RoomCode)
	s.bus.Broadcast(f.RoomCode, ws.EventDeleteFile, map[string]any{"fileId": f.ID})
	return nil
}

// sanitizeName 只保留文件名的最后一段，仅用于展示。
func sanitizeName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "file"
	}
	return name
}

// countingReader 统计实际读取的字节数。
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
