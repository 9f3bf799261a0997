package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"ticketboard/internal/metrics"
	"ticketboard/internal/models"
	"ticketboard/internal/storage"
	"ticketboard/internal/ws"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 5
	codeAttempts = 5
)

// RoomService 负责房间的创建、公告与空闲回收。
type RoomService struct {
	db      *gorm.DB
	blobs   storage.BlobStore
	bus     Broadcaster
	idleTTL time.Duration
	now     func() time.Time
}

func NewRoomService(db *gorm.DB, blobs storage.BlobStore, bus Broadcaster, idleTTL time.Duration) *RoomService {
	return &RoomService{db: db, blobs: blobs, bus: bus, idleTTL: idleTTL, now: time.Now}
}

// RoomDTO 是对外暴露的房间投影，内部时间戳不对外。
type RoomDTO struct {
	Code                string `json:"code"`
	AdminID             string `json:"adminId"`
	AnnouncementMessage string `json:"announcementMessage"`
	AnnouncementColor   string `json:"announcementColor"`
}

func toRoomDTO(r models.Room) *RoomDTO {
	return &RoomDTO{Code: r.Code, AdminID: r.AdminID, AnnouncementMessage: r.AnnouncementMessage, AnnouncementColor: r.AnnouncementColor}
}

// Announcement 是房间公告。
type Announcement struct {
	Texte   string `json:"texte"`
	Couleur string `json:"couleur"`
}

// GenerateCode 生成 5 位大写字母与数字组成的房间码。
func GenerateCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// Create 创建新房间，创建者成为管理员。房间码冲突时重试，仍冲突则由主键约束报错。
func (s *RoomService) Create(ctx context.Context, userID string) (*RoomDTO, error) {
	if userID == "" {
		return nil, missing("userId")
	}
	db := s.db.WithContext(ctx)
	var code string
	for i := 0; i < codeAttempts; i++ {
		c, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		var count int64
		if err := db.Model(&models.Room{}).Where("code = ?", c).Count(&count).Error; err != nil {
			return nil, storeErr("check room code", err)
		}
		if count == 0 {
			code = c
			break
		}
	}
	if code == "" {
		return nil, storeErr("create room", errors.New("no free room code"))
	}
	room := models.Room{Code: code, AdminID: userID, AnnouncementColor: models.DefaultColor, CreatedAt: s.now().UTC()}
	if err := db.Create(&room).Error; err != nil {
		return nil, storeErr("create room", err)
	}
	return toRoomDTO(room), nil
}

func (s *RoomService) find(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, storeErr("find room", err)
	}
	return &room, nil
}

// Get 返回房间的对外投影。
func (s *RoomService) Get(ctx context.Context, code string) (*RoomDTO, error) {
	room, err := s.find(ctx, code)
	if err != nil {
		return nil, err
	}
	return toRoomDTO(*room), nil
}

// Exists 供 WebSocket 握手校验房间。
func (s *RoomService) Exists(ctx context.Context, code string) bool {
	_, err := s.find(ctx, code)
	return err == nil
}

// Touch 刷新房间活跃时间，失败只记录日志。
func (s *RoomService) Touch(ctx context.Context, code string) {
	if code == "" {
		return
	}
	err := s.db.WithContext(ctx).Model(&models.Room{}).Where("code = ?", code).Update("last_activity", s.now().UTC()).Error
	if err != nil {
		log.Warn().Err(err).Str("room", code).Msg("touch room activity")
	}
}

// Announcement 返回房间公告，房间不存在时返回默认值。
func (s *RoomService) Announcement(ctx context.Context, code string) Announcement {
	room, err := s.find(ctx, code)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Str("room", code).Msg("get announcement")
		}
		return Announcement{Texte: "", Couleur: models.DefaultColor}
	}
	return Announcement{Texte: room.AnnouncementMessage, Couleur: room.AnnouncementColor}
}

// SetAnnouncement 仅允许管理员修改公告，成功后推送 updateAnnouncement。
func (s *RoomService) SetAnnouncement(ctx context.Context, code, userID, texte, couleur string) (*Announcement, error) {
	room, err := s.find(ctx, code)
	if err != nil {
		return nil, err
	}
	if userID == "" || userID != room.AdminID {
		return nil, ErrNotAdmin
	}
	if couleur == "" {
		couleur = models.DefaultColor
	}
	err = s.db.WithContext(ctx).Model(&models.Room{}).Where("code = ?", code).
		Updates(map[string]any{"announcement_message": texte, "announcement_color": couleur}).Error
	if err != nil {
		return nil, storeErr("set announcement", err)
	}
	s.bus.Broadcast(code, ws.EventUpdateAnnouncement, map[string]any{"texte": texte, "couleur": couleur})
	return &Announcement{Texte: texte, Couleur: couleur}, nil
}

// SweepIdle 删除空闲超过阈值且没有工单的房间及其文件，单行失败不会中断整批。
func (s *RoomService) SweepIdle(ctx context.Context) int {
	db := s.db.WithContext(ctx)
	cutoff := s.now().UTC().Add(-s.idleTTL)
	var rooms []models.Room
	err := db.Where("COALESCE(last_activity, created_at) <= ?", cutoff).
		Where("NOT EXISTS (SELECT 1 FROM tickets WHERE tickets.room_code = rooms.code)").
		Find(&rooms).Error
	if err != nil {
		log.Warn().Err(err).Msg("sweep rooms: list")
		return 0
	}
	deleted := 0
	for _, room := range rooms {
		last := room.CreatedAt
		if room.LastActivity != nil {
			last = *room.LastActivity
		}
		if !last.Before(cutoff) {
			continue
		}
		if err := s.purge(ctx, room.Code); err != nil {
			log.Warn().Err(err).Str("room", room.Code).Msg("sweep rooms: purge")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		metrics.SweepDeletionsTotal.WithLabelValues("room").Add(float64(deleted))
		log.Info().Int("rooms", deleted).Msg("swept idle rooms")
	}
	return deleted
}

// purge 先删除文件（磁盘对象再记录），最后删除房间记录。
func (s *RoomService) purge(ctx context.Context, code string) error {
	db := s.db.WithContext(ctx)
	var files []models.File
	if err := db.Where("room_code = ?", code).Find(&files).Error; err != nil {
		return err
	}
	for _, f := range files {
		if err := s.blobs.Remove(ctx, f.EncryptedName); err != nil && !errors.Is(err, storage.ErrNotExist) {
			return err
		}
		if err := db.Delete(&models.File{}, "id = ?", f.ID).Error; err != nil {
			return err
		}
	}
	return db.Delete(&models.Room{}, "code = ?", code).Error
}
