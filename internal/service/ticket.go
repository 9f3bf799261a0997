package service

import (
	"context"
	"errors"
	"time"

	"ticketboard/internal/metrics"
	"ticketboard/internal/models"
	"ticketboard/internal/ws"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// TicketService 负责工单的增删改查与过期清理。
type TicketService struct {
	db          *gorm.DB
	rooms       *RoomService
	bus         Broadcaster
	activeTTL   time.Duration
	resolvedTTL time.Duration
	now         func() time.Time
}

func NewTicketService(db *gorm.DB, rooms *RoomService, bus Broadcaster, activeTTL, resolvedTTL time.Duration) *TicketService {
	return &TicketService{db: db, rooms: rooms, bus: bus, activeTTL: activeTTL, resolvedTTL: resolvedTTL, now: time.Now}
}

// CreateTicketInput 描述新建工单的输入，可选字段为空时使用默认值。
type CreateTicketInput struct {
	Nom         string
	Description string
	Couleur     string
	Etat        string
	UserID      string
	RoomCode    string
}

// TicketPatch 是部分更新，nil 字段保持原值不变。
type TicketPatch struct {
	Nom         *string `json:"nom,omitempty"`
	Description *string `json:"description,omitempty"`
	Couleur     *string `json:"couleur,omitempty"`
	Etat        *string `json:"etat,omitempty"`
}

// TicketPatchResult 回显本次更新涉及的字段。
type TicketPatchResult struct {
	ID string `json:"id"`
	TicketPatch
	RoomCode string `json:"roomCode,omitempty"`
}

func (p TicketPatch) columns() map[string]any {
	cols := make(map[string]any, 4)
	if p.Nom != nil {
		cols["nom"] = *p.Nom
	}
	if p.Description != nil {
		cols["description"] = *p.Description
	}
	if p.Couleur != nil {
		cols["couleur"] = *p.Couleur
	}
	if p.Etat != nil {
		cols["etat"] = *p.Etat
	}
	return cols
}

// List 按创建时间倒序返回房间内的工单。
func (s *TicketService) List(ctx context.Context, roomCode string) ([]models.Ticket, error) {
	tickets := make([]models.Ticket, 0)
	err := s.db.WithContext(ctx).Where("room_code = ?", roomCode).
		Order("date_creation desc").Order("id desc").Find(&tickets).Error
	if err != nil {
		return nil, storeErr("list tickets", err)
	}
	return tickets, nil
}

// Create 新建工单，成功后刷新房间活跃时间并推送 update。
func (s *TicketService) Create(ctx context.Context, in CreateTicketInput) (*models.Ticket, error) {
	switch {
	case in.Nom == "":
		return nil, missing("nom")
	case in.UserID == "":
		return nil, missing("userId")
	case in.RoomCode == "":
		return nil, missing("roomCode")
	}
	if _, err := s.rooms.find(ctx, in.RoomCode); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	t := models.Ticket{
		ID:           id.String(),
		Nom:          in.Nom,
		Description:  in.Description,
		Couleur:      in.Couleur,
		Etat:         in.Etat,
		DateCreation: s.now().UTC(),
		UserID:       in.UserID,
		RoomCode:     in.RoomCode,
	}
	if t.Couleur == "" {
		t.Couleur = models.DefaultColor
	}
	if t.Etat == "" {
		t.Etat = models.ActiveState
	}
	if err := s.db.WithContext(ctx).Create(&t).Error; err != nil {
		return nil, storeErr("create ticket", err)
	}
	s.rooms.Touch(ctx, t.RoomCode)
	s.bus.Broadcast(t.RoomCode, ws.EventUpdate, nil)
	return &t, nil
}

// Update 部分更新工单。id 不存在时静默成功，只回显请求内容。
func (s *TicketService) Update(ctx context.Context, id string, patch TicketPatch, roomCode string) (*TicketPatchResult, error) {
	if id == "" {
		return nil, missing("id")
	}
	if cols := patch.columns(); len(cols) > 0 {
		err := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", id).Updates(cols).Error
		if err != nil {
			return nil, storeErr("update ticket", err)
		}
	}
	if roomCode != "" {
		s.rooms.Touch(ctx, roomCode)
		s.bus.Broadcast(roomCode, ws.EventUpdate, nil)
	}
	return &TicketPatchResult{ID: id, TicketPatch: patch, RoomCode: roomCode}, nil
}

// Delete 仅允许工单创建者或房间管理员删除。
func (s *TicketService) Delete(ctx context.Context, id, requesterID string) error {
	db := s.db.WithContext(ctx)
	var t models.Ticket
	if err := db.Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTicketNotFound
		}
		return storeErr("find ticket", err)
	}
	adminID := ""
	room, err := s.rooms.find(ctx, t.RoomCode)
	switch {
	case err == nil:
		adminID = room.AdminID
	case !errors.Is(err, ErrNotFound):
		return err
	}
	if !canModerate(requesterID, t.UserID, adminID) {
		return ErrNotOwner
	}
	if err := db.Delete(&models.Ticket{}, "id = ?", id).Error; err != nil {
		return storeErr("delete ticket", err)
	}
	s.rooms.Touch(ctx, t.RoomCode)
	s.bus.Broadcast(t.RoomCode, ws.EventUpdate, nil)
	return nil
}

// expired 判断工单在 now 时刻是否超过对应状态的存活时间。
func (s *TicketService) expired(t models.Ticket, now time.Time) bool {
	ttl := s.resolvedTTL
	if t.Active() {
		ttl = s.activeTTL
	}
	return now.Sub(t.DateCreation) > ttl
}

// SweepExpired 删除过期工单，并为每个受影响的房间推送一次 update。
func (s *TicketService) SweepExpired(ctx context.Context) int {
	db := s.db.WithContext(ctx)
	now := s.now().UTC()
	// SQL 只做粗筛，严格的过期判断仍由 expired 完成。
	var tickets []models.Ticket
	err := db.Where("(etat = ? AND date_creation <= ?) OR (etat <> ? AND date_creation <= ?)",
		models.ActiveState, now.Add(-s.activeTTL), models.ActiveState, now.Add(-s.resolvedTTL)).
		Find(&tickets).Error
	if err != nil {
		log.Warn().Err(err).Msg("sweep tickets: list")
		return 0
	}
	affected := make(map[string]struct{})
	deleted := 0
	for _, t := range tickets {
		if !s.expired(t, now) {
			continue
		}
		if err := db.Delete(&models.Ticket{}, "id = ?", t.ID).Error; err != nil {
			log.Warn().Err(err).Str("ticket", t.ID).Msg("sweep tickets: delete")
			continue
		}
		affected[t.RoomCode] = struct{}{}
		deleted++
	}
	for code := range affected {
		s.bus.Broadcast(code, ws.EventUpdate, nil)
	}
	if deleted > 0 {
		metrics.SweepDeletionsTotal.WithLabelValues("ticket").Add(float64(deleted))
		log.Info().Int("tickets", deleted).Int("rooms", len(affected)).Msg("swept expired tickets")
	}
	return deleted
}
