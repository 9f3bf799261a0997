package models

import "time"

// ActiveState 是唯一被系统区别对待的工单状态，其余取值均视为已处理。
const ActiveState = "en cours"

// DefaultColor 是工单与公告的默认显示颜色。
const DefaultColor = "#cdcdcd"

type Room struct {
	Code                string     `gorm:"primaryKey;size:5"`
	AdminID             string     `gorm:"size:128;not null"`
	AnnouncementMessage string     `gorm:"type:text;not null;default:''"`
	AnnouncementColor   string     `gorm:"size:32;not null;default:'#cdcdcd'"`
	LastActivity        *time.Time
	CreatedAt           time.Time
}

type Ticket struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Nom          string    `gorm:"not null" json:"nom"`
	Description  string    `gorm:"type:text;not null;default:''" json:"description"`
	Couleur      string    `gorm:"size:32;not null" json:"couleur"`
	Etat         string    `gorm:"size:64;not null" json:"etat"`
	DateCreation time.Time `gorm:"index;not null" json:"dateCreation"`
	UserID       string    `gorm:"size:128;not null" json:"userId"`
	RoomCode     string    `gorm:"index:idx_ticket_room;size:5;not null" json:"roomCode"`
}

// Active 判断工单是否仍处于进行中状态。
func (t Ticket) Active() bool { return t.Etat == ActiveState }

type File struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	OriginalName  string    `gorm:"not null" json:"originalName"`
	EncryptedName string    `gorm:"uniqueIndex;size:64;not null" json:"-"`
	MimeType      string    `gorm:"size:255" json:"mimeType"`
	Size          int64     `gorm:"not null" json:"size"`
	RoomCode      string    `gorm:"index:idx_file_room;size:5;not null" json:"roomCode"`
	UserID        string    `gorm:"size:128;not null" json:"userId"`
	CreatedAt     time.Time `json:"createdAt"`
}
