package server

import (
	"errors"
	"mime"
	"net/http"

	"ticketboard/internal/service"

	"github.com/gin-gonic/gin"
)

// multipartOverhead 是表单字段与边界允许占用的额外字节。
const multipartOverhead = 1 << 20

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	roomSvc   *service.RoomService
	ticketSvc *service.TicketService
	fileSvc   *service.FileService
}

func NewHandler(roomSvc *service.RoomService, ticketSvc *service.TicketService, fileSvc *service.FileService) *Handler {
	return &Handler{roomSvc: roomSvc, ticketSvc: ticketSvc, fileSvc: fileSvc}
}

// CreateRoom 创建房间，请求者成为管理员。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	room, err := h.roomSvc.Create(c.Request.Context(), req.UserID)
	if err != nil {
		writeError(c, err, "create room")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": room.Code, "adminId": room.AdminID})
}

func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.roomSvc.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err, "get room")
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) GetAnnouncement(c *gin.Context) {
	c.JSON(http.StatusOK, h.roomSvc.Announcement(c.Request.Context(), c.Param("roomCode")))
}

// SetAnnouncement 仅管理员可修改公告。
func (h *Handler) SetAnnouncement(c *gin.Context) {
	var req struct {
		Texte   string `json:"texte"`
		Couleur string `json:"couleur"`
		UserID  string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ann, err := h.roomSvc.SetAnnouncement(c.Request.Context(), c.Param("roomCode"), req.UserID, req.Texte, req.Couleur)
	if err != nil {
		writeError(c, err, "set announcement")
		return
	}
	c.JSON(http.StatusOK, ann)
}

func (h *Handler) ListTickets(c *gin.Context) {
	tickets, err := h.ticketSvc.List(c.Request.Context(), c.Param("roomCode"))
	if err != nil {
		writeError(c, err, "list tickets")
		return
	}
	c.JSON(http.StatusOK, tickets)
}

func (h *Handler) CreateTicket(c *gin.Context) {
	var req struct {
		Nom         string `json:"nom"`
		Description string `json:"description"`
		Couleur     string `json:"couleur"`
		Etat        string `json:"etat"`
		UserID      string `json:"userId"`
		RoomCode    string `json:"roomCode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	t, err := h.ticketSvc.Create(c.Request.Context(), service.CreateTicketInput{
		Nom:         req.Nom,
		Description: req.Description,
		Couleur:     req.Couleur,
		Etat:        req.Etat,
		UserID:      req.UserID,
		RoomCode:    req.RoomCode,
	})
	if err != nil {
		writeError(c, err, "create ticket")
		return
	}
	c.JSON(http.StatusCreated, t)
}

// UpdateTicket 部分更新，未提供的字段保持不变。
func (h *Handler) UpdateTicket(c *gin.Context) {
	var req struct {
		service.TicketPatch
		RoomCode string `json:"roomCode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.ticketSvc.Update(c.Request.Context(), c.Param("id"), req.TicketPatch, req.RoomCode)
	if err != nil {
		writeError(c, err, "update ticket")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteTicket(c *gin.Context) {
	if err := h.ticketSvc.Delete(c.Request.Context(), c.Param("id"), c.Query("userId")); err != nil {
		writeError(c, err, "delete ticket")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ticket deleted"})
}

func (h *Handler) ListFiles(c *gin.Context) {
	list, err := h.fileSvc.List(c.Request.Context(), c.Param("roomCode"))
	if err != nil {
		writeError(c, err, "list files")
		return
	}
	c.JSON(http.StatusOK, list)
}

// UploadFile 接收 multipart 上传，超过单文件上限的请求在写入存储前被拒绝。
func (h *Handler) UploadFile(c *gin.Context) {
	limit := h.fileSvc.MaxFile() + multipartOverhead
	if c.Request.ContentLength > limit {
		writeError(c, service.ErrFileTooLarge, "upload file")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(c, service.ErrFileTooLarge, "upload file")
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if c.Request.MultipartForm != nil {
		defer c.Request.MultipartForm.RemoveAll()
	}
	if fh.Size > h.fileSvc.MaxFile() {
		writeError(c, service.ErrFileTooLarge, "upload file")
		return
	}
	roomCode, userID := c.PostForm("roomCode"), c.PostForm("userId")
	if roomCode == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomCode and userId are required"})
		return
	}
	src, err := fh.Open()
	if err != nil {
		writeError(c, err, "open upload")
		return
	}
	defer src.Close()

	_, err = h.fileSvc.Upload(c.Request.Context(), service.UploadInput{
		RoomCode:     roomCode,
		UserID:       userID,
		OriginalName: fh.Filename,
		MimeType:     fh.Header.Get("Content-Type"),
		Size:         fh.Size,
		Content:      src,
	})
	if err != nil {
		writeError(c, err, "upload file")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "file uploaded"})
}

// DownloadFile 以原始文件名作为附件名返回内容。
func (h *Handler) DownloadFile(c *gin.Context) {
	dl, err := h.fileSvc.Open(c.Request.Context(), c.Param("fileId"))
	if err != nil {
		writeError(c, err, "download file")
		return
	}
	defer dl.Content.Close()
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": dl.File.OriginalName})
	if disposition == "" {
		disposition = "attachment"
	}
	c.DataFromReader(http.StatusOK, dl.File.Size, dl.File.MimeType, dl.Content, map[string]string{
		"Content-Disposition": disposition,
	})
}

func (h *Handler) DeleteFile(c *gin.Context) {
	if err := h.fileSvc.Delete(c.Request.Context(), c.Param("fileId"), c.Query("userId")); err != nil {
		writeError(c, err, "delete file")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "file deleted"})
}
