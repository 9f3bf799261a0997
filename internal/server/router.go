package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"ticketboard/internal/config"
	"ticketboard/internal/metrics"
	"ticketboard/internal/mw"
	"ticketboard/internal/service"
	"ticketboard/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 是路由需要的全部依赖，由 main 构造后注入。
type Deps struct {
	Rooms   *service.RoomService
	Tickets *service.TicketService
	Files   *service.FileService
	Hub     *ws.Hub
	Limiter *mw.RateLimiter
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware())
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(d.Rooms, d.Tickets, d.Files)
	api := r.Group("/api")

	api.POST("/rooms", h.CreateRoom)
	api.GET("/rooms/:code", h.GetRoom)

	api.GET("/announcement/:roomCode", h.GetAnnouncement)
	api.PUT("/announcement/:roomCode", h.SetAnnouncement)

	api.GET("/tickets/:roomCode", h.ListTickets)
	api.POST("/tickets", h.CreateTicket)
	api.PUT("/tickets/:id", h.UpdateTicket)
	api.DELETE("/tickets/:id", h.DeleteTicket)

	api.GET("/files/:roomCode", h.ListFiles)
	api.POST("/files", h.UploadFile)
	api.GET("/files/download/:fileId", h.DownloadFile)
	api.DELETE("/files/:fileId", h.DeleteFile)

	r.GET("/ws", ws.Serve(d.Hub, d.Rooms.Exists))

	r.NoRoute(staticHandler(cfg.StaticDir))
	return r
}

// staticHandler 在目录存在时提供前端静态文件，API 路径始终返回 JSON 404。
func staticHandler(dir string) gin.HandlerFunc {
	index := filepath.Join(dir, "index.html")
	return func(c *gin.Context) {
		rel := strings.TrimPrefix(filepath.Clean("/"+c.Request.URL.Path), "/")
		if c.Request.Method != http.MethodGet || dir == "" || strings.HasPrefix(rel, "api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if rel == "" {
			rel = "index.html"
		}
		target := filepath.Join(dir, rel)
		if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
			c.File(target)
			return
		}
		if _, err := os.Stat(index); err == nil && !strings.Contains(rel, ".") {
			c.File(index)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	}
}
