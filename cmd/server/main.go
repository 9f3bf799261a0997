package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ticketboard/internal/config"
	"ticketboard/internal/db"
	clog "ticketboard/internal/log"
	"ticketboard/internal/mw"
	"ticketboard/internal/server"
	"ticketboard/internal/service"
	"ticketboard/internal/storage"
	"ticketboard/internal/ws"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// main 负责加载配置、初始化日志与存储、启动后台清理并运行 HTTP 服务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("blob store")
	}

	hub := ws.NewHub()
	go hub.Run(ctx, cfg.PingInterval)

	rooms := service.NewRoomService(gdb, blobs, hub, cfg.RoomIdleTTL)
	tickets := service.NewTicketService(gdb, rooms, hub, cfg.ActiveTicketTTL, cfg.ResolvedTicketTTL)
	files := service.NewFileService(gdb, blobs, rooms, hub, cfg.RoomQuotaBytes, cfg.MaxFileBytes)

	sweeper := service.NewSweeper(rooms, tickets, cfg.RoomSweepInterval, cfg.TicketSweepInterval)
	sweeper.Start(ctx)

	limiter := mw.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, 2*time.Minute)
	go limiter.Run(ctx)

	r := server.SetupRouter(cfg, server.Deps{
		Rooms:   rooms,
		Tickets: tickets,
		Files:   files,
		Hub:     hub,
		Limiter: limiter,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("storage", cfg.StorageBackend).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	hub.Close()
	sweeper.Wait()
	if err := db.Close(gdb); err != nil {
		log.Error().Err(err).Msg("db close")
	}
}

func openBlobStore(ctx context.Context, cfg config.Config) (storage.BlobStore, error) {
	if cfg.StorageBackend == "minio" {
		m := cfg.MinIO
		return storage.NewMinIO(ctx, m.Endpoint, m.AccessKey, m.SecretKey, m.Bucket, m.UseSSL)
	}
	return storage.NewDisk(cfg.UploadDir)
}
