package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/JhonHurtado/chat-in-real-time/internal/config"
	"github.com/JhonHurtado/chat-in-real-time/internal/crypt"
	"github.com/JhonHurtado/chat-in-real-time/internal/db"
	clog "github.com/JhonHurtado/chat-in-real-time/internal/log"
	"github.com/JhonHurtado/chat-in-real-time/internal/server"
	"github.com/JhonHurtado/chat-in-real-time/internal/store"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	_ = godotenv.Load()
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	general, err := db.EnsureGeneralRoom(gdb)
	if err != nil {
		log.Fatal().Err(err).Msg("ensure general room")
	}
	log.Info().Uint("room_id", general.ID).Msg("general room ready")

	cipher, err := crypt.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("init cipher")
	}

	app := server.NewApp(cfg, store.New(gdb), cipher)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	app.Close()
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
