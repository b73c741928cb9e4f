package main

import (
	"context"
	"time"

	"geminichat/internal/ai"
	"geminichat/internal/cache"
	"geminichat/internal/config"
	"geminichat/internal/db"
	clog "geminichat/internal/log"
	"geminichat/internal/otp"
	"geminichat/internal/ratelimit"
	"geminichat/internal/server"
	"geminichat/internal/service"
	"geminichat/internal/worker"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库/Redis/Gemini 并启动 Gin 服务。
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment")
	}
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	redis, err := cache.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connect")
	}
	defer redis.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gemini, err := ai.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatal().Err(err).Msg("gemini client")
	}
	defer gemini.Close()

	limiter := ratelimit.NewLimiter(redis)
	otpMgr := otp.NewManager(redis, time.Duration(cfg.OTPExpirationMinutes)*time.Minute)

	userSvc := service.NewUserService(gdb, cfg, limiter, otpMgr)
	chatSvc := service.NewChatroomService(gdb)
	billingSvc := service.NewBillingService(gdb, cfg)

	proc := worker.NewProcessor(gdb, gemini, 64, time.Duration(cfg.AITimeoutSeconds)*time.Second)
	proc.Start(ctx)

	h := server.NewHandler(userSvc, chatSvc, billingSvc, proc)
	r := server.SetupRouter(cfg, gdb, h)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
	cancel()
	proc.Wait()
}
