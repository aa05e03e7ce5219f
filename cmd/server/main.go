package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/config"
	"github.com/iliyamo/dermascan/internal/database"
	"github.com/iliyamo/dermascan/internal/handler"
	"github.com/iliyamo/dermascan/internal/inference"
	"github.com/iliyamo/dermascan/internal/llm"
	"github.com/iliyamo/dermascan/internal/middleware"
	"github.com/iliyamo/dermascan/internal/queue"
	"github.com/iliyamo/dermascan/internal/repository"
	"github.com/iliyamo/dermascan/internal/router"
	"github.com/iliyamo/dermascan/internal/service"
	"github.com/iliyamo/dermascan/internal/storage"
)

func main() {
	cfg := config.Load()
	log, err := config.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mc, err := database.Open(cfg.MongoURI)
	if err != nil {
		log.Fatal("mongo connect", zap.Error(err))
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()
	store := database.NewStore(mc.Database(cfg.MongoDB))
	idxCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := database.EnsureIndexes(idxCtx, store); err != nil {
		cancel()
		log.Fatal("ensure indexes", zap.Error(err))
	}
	cancel()

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.Warn("redis unavailable; rate limiting and response cache disabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		defer func() { _ = rdb.Close() }()
	}

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal("object storage", zap.Error(err))
	}

	users := repository.NewUserRepo(store)
	tokens := repository.NewTokenRepo(store)
	auditLogs := repository.NewAuditRepo(store)
	images := repository.NewImageRepo(store)
	predictions := repository.NewPredictionRepo(store)
	summaries := repository.NewSummaryRepo(store)
	feedback := repository.NewFeedbackRepo(store)

	audit := service.NewAuditRecorder(auditLogs, queue.NewPublisher(cfg.RabbitURL, log), log, cfg.Env)
	completer := llm.New(cfg.LLM)
	authSvc := service.NewAuthService(users, tokens, audit, cfg.TokenTTL, log)
	adminSvc := service.NewAdminService(users, auditLogs, audit)
	predSvc := service.NewPredictionService(images, predictions, objects, inference.New(cfg.InferenceURL, 60*time.Second), audit, log)
	summarySvc := service.NewSummaryService(summaries, images, predictions, completer, cfg.LLM.SummaryModel, audit, log)
	chatSvc := service.NewChatService(completer, cfg.LLM.ChatModel, log)
	feedbackSvc := service.NewFeedbackService(feedback, authSvc, audit, audit)

	replay := queue.NewAuditReplayConsumer(cfg.RabbitURL, auditLogs, log)
	go func() {
		if err := replay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit replay stopped", zap.Error(err))
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(middleware.RequestLog(log))

	deps := map[string]handler.Pinger{
		"mongo": handler.PingFunc(func(ctx context.Context) error { return mc.Ping(ctx, readpref.Primary()) }),
	}
	if rdb != nil {
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	router.RegisterRoutes(e, handler.Health(deps))
	router.RegisterAuth(e, handler.NewAuthHandler(authSvc, log), middleware.NewTokenBucket(cfg.RateLimit, rdb, log))
	router.RegisterPredictions(e, handler.NewPredictionHandler(predSvc, log))
	router.RegisterAPI(e, handler.NewSummaryHandler(summarySvc, chatSvc, feedbackSvc, log), middleware.NewRedisCache(cfg.Cache, rdb, log))
	router.RegisterAdmin(e, handler.NewAdminHandler(adminSvc, log), middleware.RequireAdminAuth(authSvc, audit, log))

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}
