package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-signal-bot/internal/bot"
	"market-signal-bot/internal/cache"
	"market-signal-bot/internal/config"
	"market-signal-bot/internal/domain"
	"market-signal-bot/internal/handler"
	"market-signal-bot/internal/job"
	"market-signal-bot/internal/provider"
	"market-signal-bot/internal/service"
	signalengine "market-signal-bot/internal/signal"
	"market-signal-bot/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

var (
	loadEnvFunc              = godotenv.Load
	loadConfigFunc           = config.Load
	initRedisFunc            = cache.InitRedis
	initTracerFunc           = tracing.InitTracer
	newCoinGeckoProviderFunc = func(tracer trace.Tracer, timeout time.Duration) cache.OHLCFetcher {
		return provider.NewCoinGeckoProvider(tracer, timeout)
	}
	startTelegramBotFunc = func(token string, svc *service.SignalService) job.DigestSender {
		if b := bot.StartTelegramBot(token, svc); b != nil {
			return b
		}
		return nil
	}
	startJobFunc           = func(ctx context.Context, start func(context.Context)) { go start(ctx) }
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

func main() {
	_ = loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	storeOpts := []cache.Option{cache.WithTTL(cfg.CandleCacheTTL())}
	redisClient, err := initRedisFunc(ctx, cfg.RedisURL)
	if err != nil {
		log.Printf("Redis unavailable, candle cache is memory-only: %v", err)
	} else if redisClient != nil {
		defer redisClient.Close()
		storeOpts = append(storeOpts, cache.WithRedis(redisClient))
	}

	// One store for the process; bot, HTTP and jobs share its entries.
	cgProvider := newCoinGeckoProviderFunc(tracer, cfg.CoinGeckoTimeout())
	candleStore := cache.NewCandleStore(tracer, cgProvider, storeOpts...)

	engine := signalengine.NewEngine(signalengine.WithAnchor(anchorFromConfig(cfg)))
	signalService, err := service.NewSignalService(tracer, candleStore, engine, domain.DefaultAssets, cfg.LookbackDays)
	if err != nil {
		log.Fatalf("invalid asset configuration: %v", err)
	}

	digestSender := startTelegramBotFunc(cfg.TelegramBotToken, signalService)
	digestJob, err := job.NewWeeklyDigestJob(tracer, digestSender, cfg.DigestCron, cfg.DigestLocation())
	if err != nil {
		log.Fatalf("invalid digest schedule: %v", err)
	}
	startJobFunc(ctx, digestJob.Start)

	warmer := job.NewCandleWarmer(tracer, candleStore, signalService.Assets(), cfg.LookbackDays, cfg.CacheWarmInterval())
	startJobFunc(ctx, warmer.Start)

	h := handler.New(tracer, signalService, cfg.APIKey)
	r := newRouterFunc()
	r.Use(otelgin.Middleware("market-signal-bot"))
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

func anchorFromConfig(cfg *config.Config) signalengine.Anchor {
	if day, ok := config.ParseWeekday(cfg.AnchorWeekday); ok {
		return signalengine.AnchorWeekday(day)
	}
	return signalengine.AnchorFirst()
}
