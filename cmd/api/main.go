package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/ctxlens/backend/internal/bus"
	"github.com/ctxlens/backend/internal/config"
	"github.com/ctxlens/backend/internal/delivery"
	"github.com/ctxlens/backend/internal/detector"
	"github.com/ctxlens/backend/internal/explainer"
	"github.com/ctxlens/backend/internal/filequeue"
	"github.com/ctxlens/backend/internal/gateway"
	"github.com/ctxlens/backend/internal/llmclient"
	"github.com/ctxlens/backend/internal/retention"
	"github.com/ctxlens/backend/internal/router"
	"github.com/ctxlens/backend/internal/server"
	"github.com/ctxlens/backend/internal/session"
	"github.com/ctxlens/backend/internal/settings"
	"github.com/ctxlens/backend/internal/simulation"
	"github.com/ctxlens/backend/internal/sttloop"
	"github.com/ctxlens/backend/pkg/Logger"
	"github.com/ctxlens/backend/pkg/io/stt/whisper"
)

// This is the main entry point for the context translator backend. It
// wires every component named in the architecture (C1-C11) and owns
// their shutdown ordering.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := Logger.New(cfg.Debug)
	log.Info("logger initialized")

	detections := filequeue.NewDetectionQueue(cfg.FileQueue.DetectionsPath)
	explanations := filequeue.NewExplanationQueue(cfg.FileQueue.ExplanationsPath)

	store := settings.New(cfg.SettingsStorePath, log)
	if err := store.LoadFromFile(); err != nil {
		log.Warnf("settings: no persisted file loaded, using defaults: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	}
	sessions := session.New(log, redisClient)
	sim := simulation.New(log)

	modelSelector := func() string { return store.GetString(settings.KeyAIModel, cfg.Detector.Model) }
	detectorLLM := llmclient.NewBoundRouter(buildRouter(cfg.Detector, log), modelSelector)
	explainerLLM := llmclient.NewBoundRouter(buildRouter(cfg.Explainer, log), modelSelector)

	messageBus := bus.NewBus(cfg.Queues.Capacity)

	detectorTrigger := make(chan struct{}, 1)
	explainerReady := make(chan struct{}, 1)

	det := detector.New(log, messageBus.Outgoing, detections, store, detectorLLM, detectorTrigger)
	exp := explainer.New(log, detections, explanations, store, explainerLLM, detectorTrigger, explainerReady)

	var ledger *delivery.Ledger
	if cfg.Ledger.Enabled {
		ledger, err = delivery.NewLedger(cfg.Ledger.DSN)
		if err != nil {
			log.Errorf("delivery: ledger unavailable, continuing without it: %v", err)
			ledger = nil
		}
	}
	del := delivery.New(log, explanations, messageBus.Outgoing, explainerReady, ledger)

	sweeper, err := retention.NewSweeper(log, detections, explanations, ledger,
		time.Duration(cfg.Retention.WindowHours)*time.Hour, cfg.Retention.Schedule)
	if err != nil {
		log.Fatalf("retention: failed to schedule sweep: %v", err)
	}

	rt := router.New(log, messageBus.Incoming, messageBus.Outgoing, messageBus.WebsocketOut, sessions, store, det, sim)
	gw := gateway.New(log, messageBus.Incoming, messageBus.WebsocketOut)

	// Each of C9, C8, C7 gets its own cancellable context so shutdown
	// can stop them in the §5 order and wait for each to actually
	// exit before cancelling the next, rather than cancelling one
	// shared context and hoping. C6 (the detector) has no loop of its
	// own: the router calls it synchronously from the client listener,
	// so it stops the instant C9 does.
	routerCtx, cancelRouter := context.WithCancel(context.Background())
	deliveryCtx, cancelDelivery := context.WithCancel(context.Background())
	explainerCtx, cancelExplainer := context.WithCancel(context.Background())
	ctx, cancel := context.WithCancel(context.Background())

	shutdown := &shutdownSequence{
		cancelRouter:    cancelRouter,
		cancelDelivery:  cancelDelivery,
		cancelExplainer: cancelExplainer,
		cancel:          cancel,
		sweeper:         sweeper,
	}
	shutdown.routerDone.Add(1)
	go func() { defer shutdown.routerDone.Done(); rt.Run(routerCtx) }()
	shutdown.deliveryDone.Add(1)
	go func() { defer shutdown.deliveryDone.Done(); del.Run(deliveryCtx) }()
	shutdown.explainerDone.Add(1)
	go func() { defer shutdown.explainerDone.Done(); exp.Run(explainerCtx) }()

	sweeper.Start()
	go gw.RunDispatcher(ctx)

	startSTTLoop(ctx, log, cfg.Gateway.Port)

	engine := gin.New()
	engine.Use(gin.Recovery())
	server.InitializeRoutes(engine, server.Dependencies{Log: log, Bus: messageBus, Gateway: gw, Sessions: sessions})

	log.Info("application initialized")
	runHTTPServer(engine, log, cfg.Gateway.Port, gw, shutdown)
}

// shutdownSequence holds what's needed to stop C9, C8, and C7 in
// order, waiting for each to actually exit before cancelling the
// next, per §5 ("stops C9, C8, C7, C6 in that order... consumers
// before producers for a given file").
type shutdownSequence struct {
	cancelRouter    context.CancelFunc
	cancelDelivery  context.CancelFunc
	cancelExplainer context.CancelFunc
	cancel          context.CancelFunc // everything else: gateway dispatcher, sttloop

	routerDone    sync.WaitGroup
	deliveryDone  sync.WaitGroup
	explainerDone sync.WaitGroup

	sweeper *retention.Sweeper
}

// run stops every stage in §5 order, blocking until each has actually
// exited before moving to the next.
func (s *shutdownSequence) run(log *Logger.Logger) {
	s.cancelRouter()
	s.routerDone.Wait()
	log.Info("shutdown: C9 router stopped (C6 detector stopped with it)")

	s.cancelDelivery()
	s.deliveryDone.Wait()
	log.Info("shutdown: C8 delivery stopped")

	s.cancelExplainer()
	s.explainerDone.Wait()
	log.Info("shutdown: C7 explainer stopped")

	s.sweeper.Stop()
	s.cancel()
}

// buildRouter wires a llmclient.Router from configuration, using the
// HTTP fallback client for any model not claimed by a specific
// provider. Missing provider credentials simply leave that slot nil;
// Router.Chat then uses the Ollama farm if one is configured, else the
// plain HTTP client.
func buildRouter(cfg config.LLMConfig, log *Logger.Logger) *llmclient.Router {
	fallback := llmclient.NewHTTPChatClient(cfg.Endpoint, cfg.Model, time.Duration(cfg.TimeoutS)*time.Second)

	var farm llmclient.ChatClient
	if len(cfg.OllamaServers) > 0 {
		f, errs := llmclient.NewOllamaFarmClient(cfg.Model, cfg.OllamaServers)
		for _, e := range errs {
			log.Warnf("llmclient: ollama farm registration: %v", e)
		}
		farm = f
	}

	var openaiClient llmclient.ChatClient
	if cfg.OpenAIAPIKey != "" {
		openaiClient = llmclient.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.Model)
	}

	var geminiClient llmclient.ChatClient
	if cfg.GeminiAPIKey != "" {
		g, err := llmclient.NewGeminiClient(context.Background(), cfg.GeminiAPIKey, cfg.Model)
		if err != nil {
			log.Warnf("llmclient: gemini unavailable: %v", err)
		} else {
			geminiClient = g
		}
	}

	return llmclient.NewRouter(fallback, farm, openaiClient, geminiClient)
}

// startSTTLoop wires the VAD loop (C11) and its reconnecting gateway
// client. Actual microphone capture is outside this process's scope
// (see DESIGN.md); PushFrame is the integration point an external
// audio capture source would call.
func startSTTLoop(ctx context.Context, log *Logger.Logger, port int) *sttloop.Client {
	profile := sttloop.ProfileFromEnv()
	whisperClient := whisper.NewWhisperClient(os.Getenv("CTXLENS_WHISPER_URL"), log)
	transcriber := sttloop.NewWhisperTranscriber(whisperClient)

	loop := sttloop.NewLoop(log, profile, "stt_service_1", transcriber)
	gatewayURL := fmt.Sprintf("ws://localhost:%d/ws/stt_service_1", port)
	client := sttloop.NewClient(log, loop, gatewayURL)

	go loop.Run(ctx)
	go client.Run(ctx)
	log.Infof("sttloop: started with profile %s", profile.Name)
	return client
}

func runHTTPServer(
	engine *gin.Engine,
	log *Logger.Logger,
	port int,
	gw *gateway.Gateway,
	shutdown *shutdownSequence,
) {
	addr := ":" + strconv.Itoa(port)
	srv := &http.Server{Addr: addr, Handler: engine.Handler()}

	go func() {
		log.Infof("server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http server forced to shutdown: %v", err)
	}

	// §5 ordering: gateway dispatcher and sockets first, then C9 (which
	// takes C6 down with it), C8, and C7, in that order.
	gw.Shutdown()
	shutdown.run(log)

	log.Info("shutdown complete")
}
