package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/camden-git/objectmatch/app"
	"github.com/camden-git/objectmatch/config"
	"github.com/camden-git/objectmatch/handlers"
	"github.com/camden-git/objectmatch/realtime"
	"github.com/camden-git/objectmatch/tracing"
	"github.com/camden-git/objectmatch/workers"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceCfg := tracing.DefaultConfig()
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.SampleRate = cfg.TraceSampleRate
	tracer, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize tracing: %v", err)
	}
	defer tracer.Shutdown(context.Background())

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize application: %v", err)
	}
	defer a.Close()

	if _, err := a.DefaultEngine(); err != nil {
		log.Fatalf("FATAL: Failed to initialize default engine: %v", err)
	}

	hub := realtime.NewHub()
	go hub.Run()
	defer hub.Close()

	log.Printf("Initializing task manager (Workers: %d, Queue Size: %d)...", cfg.TaskWorkers, cfg.TaskQueueSize)
	tasks := workers.NewTaskManager(hub, cfg.TaskQueueSize, cfg.TaskWorkers)
	defer tasks.Stop()

	log.Printf("Using database: %s", cfg.DatabasePath)
	log.Printf("Storing extracted objects in: %s", cfg.ExtractedObjectsPath)
	log.Printf("Default engine: %s", a.DefaultKey())

	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(corsOptions).Handler)

	api := &handlers.API{
		Match: &handlers.MatchHandler{
			Engines:  a.Engines,
			Defaults: a.DefaultKey(),
			Tasks:    tasks,
			Storage:  a.Storage,
			Cfg:      cfg,
		},
		Tasks:      &handlers.TaskHandler{Tasks: tasks},
		Auth:       &handlers.AuthHandler{AdminTokenHash: cfg.AdminTokenHash, JWTSecret: []byte(cfg.JWTSecret)},
		WebSocket:  hub.ServeWS,
		ObjectsDir: cfg.ExtractedObjectsPath,
		QueriesDir: cfg.QueryObjectsPath,
	}
	r.Route("/api", api.Mount)

	serverAddr := ":" + cfg.Port
	fmt.Printf("Server starting on http://localhost:%s\n", cfg.Port)
	log.Printf("Server listening on %s", serverAddr)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     r,
		ReadTimeout: 60 * time.Second,
		// queries run detection and matching inline
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("FATAL: Server error: %v", err)
	}
}
