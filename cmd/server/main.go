package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/woolychat/internal/chat"
	"github.com/suPer8Hu/woolychat/internal/config"
	"github.com/suPer8Hu/woolychat/internal/db"
	"github.com/suPer8Hu/woolychat/internal/httpapi"
	"github.com/suPer8Hu/woolychat/internal/httpapi/handlers"
	"github.com/suPer8Hu/woolychat/internal/store/rabbitmq"
	"github.com/suPer8Hu/woolychat/internal/store/redisstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.UsesDevSecret() {
		log.Printf("WARNING: JWT_SECRET is not set; tokens are signed with the built-in development secret and POST /api/session issues them for any username")
	}

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)

	var rds *redisstore.Store
	if cfg.RedisAddr != "" {
		rds, err = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			// the model cache is optional
			log.Printf("redis unavailable, model cache disabled: %v", err)
			rds = nil
		} else {
			defer rds.Close()
		}
	}

	var events chat.EventPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Printf("rabbitmq unavailable, turn events disabled: %v", err)
		} else {
			defer pub.Close()
			events = pub
		}
	}

	h, err := handlers.NewHandler(gdb, cfg, rds, events)
	if err != nil {
		log.Fatalf("handler: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("server listening addr=%s ollama=%s db=%s uploads=%s", cfg.HTTPAddr, cfg.OllamaBaseURL, cfg.DBDriver, h.Files.Root())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PersistTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
