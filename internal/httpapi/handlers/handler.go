package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/suPer8Hu/woolychat/internal/ai"
	"github.com/suPer8Hu/woolychat/internal/attachments"
	"github.com/suPer8Hu/woolychat/internal/chat"
	"github.com/suPer8Hu/woolychat/internal/config"
	"github.com/suPer8Hu/woolychat/internal/files"
	"github.com/suPer8Hu/woolychat/internal/store/redisstore"
	"gorm.io/gorm"
)

// ModelLister is the part of the model backend the HTTP layer talks to directly.
type ModelLister interface {
	ListModels(ctx context.Context) (json.RawMessage, error)
	Ping(ctx context.Context) error
}

type ModelCache interface {
	GetModelList(ctx context.Context) (json.RawMessage, bool, error)
	SetModelList(ctx context.Context, raw json.RawMessage, ttl time.Duration) error
	InvalidateModelList(ctx context.Context) error
}

type Handler struct {
	DB        *gorm.DB
	Cfg       config.Config
	ChatSvc   *chat.Service
	Files     *files.Store
	Validator *files.Validator
	Ollama    ModelLister
	// Cache is optional; nil means every /api/tags call goes upstream.
	Cache ModelCache
}

// NewHandler wires the chat pipeline. rds and events may be nil.
func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, events chat.EventPublisher) (*Handler, error) {
	store, err := files.NewStore(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	provider := ai.NewOllamaProvider(cfg.OllamaBaseURL)

	relay := chat.NewRelay(provider, attachments.NewAssembler(store), chat.NewCoordinator(db), chat.RelayOptions{
		IdleTimeout:    cfg.StreamIdleTimeout,
		PersistTimeout: cfg.PersistTimeout,
	})
	if events != nil {
		relay.WithEvents(events)
	}

	h := &Handler{
		DB:        db,
		Cfg:       cfg,
		ChatSvc:   chat.NewService(chat.NewRepo(db), relay, cfg.OllamaModel),
		Files:     store,
		Validator: files.NewValidator(cfg.MaxUploadBytes),
		Ollama:    provider,
	}
	if rds != nil {
		h.Cache = rds
	}
	return h, nil
}
