package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/woolychat/internal/ai"
)

var (
	ErrModelRequired   = errors.New("model is required")
	ErrMessageRequired = errors.New("message is required")
	ErrInvalidHistory  = errors.New("history entries need a role")
)

// Service is the entry point the HTTP layer uses for conversations and turns.
type Service struct {
	repo         *Repo
	relay        *Relay
	defaultModel string
}

func NewService(repo *Repo, relay *Relay, defaultModel string) *Service {
	if defaultModel == "" {
		defaultModel = "llama3:latest"
	}
	return &Service{repo: repo, relay: relay, defaultModel: defaultModel}
}

func (s *Service) Repo() *Repo { return s.repo }

func (s *Service) DefaultModel() string { return s.defaultModel }

// CreateConversation starts an empty conversation for userID. An empty or
// generic title becomes the placeholder that the first turn replaces.
func (s *Service) CreateConversation(ctx context.Context, userID uint64, title, model string) (*Conversation, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = s.defaultModel
	}
	c := &Conversation{
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		ModelName: model,
	}
	if err := s.repo.CreateConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// StartTurn validates the request and opens the upstream stream. When it
// returns an error nothing has been streamed and nothing will be persisted.
func (s *Service) StartTurn(ctx context.Context, turn ChatTurn) (*RelayStream, error) {
	turn.Model = strings.TrimSpace(turn.Model)
	if turn.Model == "" {
		return nil, ErrModelRequired
	}
	if strings.TrimSpace(turn.Message) == "" {
		return nil, ErrMessageRequired
	}
	for _, m := range turn.History {
		if strings.TrimSpace(m.Role) == "" {
			return nil, ErrInvalidHistory
		}
	}
	if turn.History == nil {
		turn.History = []ai.Message{}
	}
	return s.relay.Open(ctx, turn)
}
