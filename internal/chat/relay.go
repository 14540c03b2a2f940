package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/suPer8Hu/woolychat/internal/ai"
	"github.com/suPer8Hu/woolychat/internal/attachments"
	"github.com/suPer8Hu/woolychat/internal/common"
)

// StreamOpener opens a streaming chat call against the model backend.
type StreamOpener interface {
	OpenChatStream(ctx context.Context, req ai.ChatRequest) (*ai.ChatStream, error)
}

type TurnPersister interface {
	PersistTurn(ctx context.Context, t Turn) (*TurnResult, error)
}

// ChatTurn is one caller request: the user's text plus everything needed to
// build the upstream prompt.
type ChatTurn struct {
	UserID         uint64
	Model          string
	Message        string
	History        []ai.Message
	ConversationID *uint64
	Attachments    []attachments.Descriptor
	RequestID      string
}

// FragmentSink delivers one fragment to the caller. A non-nil error means the
// caller is gone and the relay must stop.
type FragmentSink func(fragment string) error

type RelayOptions struct {
	// IdleTimeout aborts a stream when no record arrives for this long. Zero disables it.
	IdleTimeout time.Duration
	// PersistTimeout bounds the post-stream transaction.
	PersistTimeout time.Duration
}

type Relay struct {
	backend   StreamOpener
	assembler *attachments.Assembler
	persister TurnPersister
	events    EventPublisher
	opts      RelayOptions
}

func NewRelay(backend StreamOpener, assembler *attachments.Assembler, persister TurnPersister, opts RelayOptions) *Relay {
	if assembler == nil {
		assembler = attachments.NewAssembler(nil)
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 30 * time.Second
	}
	return &Relay{backend: backend, assembler: assembler, persister: persister, opts: opts}
}

// WithEvents makes the relay announce persisted turns on p.
func (r *Relay) WithEvents(p EventPublisher) *Relay {
	r.events = p
	return r
}

// BuildRequest folds the turn's attachments into the upstream request.
func (r *Relay) BuildRequest(turn ChatTurn) ai.ChatRequest {
	actx := r.assembler.Assemble(turn.Attachments)

	user := ai.Message{Role: RoleUser, Content: actx.Augment(turn.Message)}
	if len(actx.Images) > 0 {
		user.Images = actx.Images
	}

	msgs := make([]ai.Message, 0, len(turn.History)+1)
	msgs = append(msgs, turn.History...)
	msgs = append(msgs, user)

	return ai.ChatRequest{Model: turn.Model, Messages: msgs, Stream: true}
}

// RelayStream is an upstream stream that has been opened successfully and
// not yet drained.
type RelayStream struct {
	relay    *Relay
	turn     ChatTurn
	parent   context.Context
	upstream *ai.ChatStream
	cancel   context.CancelFunc
	idle     *time.Timer
	timedOut atomic.Bool
}

// Open builds the prompt and opens the upstream call. An error here means
// nothing has been sent to the caller yet.
func (r *Relay) Open(ctx context.Context, turn ChatTurn) (*RelayStream, error) {
	req := r.BuildRequest(turn)
	last := req.Messages[len(req.Messages)-1]
	log.Printf("[Relay] open request_id=%s model=%s history=%d attachments=%d images=%d conversation_id=%s",
		turn.RequestID, turn.Model, len(turn.History), len(turn.Attachments), len(last.Images), convIDString(turn.ConversationID))

	streamCtx, cancel := context.WithCancel(ctx)
	upstream, err := r.backend.OpenChatStream(streamCtx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &RelayStream{
		relay:    r,
		turn:     turn,
		parent:   ctx,
		upstream: upstream,
		cancel:   cancel,
	}
	if r.opts.IdleTimeout > 0 {
		s.idle = time.AfterFunc(r.opts.IdleTimeout, func() {
			s.timedOut.Store(true)
			cancel()
		})
	}
	return s, nil
}

type RelayResult struct {
	Fragments int
	Text      string
	// Completed is true when the upstream stream ended normally.
	Completed  bool
	Persisted  *TurnResult
	PersistErr error
}

// Run forwards fragments to sink in arrival order until the upstream ends,
// then records the turn when it completed with content. A caller that goes
// away before the turn is recorded suppresses persistence, even when the
// upstream had already sent its final record.
func (s *RelayStream) Run(sink FragmentSink) RelayResult {
	defer s.close()

	var (
		res     RelayResult
		acc     strings.Builder
		meta    map[string]any
		sawDone bool
	)
	for {
		rec, err := s.upstream.Next()
		if errors.Is(err, io.EOF) {
			res.Completed = true
			break
		}
		if err != nil {
			res.Completed = sawDone
			s.logAbort(err)
			break
		}
		s.touch()

		if rec.Error != "" {
			log.Printf("[Relay] upstream error record request_id=%s err=%s", s.turn.RequestID, rec.Error)
		}
		if rec.Done {
			sawDone = true
			meta = doneMetadata(s.turn.Model, rec)
		}
		if rec.Content == "" {
			continue
		}
		if err := sink(rec.Content); err != nil {
			log.Printf("[Relay] caller gone request_id=%s fragments=%d err=%v", s.turn.RequestID, res.Fragments, err)
			res.Text = acc.String()
			return res
		}
		acc.WriteString(rec.Content)
		res.Fragments++
	}
	res.Text = acc.String()

	if skipped := s.upstream.Skipped(); skipped > 0 {
		log.Printf("[Relay] skipped malformed records request_id=%s count=%d", s.turn.RequestID, skipped)
	}
	if !res.Completed {
		return res
	}
	if res.Fragments == 0 {
		log.Printf("[Relay] empty stream request_id=%s", s.turn.RequestID)
		return res
	}
	if s.turn.ConversationID == nil || s.relay.persister == nil || s.turn.Message == "" {
		return res
	}
	if err := s.parent.Err(); err != nil {
		log.Printf("[Relay] caller gone before persist request_id=%s err=%v", s.turn.RequestID, err)
		return res
	}

	res.Persisted, res.PersistErr = s.relay.persist(s.parent, s.turn, res.Text, meta)
	return res
}

func (s *RelayStream) touch() {
	if s.idle != nil {
		s.idle.Reset(s.relay.opts.IdleTimeout)
	}
}

func (s *RelayStream) logAbort(err error) {
	switch {
	case s.timedOut.Load():
		log.Printf("[Relay] idle timeout request_id=%s after=%s", s.turn.RequestID, s.relay.opts.IdleTimeout)
	case s.parent.Err() != nil:
		log.Printf("[Relay] caller cancelled request_id=%s err=%v", s.turn.RequestID, s.parent.Err())
	default:
		log.Printf("[Relay] upstream read failed request_id=%s err=%v", s.turn.RequestID, err)
	}
}

func (s *RelayStream) close() {
	if s.idle != nil {
		s.idle.Stop()
	}
	s.cancel()
	_ = s.upstream.Close()
}

// persist runs detached from the caller's context: the caller has already
// received the whole stream by the time it starts.
func (r *Relay) persist(parent context.Context, turn ChatTurn, text string, meta map[string]any) (*TurnResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.opts.PersistTimeout)
	defer cancel()

	res, err := r.persister.PersistTurn(ctx, Turn{
		UserID:            turn.UserID,
		ConversationID:    *turn.ConversationID,
		UserText:          turn.Message,
		AssistantText:     text,
		Attachments:       turn.Attachments,
		AssistantMetadata: meta,
	})
	if err != nil {
		log.Printf("[Relay] persist failed request_id=%s conversation_id=%d err=%v", turn.RequestID, *turn.ConversationID, err)
		return nil, err
	}
	log.Printf("[Relay] persisted request_id=%s conversation_id=%d user_msg=%d assistant_msg=%d count=%d",
		turn.RequestID, *turn.ConversationID, res.UserMessageID, res.AssistantMessageID, res.MessageCount)

	if r.events != nil {
		r.publish(ctx, turn, res)
	}
	return res, nil
}

func (r *Relay) publish(ctx context.Context, turn ChatTurn, res *TurnResult) {
	id, err := common.NewULID()
	if err != nil {
		log.Printf("[Relay] event id failed request_id=%s err=%v", turn.RequestID, err)
		return
	}
	ev := TurnEvent{
		EventID:            id,
		Type:               EventTurnPersisted,
		ConversationID:     *turn.ConversationID,
		UserMessageID:      res.UserMessageID,
		AssistantMessageID: res.AssistantMessageID,
		OccurredAt:         time.Now().UTC(),
	}
	if err := r.events.PublishTurn(ctx, ev); err != nil {
		log.Printf("[Relay] publish event failed request_id=%s conversation_id=%d err=%v", turn.RequestID, ev.ConversationID, err)
	}
}

func doneMetadata(model string, rec ai.StreamRecord) map[string]any {
	m := map[string]any{
		"model":             model,
		"prompt_eval_count": rec.PromptEvalCount,
		"eval_count":        rec.EvalCount,
		"total_duration_ms": rec.TotalDuration.Milliseconds(),
	}
	if rec.DoneReason != "" {
		m["done_reason"] = rec.DoneReason
	}
	return m
}

func convIDString(id *uint64) string {
	if id == nil {
		return "none"
	}
	return strconv.FormatUint(*id, 10)
}
