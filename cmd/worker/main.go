package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/woolychat/internal/chat"
	"github.com/suPer8Hu/woolychat/internal/config"
	"github.com/suPer8Hu/woolychat/internal/db"
	"github.com/suPer8Hu/woolychat/internal/store/rabbitmq"
)

const (
	maxAttempts = 3
	retryDelay  = 5 * time.Second
)

var errBadEvent = errors.New("bad event")

type resyncer interface {
	ResyncConversation(ctx context.Context, conversationID uint64) (*chat.Conversation, error)
}

func decodeEvent(body []byte) (chat.TurnEvent, error) {
	var ev chat.TurnEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", errBadEvent, err)
	}
	if ev.Type != chat.EventTurnPersisted || ev.ConversationID == 0 {
		return ev, fmt.Errorf("%w: type=%q conversation_id=%d", errBadEvent, ev.Type, ev.ConversationID)
	}
	return ev, nil
}

// handleEvent repairs the conversation's denormalized metadata. A deleted
// conversation is not an error.
func handleEvent(ctx context.Context, repo resyncer, ev chat.TurnEvent) error {
	conv, err := repo.ResyncConversation(ctx, ev.ConversationID)
	if errors.Is(err, chat.ErrConversationNotFound) {
		log.Printf("event=%s conversation_id=%d gone, skipping", ev.EventID, ev.ConversationID)
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("event=%s conversation_id=%d count=%d title=%q", ev.EventID, conv.ID, conv.MessageCount, conv.Title)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.RabbitURL == "" {
		log.Fatalf("RABBIT_URL is required for the worker")
	}

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	repo := chat.NewRepo(gdb)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	retries, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("retry publisher: %v", err)
	}
	defer retries.Close()

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				ev, err := decodeEvent(d.Body)
				if err != nil {
					log.Printf("worker=%d %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleEvent(ctx, repo, ev); err != nil {
					attempt := rabbitmq.Attempt(d.Headers) + 1
					log.Printf("worker=%d event=%s failed attempt=%d cost=%s err=%v", workerID, ev.EventID, attempt, time.Since(start), err)
					if attempt < maxAttempts {
						perr := retries.PublishRetry(ctx, d.Body, attempt, retryDelay*time.Duration(attempt))
						if perr == nil {
							_ = d.Ack(false)
							continue
						}
						log.Printf("worker=%d event=%s retry publish failed err=%v", workerID, ev.EventID, perr)
					}
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed event=%s err=%v", workerID, ev.EventID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}
