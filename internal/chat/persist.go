package chat

import (
	"context"
	"fmt"
	"log"

	"github.com/suPer8Hu/woolychat/internal/attachments"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Turn is one completed user/assistant exchange ready to be recorded.
type Turn struct {
	UserID         uint64
	ConversationID uint64
	// UserText is what the user typed, never the attachment-augmented prompt.
	UserText      string
	AssistantText string
	Attachments   []attachments.Descriptor
	// AssistantMetadata is stored on the assistant message as-is.
	AssistantMetadata map[string]any
}

type TurnResult struct {
	UserMessageID      uint64
	AssistantMessageID uint64
	AttachmentIDs      []uint64
	MessageCount       int64
	Title              string
}

// Coordinator records turns atomically. Turns on the same conversation are
// serialized; turns on different conversations proceed independently.
type Coordinator struct {
	db    *gorm.DB
	locks *keyedMutex
}

func NewCoordinator(db *gorm.DB) *Coordinator {
	return &Coordinator{db: db, locks: newKeyedMutex()}
}

// PersistTurn writes the user message, its attachments, the assistant reply
// and the conversation metadata in one transaction. On any error nothing of
// the turn remains.
func (c *Coordinator) PersistTurn(ctx context.Context, t Turn) (*TurnResult, error) {
	unlock := c.locks.Lock(t.ConversationID)
	defer unlock()

	var res TurnResult
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := getOwnedConversation(tx, t.UserID, t.ConversationID)
		if err != nil {
			return err
		}

		userMsg := &Message{
			ConversationID: conv.ID,
			Role:           RoleUser,
			Content:        t.UserText,
		}
		if err := insertMessage(tx, userMsg); err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}
		res.UserMessageID = userMsg.ID

		for _, d := range t.Attachments {
			a := attachmentFromDescriptor(userMsg.ID, d)
			if err := tx.Create(&a).Error; err != nil {
				return fmt.Errorf("insert attachment %q: %w", d.OriginalFilename, err)
			}
			res.AttachmentIDs = append(res.AttachmentIDs, a.ID)
		}

		if _, err := resyncMessageCount(tx, conv.ID); err != nil {
			return fmt.Errorf("resync message count: %w", err)
		}

		res.Title = conv.Title
		if conv.TitleSource == TitlePlaceholder {
			res.Title = GenerateTitle(t.UserText)
			if err := tx.Model(&Conversation{}).Where("id = ?", conv.ID).
				Updates(map[string]any{"title": res.Title, "title_source": TitleAuto}).Error; err != nil {
				return fmt.Errorf("update title: %w", err)
			}
		}

		assistantMsg := &Message{
			ConversationID: conv.ID,
			Role:           RoleAssistant,
			Content:        t.AssistantText,
		}
		if len(t.AssistantMetadata) > 0 {
			assistantMsg.Metadata = datatypes.JSONMap(t.AssistantMetadata)
		}
		if err := insertMessage(tx, assistantMsg); err != nil {
			return fmt.Errorf("insert assistant message: %w", err)
		}
		res.AssistantMessageID = assistantMsg.ID

		res.MessageCount, err = resyncMessageCount(tx, conv.ID)
		if err != nil {
			return fmt.Errorf("resync message count: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Printf("[PersistTurn] rolled back conversation_id=%d err=%v", t.ConversationID, err)
		return nil, err
	}
	return &res, nil
}

func attachmentFromDescriptor(messageID uint64, d attachments.Descriptor) Attachment {
	a := Attachment{
		MessageID:        messageID,
		Filename:         d.Filename,
		OriginalFilename: d.OriginalFilename,
		FilePath:         d.FilePath,
		FileSize:         d.FileSize,
		MimeType:         d.MimeType,
	}
	if d.ExtractedText != nil && *d.ExtractedText != "" {
		text := *d.ExtractedText
		a.ExtractedText = &text
		a.IsProcessed = true
		a.HasText = true
	}
	return a
}
