package chat

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrForbidden            = errors.New("conversation belongs to another user")
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// EnsureUser returns the user with the given username, creating it on first use.
func (r *Repo) EnsureUser(ctx context.Context, username string) (*User, error) {
	u := User{Username: username}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&u).Error; err != nil {
		return nil, err
	}
	var out User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) GetUser(ctx context.Context, id uint64) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repo) CreateConversation(ctx context.Context, c *Conversation) error {
	if PlaceholderTitle(c.Title) {
		if c.Title == "" {
			c.Title = DefaultTitle
		}
		c.TitleSource = TitlePlaceholder
	} else if c.TitleSource == "" {
		c.TitleSource = TitleUser
	}
	return r.db.WithContext(ctx).Create(c).Error
}

// GetConversation loads a conversation owned by userID.
func (r *Repo) GetConversation(ctx context.Context, userID, id uint64) (*Conversation, error) {
	return getOwnedConversation(r.db.WithContext(ctx), userID, id)
}

func getOwnedConversation(tx *gorm.DB, userID, id uint64) (*Conversation, error) {
	var c Conversation
	if err := tx.First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	return &c, nil
}

// GetConversationWithMessages loads messages in creation order with their
// attachments, plus the conversation's tags.
func (r *Repo) GetConversationWithMessages(ctx context.Context, userID, id uint64) (*Conversation, error) {
	c, err := r.GetConversation(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", id).
		Order("created_at ASC, id ASC").
		Preload("Attachments").
		Find(&c.Messages).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(c).Order("tags.name ASC").Association("Tags").Find(&c.Tags); err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns non-archived conversations, most recently updated first.
func (r *Repo) ListConversations(ctx context.Context, userID uint64) ([]Conversation, error) {
	var out []Conversation
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_archived = ?", userID, false).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type ConversationUpdate struct {
	Title      *string
	ModelName  *string
	IsArchived *bool
	IsFavorite *bool
}

func (r *Repo) UpdateConversation(ctx context.Context, userID, id uint64, u ConversationUpdate) (*Conversation, error) {
	var out *Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := getOwnedConversation(tx, userID, id)
		if err != nil {
			return err
		}
		updates := map[string]any{}
		if u.Title != nil {
			updates["title"] = *u.Title
			updates["title_source"] = TitleUser
		}
		if u.ModelName != nil {
			updates["model_name"] = *u.ModelName
		}
		if u.IsArchived != nil {
			updates["is_archived"] = *u.IsArchived
		}
		if u.IsFavorite != nil {
			updates["is_favorite"] = *u.IsFavorite
		}
		if len(updates) > 0 {
			if err := tx.Model(c).Updates(updates).Error; err != nil {
				return err
			}
		}
		out, err = getOwnedConversation(tx, userID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteConversation removes the conversation with its messages, attachments
// and tag/project links.
func (r *Repo) DeleteConversation(ctx context.Context, userID, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getOwnedConversation(tx, userID, id); err != nil {
			return err
		}
		msgIDs := tx.Model(&Message{}).Select("id").Where("conversation_id = ?", id)
		if err := tx.Where("message_id IN (?)", msgIDs).Delete(&Attachment{}).Error; err != nil {
			return fmt.Errorf("delete attachments: %w", err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&conversationTag{}).Error; err != nil {
			return fmt.Errorf("delete tag links: %w", err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&projectConversation{}).Error; err != nil {
			return fmt.Errorf("delete project links: %w", err)
		}
		return tx.Delete(&Conversation{}, id).Error
	})
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return insertMessage(r.db.WithContext(ctx), m)
}

func insertMessage(tx *gorm.DB, m *Message) error {
	if !ValidRole(m.Role) {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	return tx.Omit("Attachments").Create(m).Error
}

// CountMessages returns the live number of messages in a conversation.
func (r *Repo) CountMessages(ctx context.Context, conversationID uint64) (int64, error) {
	return countMessages(r.db.WithContext(ctx), conversationID)
}

func countMessages(tx *gorm.DB, conversationID uint64) (int64, error) {
	var n int64
	if err := tx.Model(&Message{}).Where("conversation_id = ?", conversationID).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// ResyncMessageCount overwrites message_count with the live count.
func (r *Repo) ResyncMessageCount(ctx context.Context, conversationID uint64) (int64, error) {
	return resyncMessageCount(r.db.WithContext(ctx), conversationID)
}

func resyncMessageCount(tx *gorm.DB, conversationID uint64) (int64, error) {
	n, err := countMessages(tx, conversationID)
	if err != nil {
		return 0, err
	}
	if err := tx.Model(&Conversation{}).
		Where("id = ?", conversationID).
		Update("message_count", n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// DeriveTitle builds a title from the first stored user message, or the
// numbered placeholder when the conversation has none yet.
func (r *Repo) DeriveTitle(ctx context.Context, conversationID uint64) (string, error) {
	var first Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND role = ?", conversationID, RoleUser).
		Order("created_at ASC, id ASC").
		First(&first).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return numberedPlaceholder(conversationID), nil
	}
	if err != nil {
		return "", err
	}
	return GenerateTitle(first.Content), nil
}

// ResyncConversation repairs denormalized metadata: the message count, and
// the title when it is still a placeholder and a user message exists.
func (r *Repo) ResyncConversation(ctx context.Context, conversationID uint64) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).First(&c, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	n, err := r.ResyncMessageCount(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	c.MessageCount = n

	if c.TitleSource == TitlePlaceholder && n > 0 {
		title, err := r.DeriveTitle(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if title != numberedPlaceholder(conversationID) {
			if err := r.db.WithContext(ctx).Model(&Conversation{}).
				Where("id = ? AND title_source = ?", conversationID, TitlePlaceholder).
				Updates(map[string]any{"title": title, "title_source": TitleAuto}).Error; err != nil {
				return nil, err
			}
			c.Title = title
			c.TitleSource = TitleAuto
		}
	}
	return &c, nil
}
