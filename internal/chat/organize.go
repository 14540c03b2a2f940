package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTagNotFound     = errors.New("tag not found")
	ErrTagExists       = errors.New("tag already exists")
	ErrProjectNotFound = errors.New("project not found")
	ErrInvalidColor    = errors.New("color must be a hex value like #a1b2c3")
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func normalizeColor(color, fallback string) (string, error) {
	color = strings.TrimSpace(color)
	if color == "" {
		return fallback, nil
	}
	if !hexColor.MatchString(color) {
		return "", ErrInvalidColor
	}
	return color, nil
}

// ListTags returns every tag by name with the number of conversations carrying it.
func (r *Repo) ListTags(ctx context.Context) ([]Tag, error) {
	var out []Tag
	if err := r.db.WithContext(ctx).Model(&Tag{}).
		Select("tags.*, COUNT(conversation_tags.conversation_id) AS conversation_count").
		Joins("LEFT JOIN conversation_tags ON conversation_tags.tag_id = tags.id").
		Group("tags.id").
		Order("tags.name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) CreateTag(ctx context.Context, name, color string) (*Tag, error) {
	color, err := normalizeColor(color, DefaultTagColor)
	if err != nil {
		return nil, err
	}
	t := &Tag{Name: strings.TrimSpace(name), Color: color}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Tag{}).Where("name = ?", t.Name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrTagExists
		}
		return tx.Create(t).Error
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// TagConversation attaches a tag to a conversation owned by userID. Tagging
// twice is a no-op.
func (r *Repo) TagConversation(ctx context.Context, userID, conversationID, tagID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getOwnedConversation(tx, userID, conversationID); err != nil {
			return err
		}
		if err := tx.First(&Tag{}, tagID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTagNotFound
			}
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&conversationTag{ConversationID: conversationID, TagID: tagID}).Error
	})
}

func (r *Repo) UntagConversation(ctx context.Context, userID, conversationID, tagID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getOwnedConversation(tx, userID, conversationID); err != nil {
			return err
		}
		return tx.Where("conversation_id = ? AND tag_id = ?", conversationID, tagID).
			Delete(&conversationTag{}).Error
	})
}

// ListProjects returns the user's projects, newest first, with conversation counts.
func (r *Repo) ListProjects(ctx context.Context, userID uint64) ([]Project, error) {
	var out []Project
	if err := r.db.WithContext(ctx).Model(&Project{}).
		Select("projects.*, COUNT(project_conversations.conversation_id) AS conversation_count").
		Joins("LEFT JOIN project_conversations ON project_conversations.project_id = projects.id").
		Where("projects.user_id = ?", userID).
		Group("projects.id").
		Order("projects.created_at DESC, projects.id DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) CreateProject(ctx context.Context, userID uint64, name, description, color string) (*Project, error) {
	color, err := normalizeColor(color, DefaultProjectColor)
	if err != nil {
		return nil, err
	}
	p := &Project{
		UserID:      userID,
		Name:        strings.TrimSpace(name),
		Description: description,
		Color:       color,
		Settings:    map[string]any{},
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

func getOwnedProject(tx *gorm.DB, userID, id uint64) (*Project, error) {
	var p Project
	if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

// DeleteProject removes the project and its links; the conversations stay.
func (r *Repo) DeleteProject(ctx context.Context, userID, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getOwnedProject(tx, userID, id); err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&projectConversation{}).Error; err != nil {
			return fmt.Errorf("delete project links: %w", err)
		}
		return tx.Delete(&Project{}, id).Error
	})
}

// AddProjectConversation files a conversation under a project. Both must
// belong to userID.
func (r *Repo) AddProjectConversation(ctx context.Context, userID, projectID, conversationID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getOwnedProject(tx, userID, projectID); err != nil {
			return err
		}
		if _, err := getOwnedConversation(tx, userID, conversationID); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&projectConversation{ProjectID: projectID, ConversationID: conversationID}).Error
	})
}

func (r *Repo) RemoveProjectConversation(ctx context.Context, userID, projectID, conversationID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getOwnedProject(tx, userID, projectID); err != nil {
			return err
		}
		return tx.Where("project_id = ? AND conversation_id = ?", projectID, conversationID).
			Delete(&projectConversation{}).Error
	})
}

// ProjectConversations lists a project's conversations, most recently updated first.
func (r *Repo) ProjectConversations(ctx context.Context, userID, projectID uint64) ([]Conversation, error) {
	if _, err := getOwnedProject(r.db.WithContext(ctx), userID, projectID); err != nil {
		return nil, err
	}
	var out []Conversation
	if err := r.db.WithContext(ctx).
		Joins("JOIN project_conversations ON project_conversations.conversation_id = conversations.id").
		Where("project_conversations.project_id = ?", projectID).
		Order("conversations.updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
