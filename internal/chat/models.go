package chat

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ValidRole reports whether role is one of the two stored message roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// TitleSource records who last set a conversation title. Only placeholder
// titles are eligible for automatic replacement.
type TitleSource string

const (
	TitlePlaceholder TitleSource = "placeholder"
	TitleAuto        TitleSource = "auto"
	TitleUser        TitleSource = "user"
)

const (
	DefaultTitle        = "New Conversation"
	DefaultTagColor     = "#6c757d"
	DefaultProjectColor = "#667eea"
)

type User struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"type:varchar(80);uniqueIndex;not null" json:"username"`
	Email     *string   `gorm:"type:varchar(120);uniqueIndex" json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

type Conversation struct {
	ID           uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint64      `gorm:"index;not null" json:"-"`
	Title        string      `gorm:"type:varchar(200);not null" json:"title"`
	TitleSource  TitleSource `gorm:"type:varchar(16);not null;default:placeholder" json:"title_source"`
	ModelName    string      `gorm:"type:varchar(100);not null;default:''" json:"model_name"`
	MessageCount int64       `gorm:"not null;default:0" json:"message_count"`
	IsArchived   bool        `gorm:"not null;default:false" json:"is_archived"`
	IsFavorite   bool        `gorm:"not null;default:false" json:"is_favorite"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`

	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
	Tags     []Tag     `gorm:"many2many:conversation_tags" json:"tags,omitempty"`
	Projects []Project `gorm:"many2many:project_conversations" json:"-"`
}

func (Conversation) TableName() string { return "conversations" }

type Message struct {
	ID             uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64            `gorm:"index:idx_msg_conv_created,priority:1;not null" json:"conversation_id"`
	Role           string            `gorm:"type:varchar(16);not null" json:"role"`
	Content        string            `gorm:"type:text;not null" json:"content"`
	Metadata       datatypes.JSONMap `gorm:"column:message_metadata" json:"message_metadata"`
	CreatedAt      time.Time         `gorm:"index:idx_msg_conv_created,priority:2" json:"created_at"`

	Attachments []Attachment `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"attachments"`
}

func (Message) TableName() string { return "messages" }

type Attachment struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID        uint64    `gorm:"index;not null" json:"-"`
	Filename         string    `gorm:"type:varchar(255);not null" json:"filename"`
	OriginalFilename string    `gorm:"type:varchar(255);not null" json:"original_filename"`
	FilePath         string    `gorm:"type:varchar(500);not null" json:"-"`
	FileSize         int64     `gorm:"not null" json:"file_size"`
	MimeType         string    `gorm:"type:varchar(100);not null" json:"mime_type"`
	ExtractedText    *string   `gorm:"type:text" json:"-"`
	IsProcessed      bool      `gorm:"not null;default:false" json:"is_processed"`
	ProcessingError  *string   `gorm:"type:text" json:"-"`
	UploadedAt       time.Time `gorm:"autoCreateTime" json:"uploaded_at"`

	HasText bool `gorm:"-" json:"has_text"`
}

func (Attachment) TableName() string { return "attachments" }

func (a *Attachment) AfterFind(*gorm.DB) error {
	a.HasText = a.ExtractedText != nil && *a.ExtractedText != ""
	return nil
}

// Tag is a global label that conversations can carry.
type Tag struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	Color     string    `gorm:"type:varchar(7);not null;default:'#6c757d'" json:"color"`
	CreatedAt time.Time `json:"created_at"`

	ConversationCount int64 `gorm:"->;-:migration" json:"conversation_count"`
}

func (Tag) TableName() string { return "tags" }

// Project groups a user's conversations.
type Project struct {
	ID          uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint64            `gorm:"index;not null" json:"-"`
	Name        string            `gorm:"type:varchar(100);not null" json:"name"`
	Description string            `gorm:"type:text" json:"description"`
	Color       string            `gorm:"type:varchar(7);not null;default:'#667eea'" json:"color"`
	Settings    datatypes.JSONMap `json:"settings"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	ConversationCount int64 `gorm:"->;-:migration" json:"conversation_count"`
}

func (Project) TableName() string { return "projects" }

// conversationTag and projectConversation are the join rows behind
// Conversation.Tags and Conversation.Projects.
type conversationTag struct {
	ConversationID uint64 `gorm:"primaryKey"`
	TagID          uint64 `gorm:"primaryKey"`
}

func (conversationTag) TableName() string { return "conversation_tags" }

type projectConversation struct {
	ProjectID      uint64 `gorm:"primaryKey"`
	ConversationID uint64 `gorm:"primaryKey"`
}

func (projectConversation) TableName() string { return "project_conversations" }
