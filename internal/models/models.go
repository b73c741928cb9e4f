package models

import "time"

// 订阅档位。pro 档在计费与限流逻辑中使用，这里显式声明，避免隐式字符串。
const (
	TierBasic = "basic"
	TierFree  = "free"
	TierPro   = "pro"
)

// 订阅状态。
const (
	SubscriptionActive    = "active"
	SubscriptionInactive  = "inactive"
	SubscriptionCancelled = "cancelled"
)

// 消息处理状态，由后台 worker 单向推进：pending → processing → completed/failed。
const (
	MessagePending    = "pending"
	MessageProcessing = "processing"
	MessageCompleted  = "completed"
	MessageFailed     = "failed"
)

type User struct {
	ID                 uint   `gorm:"primaryKey"`
	MobileNumber       string `gorm:"uniqueIndex;size:20;not null"`
	PasswordHash       string
	SubscriptionTier   string `gorm:"size:16;not null;default:basic"`
	SubscriptionStatus string `gorm:"size:16;not null;default:inactive"`
	DailyUsageCount    int    `gorm:"not null;default:0"`
	LastUsageReset     time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Chatroom struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       uint   `gorm:"index;not null"`
	Title        string `gorm:"size:128;not null"`
	MessageCount int    `gorm:"not null;default:0"`
	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Message struct {
	ID               uint   `gorm:"primaryKey"`
	ChatroomID       uint   `gorm:"index:idx_msg_chatroom_id;not null"`
	Content          string `gorm:"type:text;not null"`
	IsUserMessage    bool   `gorm:"not null;default:true"`
	AIResponse       string `gorm:"type:text"`
	ProcessingStatus string `gorm:"size:16;not null;default:pending"`
	CreatedAt        time.Time
}

type Subscription struct {
	ID                   uint   `gorm:"primaryKey"`
	UserID               uint   `gorm:"index;not null"`
	StripeSubscriptionID string `gorm:"index;size:64"`
	Status               string `gorm:"size:16;not null"`
	Tier                 string `gorm:"size:16;not null"`
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CreatedAt            time.Time
}
