package model

import "time"

type BotSession struct {
	SessionID      uint64  `gorm:"column:session_id;primaryKey;autoIncrement"`
	Customer       string  `gorm:"column:customer;type:text;not null"`
	PurchasedHours float64 `gorm:"column:purchased_hours;not null"`
	ConsumedHours  float64 `gorm:"column:consumed_hours;not null;default:0"`
	// RemainingHours is derived but persisted so the (status, remaining)
	// scan index stays usable; every write keeps it equal to
	// purchased - consumed.
	RemainingHours float64 `gorm:"column:remaining_hours;not null;index:idx_sessions_status_remaining,priority:2"`
	Status         string  `gorm:"column:status;type:text;not null;index:idx_sessions_status_remaining,priority:1"`

	FirstWarningSent  bool `gorm:"column:first_warning_sent;not null;default:0"`
	SecondWarningSent bool `gorm:"column:second_warning_sent;not null;default:0"`
	ExpiryNotified    bool `gorm:"column:expiry_notified;not null;default:0"`

	ProcessedTickets  int `gorm:"column:processed_tickets;not null;default:0"`
	SuccessfulTickets int `gorm:"column:successful_tickets;not null;default:0"`
	FailedTickets     int `gorm:"column:failed_tickets;not null;default:0"`

	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;not null"`
	LastActivity *time.Time `gorm:"column:last_activity_at"`
}

func (BotSession) TableName() string {
	return "bot_sessions"
}
