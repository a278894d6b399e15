package model

import "time"

type RetryAttempt struct {
	RetryAttemptID uint64     `gorm:"column:retry_attempt_id;primaryKey;autoIncrement"`
	TicketID       uint64     `gorm:"column:ticket_id;not null;index:idx_retry_ticket_operation,priority:1"`
	Operation      string     `gorm:"column:operation;type:text;not null;index:idx_retry_ticket_operation,priority:2"`
	AttemptNumber  int        `gorm:"column:attempt_number;not null"`
	MaxAttempts    int        `gorm:"column:max_attempts;not null"`
	Status         string     `gorm:"column:status;type:text;not null;index:idx_retry_status_next,priority:1"`
	DelaySeconds   int        `gorm:"column:delay_seconds;not null"`
	NextAttemptAt  *time.Time `gorm:"column:next_attempt_at;index:idx_retry_status_next,priority:2"`
	ErrorMessage   string     `gorm:"column:error_message;type:text;not null"`
	Context        string     `gorm:"column:context;type:text;not null"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;not null"`
}

func (RetryAttempt) TableName() string {
	return "retry_attempts"
}
