package model

import "time"

type Ticket struct {
	TicketID      uint64     `gorm:"column:ticket_id;primaryKey;autoIncrement"`
	TrackerKey    string     `gorm:"column:tracker_key;type:text;not null;uniqueIndex:uq_tickets_tracker_key"`
	Summary       string     `gorm:"column:summary;type:text;not null"`
	Description   string     `gorm:"column:description;type:text;not null"`
	Status        string     `gorm:"column:status;type:text;not null;index:idx_tickets_status_updated,priority:1"`
	Priority      string     `gorm:"column:priority;type:text;not null"`
	Assignee      *string    `gorm:"column:assignee;type:text"`
	Reporter      string     `gorm:"column:reporter;type:text;not null"`
	Labels        string     `gorm:"column:labels;type:text;not null"`
	RepositoryURL *string    `gorm:"column:repository_url;type:text"`
	Solution      *string    `gorm:"column:solution;type:text"`
	RetryCount    int        `gorm:"column:retry_count;not null;default:0"`
	HoursConsumed *float64   `gorm:"column:hours_consumed"`
	ErrorMessage  *string    `gorm:"column:error_message;type:text"`
	SessionID     *uint64    `gorm:"column:session_id;index:idx_tickets_session"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;not null;index:idx_tickets_status_updated,priority:2"`
	LastProcessed *time.Time `gorm:"column:last_processed_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}
