package model

import "time"

// Execution rows are an immutable audit trail; the repository only ever
// inserts them.
type Execution struct {
	ExecutionID string    `gorm:"column:execution_id;type:text;primaryKey"`
	TicketID    uint64    `gorm:"column:ticket_id;not null;index:idx_executions_ticket"`
	ActionKind  string    `gorm:"column:action_kind;type:text;not null"`
	Target      string    `gorm:"column:target;type:text;not null"`
	Before      string    `gorm:"column:before_content;type:text;not null"`
	After       string    `gorm:"column:after_content;type:text;not null"`
	ExitCode    int       `gorm:"column:exit_code;not null;default:0"`
	Status      string    `gorm:"column:status;type:text;not null"`
	DurationMS  int64     `gorm:"column:duration_ms;not null;default:0"`
	Simulated   bool      `gorm:"column:simulated;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (Execution) TableName() string {
	return "executions"
}
