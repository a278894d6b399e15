package model

type TicketTodo struct {
	TodoID             uint64  `gorm:"column:todo_id;primaryKey;autoIncrement"`
	TicketID           uint64  `gorm:"column:ticket_id;not null;index:idx_todos_ticket"`
	Title              string  `gorm:"column:title;type:text;not null"`
	Description        string  `gorm:"column:description;type:text;not null"`
	Priority           int     `gorm:"column:priority;not null;default:3"`
	Category           string  `gorm:"column:category;type:text;not null"`
	Status             string  `gorm:"column:status;type:text;not null"`
	OrderIndex         int     `gorm:"column:order_index;not null"`
	EstimatedHours     float64 `gorm:"column:estimated_hours;not null;default:0"`
	ActualHours        float64 `gorm:"column:actual_hours;not null;default:0"`
	DependsOn          string  `gorm:"column:depends_on;type:text;not null"` // JSON array of sibling order indexes
	AcceptanceCriteria string  `gorm:"column:acceptance_criteria;type:text;not null"`
}

func (TicketTodo) TableName() string {
	return "ticket_todos"
}
