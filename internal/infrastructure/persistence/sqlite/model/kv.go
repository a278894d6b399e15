package model

import "time"

type PilotKV struct {
	Key       string    `gorm:"column:key;type:text;primaryKey"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (PilotKV) TableName() string {
	return "pilot_kv"
}
