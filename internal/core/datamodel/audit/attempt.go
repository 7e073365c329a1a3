package audit

import "time"

type AuthAttempt struct {
	ID         int64     `gorm:"primaryKey"`
	SessionID  string    `gorm:"column:session_id;index;not null"`
	Email      string    `gorm:"column:email;index"`
	Step       string    `gorm:"column:step;not null"`
	Result     string    `gorm:"column:result;not null"`
	Message    string    `gorm:"column:message"`
	DurationMS int64     `gorm:"column:duration_ms"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

func (AuthAttempt) TableName() string {
	return "auth_attempts"
}
