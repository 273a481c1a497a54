package models

import (
	"time"

	"gorm.io/datatypes"
)

type LeaveStatus string

// Статусы LOA
const (
	StatusPending    LeaveStatus = "PENDING"     // Ждет решения администратора
	StatusActive     LeaveStatus = "ACTIVE"      // Сотрудник в отпуске
	StatusDenied     LeaveStatus = "DENIED"      // Отклонено
	StatusCompleted  LeaveStatus = "COMPLETED"   // Закончился сам по времени
	StatusEndedEarly LeaveStatus = "ENDED_EARLY" // Завершен досрочно
	StatusMerged     LeaveStatus = "MERGED"      // Запрос на продление влит в исходный LOA
)

// IsTerminal проверяет, что из статуса больше нет переходов
func (s LeaveStatus) IsTerminal() bool {
	switch s {
	case StatusDenied, StatusCompleted, StatusEndedEarly, StatusMerged:
		return true
	}
	return false
}

type LeaveRecord struct {
	ID            int64       `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	UserID        string      `gorm:"type:varchar(32);not null;index:idx_leave_user_status" json:"user_id"`
	RequestedAt   Timestamp   `gorm:"type:varchar(32);not null" json:"requested_at"`
	StartTime     Timestamp   `gorm:"type:varchar(32);not null" json:"start_time"`
	EndTime       Timestamp   `gorm:"type:varchar(32);not null;index:idx_leave_status_end" json:"end_time"`
	DurationMs    int64       `gorm:"not null" json:"duration_ms"`
	Reason        string      `gorm:"type:text;not null" json:"reason"`
	Status        LeaveStatus `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_leave_user_status;index:idx_leave_status_end" json:"status"`
	ApprovedBy    *string     `gorm:"type:varchar(32)" json:"approved_by,omitempty"`
	ApprovedAt    *Timestamp  `gorm:"type:varchar(32)" json:"approved_at,omitempty"`
	DeniedBy      *string     `gorm:"type:varchar(32)" json:"denied_by,omitempty"`
	DeniedAt      *Timestamp  `gorm:"type:varchar(32)" json:"denied_at,omitempty"`
	EndedEarlyAt  *Timestamp  `gorm:"type:varchar(32)" json:"ended_early_at,omitempty"`
	IsExtension   bool        `gorm:"not null;default:false" json:"is_extension"`
	OriginalLoaID *int64      `gorm:"index" json:"original_loa_id,string,omitempty"`
}

func (LeaveRecord) TableName() string {
	return "leave_records"
}

// IsOnLeave - активен и окно еще не закончилось.
// Строка со статусом ACTIVE, но с прошедшим EndTime, ждет реконсилера и отпуском не считается.
func (r *LeaveRecord) IsOnLeave(now time.Time) bool {
	return r.Status == StatusActive && r.EndTime.After(now)
}

// Window возвращает фактическую длину окна в миллисекундах
func (r *LeaveRecord) Window() int64 {
	return r.EndTime.Sub(r.StartTime.Time).Milliseconds()
}

// EndedEarly - был ли LOA завершен раньше запланированного конца
func (r *LeaveRecord) EndedEarly() bool {
	return r.EndedEarlyAt != nil && r.EndedEarlyAt.Before(r.EndTime.Time)
}

// EditHistoryEntry - запись аудита изменений полей LOA. Только добавляется.
type EditHistoryEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	LoaID        int64     `gorm:"not null;index" json:"loa_id,string"`
	EditedBy     string    `gorm:"type:varchar(32);not null" json:"edited_by"`
	EditedAt     Timestamp `gorm:"type:varchar(32);not null" json:"edited_at"`
	FieldChanged string    `gorm:"type:varchar(32);not null" json:"field_changed"`
	OldValue     string    `gorm:"type:text" json:"old_value"`
	NewValue     string    `gorm:"type:text" json:"new_value"`
}

func (EditHistoryEntry) TableName() string {
	return "leave_edit_history"
}

const FieldReason = "reason"

// События журнала LOA
const (
	EventRequested    = "requested"
	EventApproved     = "approved"
	EventDenied       = "denied"
	EventExtended     = "extended"
	EventReasonEdited = "reason_edited"
	EventEndedEarly   = "ended_early"
	EventCompleted    = "completed"
	EventMerged       = "merged"
)

// LeaveEvent - журнал переходов, пишется в той же транзакции, что и сам переход
type LeaveEvent struct {
	ID      uint           `gorm:"primaryKey" json:"id"`
	LoaID   int64          `gorm:"not null;index" json:"loa_id,string"`
	Event   string         `gorm:"type:varchar(20);not null" json:"event"`
	Actor   string         `gorm:"type:varchar(32)" json:"actor,omitempty"`
	At      Timestamp      `gorm:"type:varchar(32);not null" json:"at"`
	Payload datatypes.JSON `json:"payload,omitempty"`
}

func (LeaveEvent) TableName() string {
	return "leave_events"
}
