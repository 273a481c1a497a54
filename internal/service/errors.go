package service

import (
	"errors"
	"fmt"

	"rceutils-bot/internal/models"
)

// Sentinel errors - проверять через errors.Is
var (
	// ErrValidation - неверные входные данные (длительность, причина, пользователь)
	ErrValidation = errors.New("validation failed")

	// ErrRecordNotFound - LOA с таким id нет
	ErrRecordNotFound = errors.New("leave record not found")

	// ErrInvalidTransition - состояние записи не позволяет операцию
	ErrInvalidTransition = errors.New("invalid leave status transition")

	// ErrCollaborator - ошибка Discord/уведомлений во время побочных действий
	ErrCollaborator = errors.New("collaborator failure")
)

// ValidationError описывает конкретное поле
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// TransitionError - операция Op над записью в статусе From не разрешена
type TransitionError struct {
	LoaID  int64
	Op     string
	From   models.LeaveStatus
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s leave %d in status %s", e.Op, e.LoaID, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func notFound(loaID int64) error {
	return fmt.Errorf("%w: %d", ErrRecordNotFound, loaID)
}

func collaboratorErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCollaborator, op, err)
}
