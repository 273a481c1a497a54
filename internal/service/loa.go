package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"rceutils-bot/internal/models"
	"rceutils-bot/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	DefaultHistoryLimit = 10
	maxExtendAttempts   = 3

	// MaxDurationMs - 100 лет, с запасом до переполнения time.Duration (около 292 лет).
	// Значение продублировано в теге RequestInput.DurationMs.
	MaxDurationMs int64 = 100 * 365 * 24 * 60 * 60 * 1000
)

// RequestInput - данные нового запроса LOA
type RequestInput struct {
	UserID        string `json:"user_id" validate:"required,max=32"`
	DurationMs    int64  `json:"duration_ms" validate:"gt=0,lte=3153600000000"`
	Reason        string `json:"reason" validate:"required,max=1000"`
	IsExtension   bool   `json:"is_extension"`
	OriginalLoaID *int64 `json:"original_loa_id" validate:"required_if=IsExtension true"`
}

// LeaveService - машина состояний LOA поверх хранилища.
// Своего изменяемого состояния не держит, каждая операция читает запись заново.
type LeaveService struct {
	repo     repository.LeaveRecordRepository
	validate *validator.Validate
	now      func() time.Time
	logger   *logrus.Logger
}

type Option func(*LeaveService)

// WithClock подменяет источник времени (тесты, реконсилер)
func WithClock(now func() time.Time) Option {
	return func(s *LeaveService) {
		s.now = now
	}
}

func WithLogger(logger *logrus.Logger) Option {
	return func(s *LeaveService) {
		s.logger = logger
	}
}

func NewLeaveService(repo repository.LeaveRecordRepository, opts ...Option) *LeaveService {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	s := &LeaveService{
		repo:     repo,
		validate: validate,
		now:      time.Now,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now - текущее время по часам сервиса
func (s *LeaveService) Now() time.Time {
	return s.now().UTC()
}

// RequestLeave создает запрос в статусе PENDING.
// StartTime/EndTime - заглушки, при одобрении окно пересчитывается от момента одобрения.
// Дубликаты не проверяются: это политика вызывающего кода.
func (s *LeaveService) RequestLeave(ctx context.Context, in RequestInput) (*models.LeaveRecord, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Reason = strings.TrimSpace(in.Reason)

	if err := s.validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}

	if in.IsExtension {
		parent, err := s.repo.GetByID(ctx, *in.OriginalLoaID)
		if err != nil {
			return nil, fmt.Errorf("load original leave: %w", err)
		}
		if parent == nil {
			return nil, notFound(*in.OriginalLoaID)
		}
	} else {
		in.OriginalLoaID = nil
	}

	now := s.Now()
	record := &models.LeaveRecord{
		UserID:        in.UserID,
		RequestedAt:   models.NewTimestamp(now),
		StartTime:     models.NewTimestamp(now),
		EndTime:       models.NewTimestamp(now.Add(time.Duration(in.DurationMs) * time.Millisecond)),
		DurationMs:    in.DurationMs,
		Reason:        in.Reason,
		Status:        models.StatusPending,
		IsExtension:   in.IsExtension,
		OriginalLoaID: in.OriginalLoaID,
	}

	event := newEvent(models.EventRequested, in.UserID, now, map[string]interface{}{
		"duration_ms":  in.DurationMs,
		"reason":       in.Reason,
		"is_extension": in.IsExtension,
	})

	if err := s.repo.Create(ctx, record, event); err != nil {
		return nil, fmt.Errorf("create leave request: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"loa_id":       record.ID,
		"user_id":      record.UserID,
		"duration_ms":  record.DurationMs,
		"is_extension": record.IsExtension,
	}).Info("Leave requested")

	return record, nil
}

// Approve переводит PENDING -> ACTIVE. Окно отсчитывается от момента одобрения,
// длительность берется из запроса без изменений.
func (s *LeaveService) Approve(ctx context.Context, loaID int64, approvedBy string) (*models.LeaveRecord, error) {
	if err := requireActor("approved_by", approvedBy); err != nil {
		return nil, err
	}

	var approved *models.LeaveRecord
	err := s.repo.WithTransaction(ctx, func(tx repository.LeaveRecordRepository) error {
		record, err := load(ctx, tx, loaID)
		if err != nil {
			return err
		}
		if record.Status != models.StatusPending {
			return &TransitionError{LoaID: loaID, Op: "approve", From: record.Status}
		}
		if record.IsExtension {
			return &TransitionError{LoaID: loaID, Op: "approve", From: record.Status, Reason: "extension requests are merged into the original leave"}
		}

		now := s.Now()
		active, err := tx.FindActiveByUser(ctx, record.UserID, now)
		if err != nil {
			return fmt.Errorf("check active leave: %w", err)
		}
		if active != nil {
			return &TransitionError{
				LoaID:  loaID,
				Op:     "approve",
				From:   record.Status,
				Reason: fmt.Sprintf("user already has active leave %d", active.ID),
			}
		}

		start := models.NewTimestamp(now)
		end := models.NewTimestamp(now.Add(time.Duration(record.DurationMs) * time.Millisecond))
		approvedAt := models.NewTimestamp(now)

		ok, err := tx.Apply(ctx, loaID, repository.Change{
			Guard: repository.Guard{Status: models.StatusPending},
			Updates: map[string]interface{}{
				"status":      models.StatusActive,
				"approved_by": approvedBy,
				"approved_at": approvedAt,
				"start_time":  start,
				"end_time":    end,
			},
			Event: newEvent(models.EventApproved, approvedBy, now, map[string]interface{}{
				"start_time": start.String(),
				"end_time":   end.String(),
			}),
		})
		if err != nil {
			return fmt.Errorf("approve leave: %w", err)
		}
		if !ok {
			return rejected(ctx, tx, loaID, "approve")
		}

		record.Status = models.StatusActive
		record.ApprovedBy = &approvedBy
		record.ApprovedAt = &approvedAt
		record.StartTime = start
		record.EndTime = end
		approved = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"loa_id":      approved.ID,
		"user_id":     approved.UserID,
		"approved_by": approvedBy,
		"end_time":    approved.EndTime.String(),
	}).Info("Leave approved")

	return approved, nil
}

// Deny переводит PENDING -> DENIED. Больше запись не меняется.
func (s *LeaveService) Deny(ctx context.Context, loaID int64, deniedBy string) (*models.LeaveRecord, error) {
	if err := requireActor("denied_by", deniedBy); err != nil {
		return nil, err
	}

	record, err := load(ctx, s.repo, loaID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusPending {
		return nil, &TransitionError{LoaID: loaID, Op: "deny", From: record.Status}
	}

	now := s.Now()
	deniedAt := models.NewTimestamp(now)
	ok, err := s.repo.Apply(ctx, loaID, repository.Change{
		Guard: repository.Guard{Status: models.StatusPending},
		Updates: map[string]interface{}{
			"status":    models.StatusDenied,
			"denied_by": deniedBy,
			"denied_at": deniedAt,
		},
		Event: newEvent(models.EventDenied, deniedBy, now, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("deny leave: %w", err)
	}
	if !ok {
		return nil, rejected(ctx, s.repo, loaID, "deny")
	}

	record.Status = models.StatusDenied
	record.DeniedBy = &deniedBy
	record.DeniedAt = &deniedAt

	s.logger.WithFields(logrus.Fields{
		"loa_id":    loaID,
		"user_id":   record.UserID,
		"denied_by": deniedBy,
	}).Info("Leave denied")

	return record, nil
}

// EndEarly переводит ACTIVE -> ENDED_EARLY. EndTime не трогаем: по нему видно, насколько раньше.
func (s *LeaveService) EndEarly(ctx context.Context, loaID int64, endedBy string) (*models.LeaveRecord, error) {
	record, err := load(ctx, s.repo, loaID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusActive {
		return nil, &TransitionError{LoaID: loaID, Op: "end early", From: record.Status}
	}

	now := s.Now()
	endedAt := models.NewTimestamp(now)
	ok, err := s.repo.Apply(ctx, loaID, repository.Change{
		Guard: repository.Guard{Status: models.StatusActive},
		Updates: map[string]interface{}{
			"status":         models.StatusEndedEarly,
			"ended_early_at": endedAt,
		},
		Event: newEvent(models.EventEndedEarly, endedBy, now, map[string]interface{}{
			"scheduled_end": record.EndTime.String(),
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("end leave early: %w", err)
	}
	if !ok {
		return nil, rejected(ctx, s.repo, loaID, "end early")
	}

	record.Status = models.StatusEndedEarly
	record.EndedEarlyAt = &endedAt

	s.logger.WithFields(logrus.Fields{
		"loa_id":   loaID,
		"user_id":  record.UserID,
		"ended_by": endedBy,
	}).Info("Leave ended early")

	return record, nil
}

// CompleteNaturally переводит ACTIVE -> COMPLETED, только если окно уже закончилось.
// Вызывается только реконсилером.
func (s *LeaveService) CompleteNaturally(ctx context.Context, loaID int64) (*models.LeaveRecord, error) {
	record, err := load(ctx, s.repo, loaID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusActive {
		return nil, &TransitionError{LoaID: loaID, Op: "complete", From: record.Status}
	}

	now := s.Now()
	if now.Before(record.EndTime.Time) {
		return nil, &TransitionError{LoaID: loaID, Op: "complete", From: record.Status, Reason: "leave window has not elapsed"}
	}

	ok, err := s.repo.Apply(ctx, loaID, repository.Change{
		Guard: repository.Guard{Status: models.StatusActive, EndTimeAtOrBefore: &now},
		Updates: map[string]interface{}{
			"status": models.StatusCompleted,
		},
		Event: newEvent(models.EventCompleted, "", now, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("complete leave: %w", err)
	}
	if !ok {
		return nil, rejected(ctx, s.repo, loaID, "complete")
	}

	record.Status = models.StatusCompleted
	return record, nil
}

// Extend сдвигает EndTime на additionalMs от текущего конца (продления складываются).
// Только для ACTIVE. Новая причина, если передана, попадает в историю правок.
func (s *LeaveService) Extend(ctx context.Context, loaID int64, additionalMs int64, newReason *string, editedBy string) (*models.LeaveRecord, error) {
	if additionalMs <= 0 {
		return nil, &ValidationError{Field: "additional_ms", Reason: "must be positive"}
	}
	if err := requireActor("edited_by", editedBy); err != nil {
		return nil, err
	}
	if newReason != nil {
		trimmed := strings.TrimSpace(*newReason)
		if trimmed == "" {
			return nil, &ValidationError{Field: "reason", Reason: "must not be empty"}
		}
		newReason = &trimmed
	}

	// end_time сравнивается в условии UPDATE; при гонке двух продлений перечитываем и пробуем снова
	for attempt := 0; attempt < maxExtendAttempts; attempt++ {
		record, err := load(ctx, s.repo, loaID)
		if err != nil {
			return nil, err
		}
		if record.Status != models.StatusActive {
			return nil, &TransitionError{LoaID: loaID, Op: "extend", From: record.Status}
		}
		if err := checkTotalDuration("additional_ms", record.DurationMs, additionalMs); err != nil {
			return nil, err
		}

		now := s.Now()
		change, updated := extendChange(record, additionalMs, newReason, editedBy, now)

		ok, err := s.repo.Apply(ctx, loaID, change)
		if err != nil {
			return nil, fmt.Errorf("extend leave: %w", err)
		}
		if ok {
			s.logger.WithFields(logrus.Fields{
				"loa_id":        loaID,
				"user_id":       record.UserID,
				"additional_ms": additionalMs,
				"end_time":      updated.EndTime.String(),
			}).Info("Leave extended")
			return updated, nil
		}
	}

	return nil, rejected(ctx, s.repo, loaID, "extend")
}

// ApproveExtension вливает запрос на продление в исходный LOA:
// запрос PENDING -> MERGED, исходный ACTIVE продлевается на длительность запроса. Одна транзакция.
func (s *LeaveService) ApproveExtension(ctx context.Context, requestID int64, approvedBy string) (*models.LeaveRecord, error) {
	if err := requireActor("approved_by", approvedBy); err != nil {
		return nil, err
	}

	var extended *models.LeaveRecord
	err := s.repo.WithTransaction(ctx, func(tx repository.LeaveRecordRepository) error {
		req, err := load(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !req.IsExtension || req.OriginalLoaID == nil {
			return &TransitionError{LoaID: requestID, Op: "merge", From: req.Status, Reason: "not an extension request"}
		}
		if req.Status != models.StatusPending {
			return &TransitionError{LoaID: requestID, Op: "merge", From: req.Status}
		}

		parent, err := load(ctx, tx, *req.OriginalLoaID)
		if err != nil {
			return err
		}

		now := s.Now()
		if !parent.IsOnLeave(now) {
			return &TransitionError{LoaID: parent.ID, Op: "extend", From: parent.Status, Reason: "original leave is no longer active"}
		}
		if err := checkTotalDuration("duration_ms", parent.DurationMs, req.DurationMs); err != nil {
			return err
		}

		approvedAt := models.NewTimestamp(now)
		ok, err := tx.Apply(ctx, requestID, repository.Change{
			Guard: repository.Guard{Status: models.StatusPending},
			Updates: map[string]interface{}{
				"status":      models.StatusMerged,
				"approved_by": approvedBy,
				"approved_at": approvedAt,
			},
			Event: newEvent(models.EventMerged, approvedBy, now, map[string]interface{}{
				"original_loa_id": parent.ID,
			}),
		})
		if err != nil {
			return fmt.Errorf("merge extension request: %w", err)
		}
		if !ok {
			return rejected(ctx, tx, requestID, "merge")
		}

		change, updated := extendChange(parent, req.DurationMs, nil, approvedBy, now)
		change.Event = newEvent(models.EventExtended, approvedBy, now, map[string]interface{}{
			"additional_ms":  req.DurationMs,
			"end_time":       updated.EndTime.String(),
			"request_id":     requestID,
			"request_reason": req.Reason,
		})
		ok, err = tx.Apply(ctx, parent.ID, change)
		if err != nil {
			return fmt.Errorf("extend original leave: %w", err)
		}
		if !ok {
			return rejected(ctx, tx, parent.ID, "extend")
		}

		extended = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"request_id":  requestID,
		"loa_id":      extended.ID,
		"approved_by": approvedBy,
		"end_time":    extended.EndTime.String(),
	}).Info("Leave extension merged")

	return extended, nil
}

// EditReason перезаписывает причину в любом статусе, старое и новое значения уходят в историю.
func (s *LeaveService) EditReason(ctx context.Context, loaID int64, newReason, editedBy string) (*models.LeaveRecord, error) {
	newReason = strings.TrimSpace(newReason)
	if newReason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "must not be empty"}
	}
	if err := requireActor("edited_by", editedBy); err != nil {
		return nil, err
	}

	record, err := load(ctx, s.repo, loaID)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	ok, err := s.repo.Apply(ctx, loaID, repository.Change{
		Updates: map[string]interface{}{"reason": newReason},
		Edits:   []models.EditHistoryEntry{reasonEdit(record.Reason, newReason, editedBy, now)},
		Event:   newEvent(models.EventReasonEdited, editedBy, now, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("edit leave reason: %w", err)
	}
	if !ok {
		return nil, notFound(loaID)
	}

	s.logger.WithFields(logrus.Fields{
		"loa_id":    loaID,
		"edited_by": editedBy,
	}).Info("Leave reason edited")

	record.Reason = newReason
	return record, nil
}

// GetActive возвращает действующий LOA пользователя или nil.
// ACTIVE с прошедшим EndTime сюда не попадает.
func (s *LeaveService) GetActive(ctx context.Context, userID string) (*models.LeaveRecord, error) {
	return s.repo.FindActiveByUser(ctx, userID, s.Now())
}

// GetAllActive - все действующие LOA, первыми заканчивающиеся раньше
func (s *LeaveService) GetAllActive(ctx context.Context) ([]models.LeaveRecord, error) {
	return s.repo.FindAllActive(ctx, s.Now())
}

// GetHistory - все LOA пользователя, новые первыми.
// В отличие от GetActive, по EndTime не фильтрует: история включает завершенные записи.
func (s *LeaveService) GetHistory(ctx context.Context, userID string, limit int) ([]models.LeaveRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.repo.FindByUser(ctx, userID, limit)
}

func (s *LeaveService) Get(ctx context.Context, loaID int64) (*models.LeaveRecord, error) {
	return load(ctx, s.repo, loaID)
}

func (s *LeaveService) GetPending(ctx context.Context) ([]models.LeaveRecord, error) {
	return s.repo.FindPending(ctx)
}

func (s *LeaveService) GetPendingForUser(ctx context.Context, userID string) ([]models.LeaveRecord, error) {
	return s.repo.FindPendingByUser(ctx, userID)
}

func (s *LeaveService) GetEditHistory(ctx context.Context, loaID int64) ([]models.EditHistoryEntry, error) {
	if _, err := load(ctx, s.repo, loaID); err != nil {
		return nil, err
	}
	return s.repo.GetEditHistory(ctx, loaID)
}

func (s *LeaveService) GetEvents(ctx context.Context, loaID int64) ([]models.LeaveEvent, error) {
	if _, err := load(ctx, s.repo, loaID); err != nil {
		return nil, err
	}
	return s.repo.GetEvents(ctx, loaID)
}

// FindExpired - ACTIVE записи с EndTime <= сейчас, их закрывает реконсилер
func (s *LeaveService) FindExpired(ctx context.Context) ([]models.LeaveRecord, error) {
	return s.repo.FindExpired(ctx, s.Now())
}

func extendChange(record *models.LeaveRecord, additionalMs int64, newReason *string, editedBy string, now time.Time) (repository.Change, *models.LeaveRecord) {
	oldEnd := record.EndTime.Time
	newEnd := models.NewTimestamp(oldEnd.Add(time.Duration(additionalMs) * time.Millisecond))

	updated := *record
	updated.EndTime = newEnd
	updated.DurationMs = record.DurationMs + additionalMs

	change := repository.Change{
		Guard: repository.Guard{Status: models.StatusActive, EndTime: &oldEnd},
		Updates: map[string]interface{}{
			"end_time":    newEnd,
			"duration_ms": updated.DurationMs,
		},
		Event: newEvent(models.EventExtended, editedBy, now, map[string]interface{}{
			"additional_ms": additionalMs,
			"end_time":      newEnd.String(),
		}),
	}

	if newReason != nil {
		change.Updates["reason"] = *newReason
		change.Edits = append(change.Edits, reasonEdit(record.Reason, *newReason, editedBy, now))
		updated.Reason = *newReason
	}

	return change, &updated
}

func reasonEdit(oldValue, newValue, editedBy string, at time.Time) models.EditHistoryEntry {
	return models.EditHistoryEntry{
		EditedBy:     editedBy,
		EditedAt:     models.NewTimestamp(at),
		FieldChanged: models.FieldReason,
		OldValue:     oldValue,
		NewValue:     newValue,
	}
}

func newEvent(kind, actor string, at time.Time, payload map[string]interface{}) *models.LeaveEvent {
	event := &models.LeaveEvent{
		Event: kind,
		Actor: actor,
		At:    models.NewTimestamp(at),
	}
	if len(payload) > 0 {
		if raw, err := json.Marshal(payload); err == nil {
			event.Payload = datatypes.JSON(raw)
		}
	}
	return event
}

func load(ctx context.Context, repo repository.LeaveRecordRepository, loaID int64) (*models.LeaveRecord, error) {
	record, err := repo.GetByID(ctx, loaID)
	if err != nil {
		return nil, fmt.Errorf("load leave %d: %w", loaID, err)
	}
	if record == nil {
		return nil, notFound(loaID)
	}
	return record, nil
}

// rejected объясняет, почему условный UPDATE не прошел
func rejected(ctx context.Context, repo repository.LeaveRecordRepository, loaID int64, op string) error {
	current, err := load(ctx, repo, loaID)
	if err != nil {
		return err
	}
	return &TransitionError{LoaID: loaID, Op: op, From: current.Status, Reason: "record changed concurrently"}
}

// checkTotalDuration - продленный LOA не должен выйти за MaxDurationMs
func checkTotalDuration(field string, current, additional int64) error {
	if additional > MaxDurationMs-current {
		return &ValidationError{Field: field, Reason: "lte"}
	}
	return nil
}

func requireActor(field, actor string) error {
	if strings.TrimSpace(actor) == "" {
		return &ValidationError{Field: field, Reason: "required"}
	}
	return nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Reason: fe.Tag()}
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
