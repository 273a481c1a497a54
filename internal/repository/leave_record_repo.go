package repository

import (
	"context"
	"errors"
	"time"

	"rceutils-bot/internal/models"

	"github.com/bwmarrin/snowflake"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Guard - условие compare-and-set для UPDATE одной строки
type Guard struct {
	Status            models.LeaveStatus // пусто - статус не проверяется
	EndTime           *time.Time         // end_time должен совпадать (защита от потерянного продления)
	EndTimeAtOrBefore *time.Time         // end_time <= значения (естественное завершение)
}

// Change - атомарное изменение записи вместе с аудитом
type Change struct {
	Guard   Guard
	Updates map[string]interface{}
	Edits   []models.EditHistoryEntry
	Event   *models.LeaveEvent
}

type LeaveRecordRepository interface {
	Create(ctx context.Context, record *models.LeaveRecord, event *models.LeaveEvent) error
	GetByID(ctx context.Context, id int64) (*models.LeaveRecord, error)
	Apply(ctx context.Context, id int64, change Change) (bool, error)
	FindActiveByUser(ctx context.Context, userID string, now time.Time) (*models.LeaveRecord, error)
	FindAllActive(ctx context.Context, now time.Time) ([]models.LeaveRecord, error)
	FindByUser(ctx context.Context, userID string, limit int) ([]models.LeaveRecord, error)
	FindPending(ctx context.Context) ([]models.LeaveRecord, error)
	FindPendingByUser(ctx context.Context, userID string) ([]models.LeaveRecord, error)
	FindExpired(ctx context.Context, now time.Time) ([]models.LeaveRecord, error)
	GetEditHistory(ctx context.Context, loaID int64) ([]models.EditHistoryEntry, error)
	GetEvents(ctx context.Context, loaID int64) ([]models.LeaveEvent, error)
	WithTransaction(ctx context.Context, fn func(repo LeaveRecordRepository) error) error
}

type GormLeaveRecordRepository struct {
	db     *gorm.DB
	node   *snowflake.Node
	logger *logrus.Logger
}

func NewGormLeaveRecordRepository(db *gorm.DB, node *snowflake.Node) (*GormLeaveRecordRepository, error) {
	logger := logrus.StandardLogger()

	// Автомиграция
	if err := db.AutoMigrate(&models.LeaveRecord{}, &models.EditHistoryEntry{}, &models.LeaveEvent{}); err != nil {
		logger.WithError(err).Error("Failed to auto-migrate leave tables")
		return nil, err
	}

	logger.Info("Leave record repository initialized")

	return &GormLeaveRecordRepository{
		db:     db,
		node:   node,
		logger: logger,
	}, nil
}

func (r *GormLeaveRecordRepository) Create(ctx context.Context, record *models.LeaveRecord, event *models.LeaveEvent) error {
	record.ID = r.node.Generate().Int64()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		if event != nil {
			event.LoaID = record.ID
			return tx.Create(event).Error
		}
		return nil
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to create leave record")
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"loa_id":  record.ID,
		"user_id": record.UserID,
		"status":  record.Status,
	}).Debug("Leave record created")

	return nil
}

func (r *GormLeaveRecordRepository) GetByID(ctx context.Context, id int64) (*models.LeaveRecord, error) {
	var record models.LeaveRecord
	err := r.db.WithContext(ctx).First(&record, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Apply выполняет UPDATE ... WHERE id = ? AND <guard> и пишет аудит в той же транзакции.
// false без ошибки - условие не выполнилось (или записи нет), ничего не изменено.
func (r *GormLeaveRecordRepository) Apply(ctx context.Context, id int64, change Change) (bool, error) {
	applied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.LeaveRecord{}).Where("id = ?", id)
		if change.Guard.Status != "" {
			q = q.Where("status = ?", change.Guard.Status)
		}
		if change.Guard.EndTime != nil {
			q = q.Where("end_time = ?", models.NewTimestamp(*change.Guard.EndTime).String())
		}
		if change.Guard.EndTimeAtOrBefore != nil {
			q = q.Where("end_time <= ?", models.NewTimestamp(*change.Guard.EndTimeAtOrBefore).String())
		}

		var affected int64
		if len(change.Updates) > 0 {
			res := q.Updates(change.Updates)
			if res.Error != nil {
				return res.Error
			}
			affected = res.RowsAffected
		} else {
			// только аудит, но строка должна существовать и пройти условие
			if err := q.Count(&affected).Error; err != nil {
				return err
			}
		}
		if affected == 0 {
			return nil
		}

		for i := range change.Edits {
			change.Edits[i].LoaID = id
			if err := tx.Create(&change.Edits[i]).Error; err != nil {
				return err
			}
		}
		if change.Event != nil {
			change.Event.LoaID = id
			if err := tx.Create(change.Event).Error; err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		r.logger.WithError(err).WithField("loa_id", id).Error("Failed to apply leave change")
		return false, err
	}

	return applied, nil
}

func (r *GormLeaveRecordRepository) FindActiveByUser(ctx context.Context, userID string, now time.Time) (*models.LeaveRecord, error) {
	var record models.LeaveRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND end_time > ?", userID, models.StatusActive, models.NewTimestamp(now).String()).
		Order("end_time DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *GormLeaveRecordRepository) FindAllActive(ctx context.Context, now time.Time) ([]models.LeaveRecord, error) {
	var records []models.LeaveRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time > ?", models.StatusActive, models.NewTimestamp(now).String()).
		Order("end_time ASC").
		Find(&records).Error
	return records, err
}

func (r *GormLeaveRecordRepository) FindByUser(ctx context.Context, userID string, limit int) ([]models.LeaveRecord, error) {
	var records []models.LeaveRecord
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("requested_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&records).Error
	return records, err
}

func (r *GormLeaveRecordRepository) FindPending(ctx context.Context) ([]models.LeaveRecord, error) {
	var records []models.LeaveRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Order("requested_at ASC").
		Find(&records).Error
	return records, err
}

func (r *GormLeaveRecordRepository) FindPendingByUser(ctx context.Context, userID string) ([]models.LeaveRecord, error) {
	var records []models.LeaveRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.StatusPending).
		Order("requested_at ASC").
		Find(&records).Error
	return records, err
}

// FindExpired - ACTIVE записи, у которых окно уже закончилось
func (r *GormLeaveRecordRepository) FindExpired(ctx context.Context, now time.Time) ([]models.LeaveRecord, error) {
	var records []models.LeaveRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time <= ?", models.StatusActive, models.NewTimestamp(now).String()).
		Order("end_time ASC").
		Find(&records).Error
	return records, err
}

func (r *GormLeaveRecordRepository) GetEditHistory(ctx context.Context, loaID int64) ([]models.EditHistoryEntry, error) {
	var entries []models.EditHistoryEntry
	err := r.db.WithContext(ctx).
		Where("loa_id = ?", loaID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *GormLeaveRecordRepository) GetEvents(ctx context.Context, loaID int64) ([]models.LeaveEvent, error) {
	var events []models.LeaveEvent
	err := r.db.WithContext(ctx).
		Where("loa_id = ?", loaID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

func (r *GormLeaveRecordRepository) WithTransaction(ctx context.Context, fn func(repo LeaveRecordRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormLeaveRecordRepository{db: tx, node: r.node, logger: r.logger})
	})
}
