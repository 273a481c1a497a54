package repository

import (
	"context"
	"errors"

	"rceutils-bot/internal/models"

	"gorm.io/gorm"
)

var ErrStaffNotFound = errors.New("staff member not found")

type StaffRepository interface {
	Create(ctx context.Context, member *models.StaffMember) error
	GetByDiscordID(ctx context.Context, discordID string) (*models.StaffMember, error)
	Update(ctx context.Context, member *models.StaffMember) error
	UpdateRole(ctx context.Context, discordID string, role models.Role) error
	GetAll(ctx context.Context) ([]*models.StaffMember, error)
	GetAdmins(ctx context.Context) ([]*models.StaffMember, error)
}

type GormStaffRepository struct {
	db *gorm.DB
}

func NewGormStaffRepository(db *gorm.DB) (*GormStaffRepository, error) {
	// Автомиграция - создает таблицы если их нет
	if err := db.AutoMigrate(&models.StaffMember{}); err != nil {
		return nil, err
	}

	return &GormStaffRepository{db: db}, nil
}

func (r *GormStaffRepository) Create(ctx context.Context, member *models.StaffMember) error {
	// Проверяем, существует ли уже сотрудник
	var existing models.StaffMember
	result := r.db.WithContext(ctx).Where("discord_id = ?", member.DiscordID).First(&existing)
	if result.Error == nil {
		return errors.New("staff member already exists")
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}

	return r.db.WithContext(ctx).Create(member).Error
}

func (r *GormStaffRepository) GetByDiscordID(ctx context.Context, discordID string) (*models.StaffMember, error) {
	var member models.StaffMember
	result := r.db.WithContext(ctx).Where("discord_id = ?", discordID).First(&member)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		return nil, result.Error
	}

	return &member, nil
}

func (r *GormStaffRepository) Update(ctx context.Context, member *models.StaffMember) error {
	result := r.db.WithContext(ctx).Save(member)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

func (r *GormStaffRepository) UpdateRole(ctx context.Context, discordID string, role models.Role) error {
	result := r.db.WithContext(ctx).Model(&models.StaffMember{}).
		Where("discord_id = ?", discordID).
		Update("role", role)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStaffNotFound
	}

	return nil
}

func (r *GormStaffRepository) GetAll(ctx context.Context) ([]*models.StaffMember, error) {
	var members []*models.StaffMember
	result := r.db.WithContext(ctx).Order("id ASC").Find(&members)

	if result.Error != nil {
		return nil, result.Error
	}

	return members, nil
}

func (r *GormStaffRepository) GetAdmins(ctx context.Context) ([]*models.StaffMember, error) {
	var admins []*models.StaffMember
	result := r.db.WithContext(ctx).Where("role = ?", models.RoleAdmin).Order("id ASC").Find(&admins)

	if result.Error != nil {
		return nil, result.Error
	}

	return admins, nil
}
