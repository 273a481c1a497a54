package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rceutils-bot/internal/models"
	"rceutils-bot/internal/repository"
)

var ErrForbidden = errors.New("access denied")

type StaffService struct {
	repo repository.StaffRepository
}

func NewStaffService(repo repository.StaffRepository) *StaffService {
	return &StaffService{repo: repo}
}

// EnsureStaff возвращает сотрудника, при первом обращении создает его с ролью staff.
// Никнейм обновляется, если изменился в Discord.
func (s *StaffService) EnsureStaff(ctx context.Context, discordID, username string) (*models.StaffMember, error) {
	if strings.TrimSpace(discordID) == "" {
		return nil, &ValidationError{Field: "discord_id", Reason: "required"}
	}

	member, err := s.repo.GetByDiscordID(ctx, discordID)
	if err != nil {
		return nil, fmt.Errorf("get staff member: %w", err)
	}

	if member == nil {
		member = &models.StaffMember{
			DiscordID: discordID,
			Username:  username,
			Role:      models.RoleStaff,
		}
		if err := s.repo.Create(ctx, member); err != nil {
			return nil, fmt.Errorf("create staff member: %w", err)
		}
		return member, nil
	}

	if username != "" && member.Username != username {
		member.Username = username
		if err := s.repo.Update(ctx, member); err != nil {
			return nil, fmt.Errorf("update staff member: %w", err)
		}
	}

	return member, nil
}

// IsAdmin проверяет роль по базе. Неизвестный пользователь - не админ.
func (s *StaffService) IsAdmin(ctx context.Context, discordID string) (bool, error) {
	member, err := s.repo.GetByDiscordID(ctx, discordID)
	if err != nil {
		return false, err
	}

	return member != nil && member.IsAdmin(), nil
}

// SetRole меняет роль сотрудника (только для админов)
func (s *StaffService) SetRole(ctx context.Context, adminID, targetID string, role models.Role) error {
	if role != models.RoleAdmin && role != models.RoleStaff {
		return &ValidationError{Field: "role", Reason: "unknown role"}
	}

	isAdmin, err := s.IsAdmin(ctx, adminID)
	if err != nil {
		return fmt.Errorf("check admin: %w", err)
	}
	if !isAdmin {
		return ErrForbidden
	}

	if _, err := s.EnsureStaff(ctx, targetID, ""); err != nil {
		return err
	}

	return s.repo.UpdateRole(ctx, targetID, role)
}

// GetAdmins возвращает всех администраторов
func (s *StaffService) GetAdmins(ctx context.Context) ([]*models.StaffMember, error) {
	return s.repo.GetAdmins(ctx)
}

// InitializeAdmin заводит администратора из конфига
func (s *StaffService) InitializeAdmin(ctx context.Context, adminID string) error {
	if adminID == "" {
		return nil // Админ не задан в конфиге
	}

	existing, err := s.repo.GetByDiscordID(ctx, adminID)
	if err != nil {
		return err
	}

	if existing != nil {
		if existing.IsAdmin() {
			return nil
		}
		return s.repo.UpdateRole(ctx, adminID, models.RoleAdmin)
	}

	return s.repo.Create(ctx, &models.StaffMember{
		DiscordID: adminID,
		Username:  "admin",
		Role:      models.RoleAdmin,
	})
}
