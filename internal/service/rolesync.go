package service

import (
	"context"

	"github.com/sirupsen/logrus"
)

// RoleSyncResult - сколько гильдий изменено и сколько вызовов упало
type RoleSyncResult struct {
	Changed int
	Failed  int
}

// RoleSync выдает и снимает роль LOA во всех гильдиях бота. Ошибки не прерывают обход.
type RoleSync struct {
	roles  RoleDirectory
	roleID string
	logger *logrus.Logger
}

func NewRoleSync(roles RoleDirectory, roleID string, logger *logrus.Logger) *RoleSync {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RoleSync{roles: roles, roleID: roleID, logger: logger}
}

// Grant выдает роль там, где ее еще нет
func (r *RoleSync) Grant(ctx context.Context, userID string) RoleSyncResult {
	return r.sync(ctx, userID, true)
}

// Revoke снимает роль там, где она есть
func (r *RoleSync) Revoke(ctx context.Context, userID string) RoleSyncResult {
	return r.sync(ctx, userID, false)
}

func (r *RoleSync) sync(ctx context.Context, userID string, grant bool) RoleSyncResult {
	var result RoleSyncResult
	if r.roles == nil || r.roleID == "" {
		return result
	}

	log := r.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"role_id": r.roleID,
		"grant":   grant,
	})

	guilds, err := r.roles.Guilds(ctx)
	if err != nil {
		log.WithError(collaboratorErr("list guilds", err)).Warn("Role sync skipped")
		result.Failed++
		return result
	}

	for _, guildID := range guilds {
		if ctx.Err() != nil {
			break
		}

		has, err := r.roles.HasRole(ctx, guildID, userID, r.roleID)
		if err != nil {
			// пользователя может не быть в гильдии
			log.WithError(err).WithField("guild_id", guildID).Debug("Role lookup failed")
			result.Failed++
			continue
		}
		if has == grant {
			continue
		}

		if grant {
			err = r.roles.AddRole(ctx, guildID, userID, r.roleID)
		} else {
			err = r.roles.RemoveRole(ctx, guildID, userID, r.roleID)
		}
		if err != nil {
			log.WithError(collaboratorErr("role update", err)).WithField("guild_id", guildID).Warn("Role update failed")
			result.Failed++
			continue
		}
		result.Changed++
	}

	return result
}
