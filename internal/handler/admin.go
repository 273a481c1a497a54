package handler

import (
	"context"
	"fmt"
	"strings"

	"rceutils-bot/internal/models"
	"rceutils-bot/pkg/discord"
)

// showAdmins показывает всех администраторов бота
func (h *Handler) showAdmins(ctx context.Context, inv *Invocation) Reply {
	if !h.isAdmin(ctx, inv) {
		return h.errorReply(inv, errForbidden)
	}

	admins, err := h.staff.GetAdmins(ctx)
	if err != nil {
		return h.errorReply(inv, err)
	}

	if len(admins) == 0 {
		return Reply{Content: "👑 No bot administrators yet."}
	}

	var lines []string
	lines = append(lines, "👑 **Administrators:**")
	lines = append(lines, "")

	for i, admin := range admins {
		adminInfo := fmt.Sprintf("%d. %s", i+1, discord.Mention(admin.DiscordID))
		if admin.Username != "" {
			adminInfo += fmt.Sprintf(" (%s)", admin.Username)
		}
		lines = append(lines, adminInfo)
	}

	return Reply{Content: strings.Join(lines, "\n")}
}

// promoteToAdmin назначает сотрудника администратором
func (h *Handler) promoteToAdmin(ctx context.Context, inv *Invocation) Reply {
	return h.setRole(ctx, inv, models.RoleAdmin)
}

// demoteToStaff снимает права администратора
func (h *Handler) demoteToStaff(ctx context.Context, inv *Invocation) Reply {
	target := inv.Option("user")

	// Не позволяем снять главного администратора из конфига
	if h.config != nil && h.config.BaseAdminUserID != "" && target == h.config.BaseAdminUserID {
		return Reply{Content: "❌ The base administrator from the bot configuration cannot be demoted."}
	}

	return h.setRole(ctx, inv, models.RoleStaff)
}

func (h *Handler) setRole(ctx context.Context, inv *Invocation, role models.Role) Reply {
	target := inv.Option("user")
	if target == "" {
		return Reply{Content: "❌ Pick a staff member."}
	}

	if !h.isAdmin(ctx, inv) {
		return h.errorReply(inv, errForbidden)
	}

	// админ по роли Discord может еще не быть в базе
	if _, err := h.staff.EnsureStaff(ctx, inv.UserID, inv.Username); err != nil {
		return h.errorReply(inv, err)
	}
	if h.config != nil && h.config.IsAdminRole(inv.MemberRoles) {
		if err := h.staff.InitializeAdmin(ctx, inv.UserID); err != nil {
			return h.errorReply(inv, err)
		}
	}

	if err := h.staff.SetRole(ctx, inv.UserID, target, role); err != nil {
		return h.errorReply(inv, err)
	}

	return Reply{Content: fmt.Sprintf("✅ %s is now %s.", discord.Mention(target), role)}
}
