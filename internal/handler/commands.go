package handler

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

const (
	CommandLoa   = "loa"
	CommandStaff = "staff"
)

// Commands - описание slash-команд для Discord
func Commands() []*discordgo.ApplicationCommand {
	str := func(name, desc string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionString, Name: name, Description: desc, Required: required}
	}
	usr := func(name, desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionUser, Name: name, Description: desc}
	}
	sub := func(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionSubCommand, Name: name, Description: desc, Options: opts}
	}
	minLimit := float64(1)

	return []*discordgo.ApplicationCommand{
		{
			Name:        CommandLoa,
			Description: "Leave of absence",
			Options: []*discordgo.ApplicationCommandOption{
				sub("request", "Request a leave of absence",
					str("duration", "How long, e.g. 3d, 1.5w, 12h", true),
					str("reason", "Why you are away", true)),
				sub("status", "Show the current leave", usr("user", "Staff member (admins only)")),
				sub("list", "List everyone on leave (admins)"),
				sub("pending", "List requests waiting for review (admins)"),
				sub("history", "Show past leaves",
					usr("user", "Staff member (admins only)"),
					&discordgo.ApplicationCommandOption{
						Type: discordgo.ApplicationCommandOptionInteger, Name: "limit",
						Description: "How many records", MinValue: &minLimit, MaxValue: 50,
					}),
				sub("end", "End a leave early", usr("user", "Staff member (admins only)")),
				sub("extend", "Extend the current leave",
					str("duration", "Additional time, e.g. 2d", true),
					usr("user", "Staff member (admins only)"),
					str("reason", "New reason", false)),
				sub("reason", "Edit the reason of a leave",
					str("id", "LOA ID", true),
					str("text", "New reason", true)),
				sub("approve", "Approve a request (admins)", str("id", "LOA ID", true)),
				sub("deny", "Deny a request (admins)", str("id", "LOA ID", true)),
				sub("help", "Show LOA commands"),
			},
		},
		{
			Name:        CommandStaff,
			Description: "Bot administrators",
			Options: []*discordgo.ApplicationCommandOption{
				sub("admins", "List bot administrators"),
				sub("promote", "Make a staff member an administrator", usr("user", "Staff member")),
				sub("demote", "Remove administrator rights", usr("user", "Staff member")),
			},
		},
	}
}

// Dispatch выполняет вызов и возвращает ответ
func (h *Handler) Dispatch(ctx context.Context, inv *Invocation) Reply {
	switch inv.Command {
	case CommandLoa:
		return h.handleLoa(ctx, inv)
	case CommandStaff:
		return h.handleStaff(ctx, inv)
	default:
		return Reply{Content: "❌ Unknown command."}
	}
}

func (h *Handler) handleLoa(ctx context.Context, inv *Invocation) Reply {
	switch inv.Sub {
	case "request":
		return h.requestLeave(ctx, inv)
	case "status":
		return h.showStatus(ctx, inv)
	case "list":
		return h.listActive(ctx, inv)
	case "pending":
		return h.listPending(ctx, inv)
	case "history":
		return h.showHistory(ctx, inv)
	case "end":
		return h.endLeave(ctx, inv)
	case "extend":
		return h.extendLeave(ctx, inv)
	case "reason":
		return h.editReason(ctx, inv)
	case "approve":
		return h.approveLeave(ctx, inv, inv.Option("id"))
	case "deny":
		return h.denyLeave(ctx, inv, inv.Option("id"))
	case "help":
		return h.helpMessage()
	default:
		return Reply{Content: "❌ Unknown subcommand. Use `/loa help`."}
	}
}

func (h *Handler) handleStaff(ctx context.Context, inv *Invocation) Reply {
	switch inv.Sub {
	case "admins":
		return h.showAdmins(ctx, inv)
	case "promote":
		return h.promoteToAdmin(ctx, inv)
	case "demote":
		return h.demoteToStaff(ctx, inv)
	default:
		return Reply{Content: "❌ Unknown subcommand."}
	}
}

func (h *Handler) helpMessage() Reply {
	text := `📋 **LOA commands**

🏖️ Staff:
/loa request <duration> <reason> - Request a leave (e.g. ` + "`3d`, `1.5w`, `12h`" + `)
/loa status - Your current leave
/loa history [limit] - Your past leaves
/loa end - Come back early
/loa extend <duration> [reason] - Ask for more time
/loa reason <id> <text> - Edit the reason

👑 Admins:
/loa list - Everyone on leave
/loa pending - Requests waiting for review
/loa approve <id> / /loa deny <id> - Review a request
/loa status|history|end|extend user:<member> - Act for someone else
/staff admins|promote|demote - Manage bot administrators

💡 Units: s, m, h, d, w. Decimals are allowed.`

	return Reply{Content: text}
}
