package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rceutils-bot/internal/models"
	"rceutils-bot/internal/notifier"
	"rceutils-bot/internal/service"
	"rceutils-bot/pkg/discord"
	"rceutils-bot/pkg/duration"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const (
	ButtonApprove = "loa:approve:"
	ButtonDeny    = "loa:deny:"
)

// requestLeave создает запрос и отправляет его на ревью
func (h *Handler) requestLeave(ctx context.Context, inv *Invocation) Reply {
	ms, err := h.parseDuration(inv.Option("duration"))
	if err != nil {
		return h.errorReply(inv, err)
	}

	active, err := h.leaves.GetActive(ctx, inv.UserID)
	if err != nil {
		return h.errorReply(inv, err)
	}
	if active != nil {
		return h.errorReply(inv, errAlreadyOnLeave)
	}

	pending, err := h.leaves.GetPendingForUser(ctx, inv.UserID)
	if err != nil {
		return h.errorReply(inv, err)
	}
	if len(pending) > 0 {
		return h.errorReply(inv, errAlreadyPending)
	}

	if _, err := h.staff.EnsureStaff(ctx, inv.UserID, inv.Username); err != nil {
		return h.errorReply(inv, err)
	}

	record, err := h.leaves.RequestLeave(ctx, service.RequestInput{
		UserID:     inv.UserID,
		DurationMs: ms,
		Reason:     inv.Option("reason"),
	})
	if err != nil {
		return h.errorReply(inv, err)
	}

	h.postForReview(ctx, record, "Leave of Absence Requested")

	return Reply{Content: fmt.Sprintf(
		"✅ Request #%d submitted!\n\n⏱ Duration: %s\n📝 Reason: %s\n\nYou will get a DM once it is reviewed.",
		record.ID, duration.Format(record.DurationMs), record.Reason,
	)}
}

// showStatus - текущий LOA пользователя или ожидающий запрос
func (h *Handler) showStatus(ctx context.Context, inv *Invocation) Reply {
	userID, err := h.target(ctx, inv)
	if err != nil {
		return h.errorReply(inv, err)
	}

	active, err := h.leaves.GetActive(ctx, userID)
	if err != nil {
		return h.errorReply(inv, err)
	}
	if active != nil {
		return Reply{
			Content: fmt.Sprintf("🏖️ %s is on leave, %s.", discord.Mention(userID), remainingText(active.EndTime.Time, h.leaves.Now())),
			Embed:   recordEmbed(active, "Active Leave of Absence"),
		}
	}

	pending, err := h.leaves.GetPendingForUser(ctx, userID)
	if err != nil {
		return h.errorReply(inv, err)
	}
	if len(pending) > 0 {
		return Reply{
			Content: fmt.Sprintf("⏳ %s has a request waiting for review.", discord.Mention(userID)),
			Embed:   recordEmbed(&pending[0], "Pending Request"),
		}
	}

	return Reply{Content: fmt.Sprintf("📭 %s is not on leave.", discord.Mention(userID))}
}

// listActive - все, кто сейчас в LOA (только админы)
func (h *Handler) listActive(ctx context.Context, inv *Invocation) Reply {
	if !h.isAdmin(ctx, inv) {
		return h.errorReply(inv, errForbidden)
	}

	records, err := h.leaves.GetAllActive(ctx)
	if err != nil {
		return h.errorReply(inv, err)
	}
	if len(records) == 0 {
		return Reply{Content: "📭 Nobody is on leave right now."}
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("🏖️ **On leave (%d):**", len(records)))
	lines = append(lines, "")
	for i, r := range records {
		lines = append(lines, fmt.Sprintf("%d. %s until %s (#%d)", i+1, discord.Mention(r.UserID), discord.Timestamp(r.EndTime.Time), r.ID))
	}

	return Reply{Content: strings.Join(lines, "\n")}
}

// listPending - запросы, ждущие решения (только админы)
func (h *Handler) listPending(ctx context.Context, inv *Invocation) Reply {
	if !h.isAdmin(ctx, inv) {
		return h.errorReply(inv, errForbidden)
	}

	records, err := h.leaves.GetPending(ctx)
	if err != nil {
		return h.errorReply(inv, err)
	}
	if len(records) == 0 {
		return Reply{Content: "📭 No requests waiting for review."}
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("⏳ **Pending requests (%d):**", len(records)))
	lines = append(lines, "")
	for _, r := range records {
		kind := "leave"
		if r.IsExtension {
			kind = "extension"
		}
		lines = append(lines, fmt.Sprintf("#%d %s - %s %s: %s", r.ID, discord.Mention(r.UserID), duration.Format(r.DurationMs), kind, r.Reason))
	}

	return Reply{Content: strings.Join(lines, "\n")}
}

// showHistory - последние LOA пользователя
func (h *Handler) showHistory(ctx context.Context, inv *Invocation) Reply {
	userID, err := h.target(ctx, inv)
	if err != nil {
		return h.errorReply(inv, err)
	}

	limit := service.DefaultHistoryLimit
	if raw := inv.Option("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			limit = service.DefaultHistoryLimit
		}
	}

	records, err := h.leaves.GetHistory(ctx, userID, limit)
	if err != nil {
		return h.errorReply(inv, err)
	}
	if len(records) == 0 {
		return Reply{Content: fmt.Sprintf("📭 %s has no leave history.", discord.Mention(userID))}
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("📋 **Leave history of %s:**", discord.Mention(userID)))
	lines = append(lines, "")
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("%s #%d %s, %s (%s)",
			statusEmoji(r.Status), r.ID, duration.Format(r.DurationMs), r.RequestedAt.Format("02.01.2006"), r.Status))
	}

	return Reply{Content: strings.Join(lines, "\n")}
}

// endLeave завершает текущий LOA досрочно и снимает роль
func (h *Handler) endLeave(ctx context.Context, inv *Invocation) Reply {
	userID, err := h.target(ctx, inv)
	if err != nil {
		return h.errorReply(inv, err)
	}

	active, err := h.leaves.GetActive(ctx, userID)
	if err != nil {
		return h.errorReply(inv, err)
	}
	if active == nil {
		return Reply{Content: fmt.Sprintf("📭 %s is not on leave.", discord.Mention(userID))}
	}

	ended, err := h.leaves.EndEarly(ctx, active.ID, inv.UserID)
	if err != nil {
		return h.errorReply(inv, err)
	}

	h.roles.Revoke(ctx, userID)
	h.postLog(ctx, ended, "Leave of Absence Ended Early", models.EventEndedEarly, inv.UserID)
	if userID != inv.UserID {
		h.directMessage(ctx, userID, fmt.Sprintf("👋 Your leave of absence #%d was ended early by %s.", ended.ID, discord.Mention(inv.UserID)))
	}

	return Reply{Content: fmt.Sprintf("✅ Leave #%d ended. Welcome back, %s!", ended.ID, discord.Mention(userID))}
}

// extendLeave: админ продлевает сразу, сотрудник создает запрос на продление
func (h *Handler) extendLeave(ctx context.Context, inv *Invocation) Reply {
	userID, err := h.target(ctx, inv)
	if err != nil {
		return h.errorReply(inv, err)
	}

	ms, err := h.parseDuration(inv.Option("duration"))
	if err != nil {
		return h.errorReply(inv, err)
	}

	active, err := h.leaves.GetActive(ctx, userID)
	if err != nil {
		return h.errorReply(inv, err)
	}
	if active == nil {
		return Reply{Content: fmt.Sprintf("📭 %s is not on leave.", discord.Mention(userID))}
	}

	if h.isAdmin(ctx, inv) {
		var reason *string
		if r := inv.Option("reason"); r != "" {
			reason = &r
		}

		extended, err := h.leaves.Extend(ctx, active.ID, ms, reason, inv.UserID)
		if err != nil {
			return h.errorReply(inv, err)
		}

		h.postLog(ctx, extended, "Leave of Absence Extended", models.EventExtended, inv.UserID)
		if userID != inv.UserID {
			h.directMessage(ctx, userID, fmt.Sprintf("⏩ Your leave of absence was extended by %s. It now ends %s.",
				duration.Format(ms), discord.Timestamp(extended.EndTime.Time)))
		}

		return Reply{Content: fmt.Sprintf("✅ Leave #%d extended by %s, now ends %s.",
			extended.ID, duration.Format(ms), discord.Timestamp(extended.EndTime.Time))}
	}

	pending, err := h.leaves.GetPendingForUser(ctx, userID)
	if err != nil {
		return h.errorReply(inv, err)
	}
	if len(pending) > 0 {
		return h.errorReply(inv, errAlreadyPending)
	}

	reason := inv.Option("reason")
	if reason == "" {
		reason = fmt.Sprintf("Extension of #%d", active.ID)
	}

	request, err := h.leaves.RequestLeave(ctx, service.RequestInput{
		UserID:        userID,
		DurationMs:    ms,
		Reason:        reason,
		IsExtension:   true,
		OriginalLoaID: &active.ID,
	})
	if err != nil {
		return h.errorReply(inv, err)
	}

	h.postForReview(ctx, request, "Extension Requested")

	return Reply{Content: fmt.Sprintf("✅ Extension request #%d for %s submitted!", request.ID, duration.Format(ms))}
}

// editReason - автор записи или админ
func (h *Handler) editReason(ctx context.Context, inv *Invocation) Reply {
	id, err := parseLoaID(inv.Option("id"))
	if err != nil {
		return h.errorReply(inv, err)
	}

	record, err := h.leaves.Get(ctx, id)
	if err != nil {
		return h.errorReply(inv, err)
	}
	if record.UserID != inv.UserID && !h.isAdmin(ctx, inv) {
		return h.errorReply(inv, errForbidden)
	}

	if _, err := h.leaves.EditReason(ctx, id, inv.Option("text"), inv.UserID); err != nil {
		return h.errorReply(inv, err)
	}

	return Reply{Content: fmt.Sprintf("✅ Reason of #%d updated.", id)}
}

// approveLeave одобряет обычный запрос или вливает запрос на продление
func (h *Handler) approveLeave(ctx context.Context, inv *Invocation, rawID string) Reply {
	if !h.isAdmin(ctx, inv) {
		return h.errorReply(inv, errForbidden)
	}

	id, err := parseLoaID(rawID)
	if err != nil {
		return h.errorReply(inv, err)
	}

	record, err := h.leaves.Get(ctx, id)
	if err != nil {
		return h.errorReply(inv, err)
	}

	if record.IsExtension {
		extended, err := h.leaves.ApproveExtension(ctx, id, inv.UserID)
		if err != nil {
			return h.errorReply(inv, err)
		}

		h.postLog(ctx, extended, "Leave of Absence Extended", models.EventMerged, inv.UserID)
		h.directMessage(ctx, extended.UserID, fmt.Sprintf("✅ Your extension request was approved. Your leave now ends %s.",
			discord.Timestamp(extended.EndTime.Time)))

		return Reply{Content: fmt.Sprintf("✅ Extension #%d approved by %s. Leave #%d now ends %s.",
			id, discord.Mention(inv.UserID), extended.ID, discord.Timestamp(extended.EndTime.Time))}
	}

	approved, err := h.leaves.Approve(ctx, id, inv.UserID)
	if err != nil {
		return h.errorReply(inv, err)
	}

	synced := h.roles.Grant(ctx, approved.UserID)
	if synced.Failed > 0 {
		h.logger.WithFields(logrus.Fields{
			"loa_id": approved.ID,
			"failed": synced.Failed,
		}).Warn("LOA role not granted everywhere")
	}

	h.postLog(ctx, approved, "Leave of Absence Approved", models.EventApproved, inv.UserID)
	h.directMessage(ctx, approved.UserID, fmt.Sprintf("✅ Your leave of absence (%s) was approved. It ends %s.",
		duration.Format(approved.DurationMs), discord.Timestamp(approved.EndTime.Time)))

	return Reply{Content: fmt.Sprintf("✅ Leave #%d of %s approved by %s, ends %s.",
		approved.ID, discord.Mention(approved.UserID), discord.Mention(inv.UserID), discord.Timestamp(approved.EndTime.Time))}
}

func (h *Handler) denyLeave(ctx context.Context, inv *Invocation, rawID string) Reply {
	if !h.isAdmin(ctx, inv) {
		return h.errorReply(inv, errForbidden)
	}

	id, err := parseLoaID(rawID)
	if err != nil {
		return h.errorReply(inv, err)
	}

	denied, err := h.leaves.Deny(ctx, id, inv.UserID)
	if err != nil {
		return h.errorReply(inv, err)
	}

	h.postLog(ctx, denied, "Leave of Absence Denied", models.EventDenied, inv.UserID)
	h.directMessage(ctx, denied.UserID, fmt.Sprintf("❌ Your leave of absence request #%d was denied.", denied.ID))

	return Reply{Content: fmt.Sprintf("❌ Request #%d of %s denied by %s.", denied.ID, discord.Mention(denied.UserID), discord.Mention(inv.UserID))}
}

// HandleButton обрабатывает кнопки сообщения ревью
func (h *Handler) HandleButton(ctx context.Context, inv *Invocation, customID string) Reply {
	inv.Command = CommandLoa

	switch {
	case strings.HasPrefix(customID, ButtonApprove):
		inv.Sub = "approve"
		return h.approveLeave(ctx, inv, strings.TrimPrefix(customID, ButtonApprove))
	case strings.HasPrefix(customID, ButtonDeny):
		inv.Sub = "deny"
		return h.denyLeave(ctx, inv, strings.TrimPrefix(customID, ButtonDeny))
	default:
		return Reply{Content: "❌ Unknown action.", Error: true}
	}
}

// postForReview - сообщение с кнопками в канал ревью и запись в лог
func (h *Handler) postForReview(ctx context.Context, record *models.LeaveRecord, title string) {
	h.postLog(ctx, record, title, models.EventRequested, record.UserID)

	if h.poster == nil || h.config == nil || h.config.ReviewChannelID == "" {
		return
	}

	id := fmt.Sprintf("%d", record.ID)
	msg := &discordgo.MessageSend{
		Content: fmt.Sprintf("📨 New request from %s", discord.Mention(record.UserID)),
		Embeds:  []*discordgo.MessageEmbed{recordEmbed(record, title)},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{Label: "Approve", Style: discordgo.SuccessButton, CustomID: ButtonApprove + id},
					discordgo.Button{Label: "Deny", Style: discordgo.DangerButton, CustomID: ButtonDeny + id},
				},
			},
		},
	}

	if _, err := h.poster.SendComplex(ctx, h.config.ReviewChannelID, msg); err != nil {
		h.logger.WithError(err).WithField("loa_id", record.ID).Warn("Review message not posted")
	}
}

func (h *Handler) postLog(ctx context.Context, record *models.LeaveRecord, title, event, actor string) {
	if h.notifier == nil {
		return
	}

	var guildID, channelID string
	if h.config != nil {
		guildID, channelID = h.config.LogGuildID, h.config.LogChannelID
	}

	if err := h.notifier.PostToLogChannel(ctx, guildID, channelID, logEntry(record, title, event, actor)); err != nil {
		h.logger.WithError(err).WithField("loa_id", record.ID).Warn("Log entry not posted")
	}
}

// directMessage - личные сообщения могут быть закрыты, это не ошибка команды
func (h *Handler) directMessage(ctx context.Context, userID, content string) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.DirectMessage(ctx, userID, content); err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Debug("DM not delivered")
	}
}

func logEntry(record *models.LeaveRecord, title, event, actor string) service.LogEntry {
	entry := service.LogEntry{
		Title:      title,
		Event:      event,
		LoaID:      record.ID,
		UserID:     record.UserID,
		Actor:      actor,
		DurationMs: record.DurationMs,
		Reason:     record.Reason,
	}
	// у PENDING окно еще не зафиксировано
	if record.Status != models.StatusPending {
		entry.StartTime = record.StartTime.Time
		entry.EndTime = record.EndTime.Time
	}
	return entry
}

func recordEmbed(record *models.LeaveRecord, title string) *discordgo.MessageEmbed {
	return notifier.LogEmbed(logEntry(record, title, eventForStatus(record.Status), ""))
}

func eventForStatus(status models.LeaveStatus) string {
	switch status {
	case models.StatusPending:
		return models.EventRequested
	case models.StatusActive:
		return models.EventApproved
	case models.StatusDenied:
		return models.EventDenied
	case models.StatusMerged:
		return models.EventMerged
	case models.StatusEndedEarly:
		return models.EventEndedEarly
	default:
		return models.EventCompleted
	}
}

func statusEmoji(status models.LeaveStatus) string {
	switch status {
	case models.StatusPending:
		return "⏳"
	case models.StatusActive:
		return "🏖️"
	case models.StatusDenied:
		return "❌"
	case models.StatusMerged:
		return "⏩"
	default:
		return "✅"
	}
}

func remainingText(end time.Time, now time.Time) string {
	if !end.After(now) {
		return "ended"
	}
	return duration.Format(end.Sub(now).Milliseconds()) + " left"
}
