package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"rceutils-bot/internal/service"
	"rceutils-bot/pkg/duration"

	"github.com/sirupsen/logrus"
)

// userError - ошибка, текст которой показывается пользователю как есть
type userError struct {
	msg string
}

func (e *userError) Error() string {
	return e.msg
}

func userErr(format string, args ...interface{}) error {
	return &userError{msg: fmt.Sprintf(format, args...)}
}

var (
	errForbidden      = userErr("Access denied. This action is for administrators only.")
	errBadDuration    = userErr("Invalid duration. Use a number with a unit: `3d`, `1.5w`, `12h`.")
	errAlreadyOnLeave = userErr("You already have an active leave. Use `/loa extend` instead.")
	errAlreadyPending = userErr("You already have a request waiting for review.")
)

// isAdmin - админская роль в Discord из конфига или роль admin в базе
func (h *Handler) isAdmin(ctx context.Context, inv *Invocation) bool {
	if h.config != nil && h.config.IsAdminRole(inv.MemberRoles) {
		return true
	}

	isAdmin, err := h.staff.IsAdmin(ctx, inv.UserID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", inv.UserID).Warn("Admin check failed")
		return false
	}
	return isAdmin
}

// target - над кем выполняется действие. Чужие записи доступны только админам.
func (h *Handler) target(ctx context.Context, inv *Invocation) (string, error) {
	userID := inv.Option("user")
	if userID == "" || userID == inv.UserID {
		return inv.UserID, nil
	}
	if !h.isAdmin(ctx, inv) {
		return "", errForbidden
	}
	return userID, nil
}

// parseDuration разбирает длительность и проверяет верхнюю границу
func (h *Handler) parseDuration(input string) (int64, error) {
	ms, ok := duration.Parse(input)
	if !ok || ms <= 0 {
		return 0, errBadDuration
	}

	if h.config != nil && h.config.MaxLoaDurationMs > 0 && ms > h.config.MaxLoaDurationMs {
		return 0, userErr("The longest allowed leave is %s.", duration.Format(h.config.MaxLoaDurationMs))
	}
	return ms, nil
}

func parseLoaID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, userErr("`%s` is not a valid LOA ID.", raw)
	}
	return id, nil
}

// errorReply переводит ошибку сервиса в ответ пользователю
func (h *Handler) errorReply(inv *Invocation, err error) Reply {
	reply := h.describeError(inv, err)
	reply.Error = true
	return reply
}

func (h *Handler) describeError(inv *Invocation, err error) Reply {
	var terr *service.TransitionError
	var verr *service.ValidationError
	var uerr *userError

	switch {
	case errors.As(err, &terr):
		msg := fmt.Sprintf("❌ LOA %d is %s, it cannot be changed that way.", terr.LoaID, terr.From)
		if terr.Reason != "" {
			msg = fmt.Sprintf("❌ Cannot %s LOA %d: %s.", terr.Op, terr.LoaID, terr.Reason)
		}
		return Reply{Content: msg}
	case errors.As(err, &verr):
		return Reply{Content: fmt.Sprintf("❌ Invalid %s: %s.", verr.Field, verr.Reason)}
	case errors.Is(err, service.ErrRecordNotFound):
		return Reply{Content: "❌ LOA not found."}
	case errors.Is(err, service.ErrForbidden):
		return Reply{Content: "❌ " + errForbidden.Error()}
	case errors.As(err, &uerr):
		return Reply{Content: "❌ " + uerr.msg}
	}

	h.logger.WithError(err).WithFields(logrus.Fields{
		"user_id": inv.UserID,
		"command": inv.Command,
		"sub":     inv.Sub,
	}).Error("Command failed")

	return Reply{Content: "❌ Something went wrong, please try again later."}
}
