package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"rceutils-bot/internal/models"
	"rceutils-bot/internal/service"

	ics "github.com/arran4/golang-ical"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Reconciler - ручной запуск прохода реконсилера
type Reconciler interface {
	RunNow(ctx context.Context) (service.ReconcileResult, error)
}

// Handler - HTTP-обработчики админского API
type Handler struct {
	leaves     *service.LeaveService
	reconciler Reconciler
	validate   *validator.Validate
	logger     *logrus.Logger
}

func NewHandler(leaves *service.LeaveService, reconciler Reconciler, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		leaves:     leaves,
		reconciler: reconciler,
		validate:   validator.New(),
		logger:     logger,
	}
}

type historyQuery struct {
	Limit int `validate:"gte=0,lte=100"`
}

// ErrorResponse - тело ответа при ошибке
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListActive - все, кто сейчас в LOA
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	records, err := h.leaves.GetAllActive(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

// ListPending - запросы, ждущие решения
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	records, err := h.leaves.GetPending(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

func (h *Handler) GetLoa(w http.ResponseWriter, r *http.Request) {
	id, ok := loaID(w, r)
	if !ok {
		return
	}

	record, err := h.leaves.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) GetEdits(w http.ResponseWriter, r *http.Request) {
	id, ok := loaID(w, r)
	if !ok {
		return
	}

	edits, err := h.leaves.GetEditHistory(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if edits == nil {
		edits = []models.EditHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, edits)
}

func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := loaID(w, r)
	if !ok {
		return
	}

	events, err := h.leaves.GetEvents(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if events == nil {
		events = []models.LeaveEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// UserHistory - LOA пользователя, новые первыми. ?limit=0 значит лимит по умолчанию.
func (h *Handler) UserHistory(w http.ResponseWriter, r *http.Request) {
	var q historyQuery
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a number")
			return
		}
		q.Limit = limit
	}
	if err := h.validate.Struct(q); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 0 and 100")
		return
	}

	records, err := h.leaves.GetHistory(r.Context(), chi.URLParam(r, "userID"), q.Limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

// Calendar отдает действующие LOA как iCalendar
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	records, err := h.leaves.GetAllActive(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//rceutils-bot//LOA//EN")
	cal.SetXWRCalName("Leaves of absence")

	now := h.leaves.Now()
	for _, rec := range records {
		event := cal.AddEvent(fmt.Sprintf("loa-%d@rceutils-bot", rec.ID))
		event.SetDtStampTime(now)
		event.SetStartAt(rec.StartTime.Time)
		event.SetEndAt(rec.EndTime.Time)
		event.SetSummary(fmt.Sprintf("LOA: %s", rec.UserID))
		event.SetDescription(rec.Reason)
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(cal.Serialize())); err != nil {
		h.logger.WithError(err).Debug("Calendar write failed")
	}
}

// Reconcile запускает проход реконсилера и ждет его результата
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		writeError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "reconciler is not running")
		return
	}

	result, err := h.reconciler.RunNow(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"run_id":  result.RunID,
		"subject": Subject(r.Context()),
	}).Info("Reconcile triggered via API")

	writeJSON(w, http.StatusOK, result)
}

func loaID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid LOA id %q", raw))
		return 0, false
	}
	return id, true
}

// fail переводит ошибку сервиса в HTTP-статус
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	var terr *service.TransitionError

	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error())
	case errors.Is(err, service.ErrRecordNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &terr):
		writeError(w, r, http.StatusConflict, "INVALID_TRANSITION", terr.Error())
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": RequestID(r.Context()),
			"path":       r.URL.Path,
		}).Error("API request failed")
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func nonNil(records []models.LeaveRecord) []models.LeaveRecord {
	if records == nil {
		return []models.LeaveRecord{}
	}
	return records
}
