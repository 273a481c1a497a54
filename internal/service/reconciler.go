package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rceutils-bot/internal/models"
	"rceutils-bot/pkg/duration"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const DefaultReconcileInterval = 5 * time.Minute

// ReconcileResult - итог одного прохода
type ReconcileResult struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	Scanned      int       `json:"scanned"`
	Completed    int       `json:"completed"`
	Skipped      int       `json:"skipped"`
	RolesRemoved int       `json:"roles_removed"`
	RoleFailures int       `json:"role_failures"`
	LogFailures  int       `json:"log_failures"`
	DMFailures   int       `json:"dm_failures"`
}

// ReconcilerConfig - куда писать лог закрытых LOA
type ReconcilerConfig struct {
	Interval     time.Duration
	LogGuildID   string
	LogChannelID string
}

// Reconciler периодически закрывает LOA с истекшим окном:
// COMPLETED, снятие роли, запись в лог-канал, личное сообщение.
type Reconciler struct {
	leaves   *LeaveService
	roles    *RoleSync
	notifier Notifier
	cfg      ReconcilerConfig
	logger   *logrus.Logger

	group   singleflight.Group
	running atomic.Bool

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewReconciler(leaves *LeaveService, roles *RoleSync, notifier Notifier, cfg ReconcilerConfig, logger *logrus.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReconcileInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{
		leaves:   leaves,
		roles:    roles,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start запускает фоновый цикл. Первый проход выполняется сразу.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.stop = make(chan struct{})
	r.ticker = time.NewTicker(r.cfg.Interval)
	r.wg.Add(1)

	go r.run(ctx)

	r.logger.WithField("interval", r.cfg.Interval.String()).Info("[Reconciler] Started")
}

// Stop останавливает цикл и ждет завершения текущего прохода
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return
	}

	r.ticker.Stop()
	r.cancel()
	close(r.stop)
	r.wg.Wait()
	r.ticker = nil

	r.logger.Info("[Reconciler] Stopped")
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	r.tick(ctx)

	for {
		select {
		case <-r.ticker.C:
			r.tick(ctx)
		case <-r.stop:
			return
		}
	}
}

// tick не ставит проход в очередь, если предыдущий еще идет
func (r *Reconciler) tick(ctx context.Context) {
	if r.running.Load() {
		r.logger.Warn("[Reconciler] Previous pass still running, tick skipped")
		return
	}
	if _, err := r.RunNow(ctx); err != nil {
		r.logger.WithError(err).Error("[Reconciler] Pass failed")
	}
}

// RunNow выполняет проход немедленно. Параллельные вызовы получают результат одного прохода.
// Проход не отменяется вместе с ctx вызывающего: побочные действия после COMPLETED
// выполняются до конца.
func (r *Reconciler) RunNow(ctx context.Context) (ReconcileResult, error) {
	ctx = context.WithoutCancel(ctx)

	v, err, shared := r.group.Do("reconcile", func() (interface{}, error) {
		r.running.Store(true)
		defer r.running.Store(false)
		return r.reconcile(ctx)
	})
	if shared {
		r.logger.Debug("[Reconciler] Joined in-flight pass")
	}
	if err != nil {
		return ReconcileResult{}, err
	}
	return v.(ReconcileResult), nil
}

// Running - идет ли сейчас проход
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

func (r *Reconciler) reconcile(ctx context.Context) (ReconcileResult, error) {
	result := ReconcileResult{
		RunID:     uuid.NewString(),
		StartedAt: r.leaves.Now(),
	}
	log := r.logger.WithField("run_id", result.RunID)

	expired, err := r.leaves.FindExpired(ctx)
	if err != nil {
		return result, fmt.Errorf("find expired leaves: %w", err)
	}
	result.Scanned = len(expired)

	for i := range expired {
		r.processRecord(ctx, log, &expired[i], &result)
	}

	if result.Scanned > 0 {
		log.WithFields(logrus.Fields{
			"scanned":       result.Scanned,
			"completed":     result.Completed,
			"skipped":       result.Skipped,
			"roles_removed": result.RolesRemoved,
			"role_failures": result.RoleFailures,
			"log_failures":  result.LogFailures,
			"dm_failures":   result.DMFailures,
		}).Info("[Reconciler] Pass completed")
	} else {
		log.Debug("[Reconciler] Nothing to reconcile")
	}

	return result, nil
}

// processRecord - одна запись; ошибка или паника не останавливает остальные
func (r *Reconciler) processRecord(ctx context.Context, log *logrus.Entry, record *models.LeaveRecord, result *ReconcileResult) {
	log = log.WithFields(logrus.Fields{
		"loa_id":  record.ID,
		"user_id": record.UserID,
	})

	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).Error("[Reconciler] Panic while processing leave")
			result.Skipped++
		}
	}()

	completed, err := r.leaves.CompleteNaturally(ctx, record.ID)
	if err != nil {
		log.WithError(err).Warn("[Reconciler] Leave not completed")
		result.Skipped++
		return
	}
	result.Completed++

	// новый LOA мог быть одобрен раньше, чем реконсилер закрыл старый
	active, err := r.leaves.GetActive(ctx, completed.UserID)
	if err != nil {
		log.WithError(err).Warn("[Reconciler] Active leave lookup failed, role kept")
		result.RoleFailures++
	} else if active != nil {
		log.WithField("active_loa_id", active.ID).Info("[Reconciler] User has another active leave, role kept")
	} else if r.roles != nil {
		synced := r.roles.Revoke(ctx, completed.UserID)
		result.RolesRemoved += synced.Changed
		result.RoleFailures += synced.Failed
	}

	if r.notifier == nil {
		return
	}

	entry := LogEntry{
		Title:      "Leave of Absence Completed",
		Event:      models.EventCompleted,
		LoaID:      completed.ID,
		UserID:     completed.UserID,
		DurationMs: completed.DurationMs,
		StartTime:  completed.StartTime.Time,
		EndTime:    completed.EndTime.Time,
		Reason:     completed.Reason,
	}
	if err := r.notifier.PostToLogChannel(ctx, r.cfg.LogGuildID, r.cfg.LogChannelID, entry); err != nil {
		log.WithError(collaboratorErr("log channel", err)).Warn("[Reconciler] Log entry not posted")
		result.LogFailures++
	}

	notice := fmt.Sprintf("Your leave of absence (%s) has ended. Welcome back!", duration.Format(completed.DurationMs))
	if err := r.notifier.DirectMessage(ctx, completed.UserID, notice); err != nil {
		// закрытые личные сообщения - обычное дело
		log.WithError(err).Debug("[Reconciler] DM not delivered")
		result.DMFailures++
	}

	log.Info("[Reconciler] Leave completed")
}
