package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"rceutils-bot/internal/models"
	"rceutils-bot/internal/repository"
	"rceutils-bot/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loaRole = "role-loa"

func newReconciler(e *env, roles *fakeRoles, notifier *fakeNotifier) *service.Reconciler {
	return service.NewReconciler(
		e.leaves,
		service.NewRoleSync(roles, loaRole, quietLogger()),
		notifier,
		service.ReconcilerConfig{Interval: time.Hour, LogGuildID: "g1", LogChannelID: "log"},
		quietLogger(),
	)
}

func TestReconciler_EndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	roles := newFakeRoles("g1", "g2")
	notifier := newFakeNotifier()
	rec := newReconciler(e, roles, notifier)
	roleSync := service.NewRoleSync(roles, loaRole, quietLogger())

	// GIVEN: запрос в t0 на 2 часа, одобрен в t0+1h
	req := e.request(t, "userA", 2*time.Hour)
	e.clock.Set(t0.Add(time.Hour))
	approved, err := e.leaves.Approve(ctx, req.ID, "mod")
	require.NoError(t, err)
	assert.Equal(t, 2, roleSync.Grant(ctx, "userA").Changed)
	assert.True(t, approved.EndTime.Equal(t0.Add(3*time.Hour)))

	// WHEN: пробег до окончания окна
	e.clock.Set(t0.Add(3*time.Hour - time.Millisecond))
	result, err := rec.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.True(t, roles.has("g1", "userA"))

	// WHEN: пробег после окончания
	e.clock.Set(t0.Add(3*time.Hour + time.Millisecond))
	result, err = rec.RunNow(ctx)
	require.NoError(t, err)

	// THEN
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 2, result.RolesRemoved)
	assert.Equal(t, models.StatusCompleted, e.reload(t, req.ID).Status)
	assert.False(t, roles.has("g1", "userA"))
	assert.False(t, roles.has("g2", "userA"))

	require.Equal(t, 1, notifier.logCount())
	entry := notifier.logs[0]
	assert.Equal(t, req.ID, entry.LoaID)
	assert.Equal(t, "userA", entry.UserID)
	assert.Equal(t, (2 * time.Hour).Milliseconds(), entry.DurationMs)
	assert.True(t, entry.StartTime.Equal(t0.Add(time.Hour)))
	assert.Equal(t, 1, notifier.dmCount("userA"))
	assert.Contains(t, notifier.dms["userA"][0], "2 hours")

	// повторный проход ничего не делает
	again, err := rec.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Scanned)
	assert.Equal(t, 1, notifier.logCount())
	assert.Equal(t, 1, notifier.dmCount("userA"))
}

func TestReconciler_DMFailureDoesNotBlock(t *testing.T) {
	e := newEnv(t)
	roles := newFakeRoles("g1")
	notifier := newFakeNotifier()
	notifier.failDM = true
	rec := newReconciler(e, roles, notifier)

	leave := e.approved(t, "userA", time.Hour)
	roles.members["g1"]["userA"] = true
	e.clock.Advance(2 * time.Hour)

	result, err := rec.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, result.DMFailures)
	assert.Equal(t, 1, result.RolesRemoved)
	assert.Equal(t, 1, notifier.logCount())
	assert.Equal(t, models.StatusCompleted, e.reload(t, leave.ID).Status)
}

func TestReconciler_RoleAndLogFailuresAreIsolated(t *testing.T) {
	e := newEnv(t)
	roles := newFakeRoles("g1", "g2")
	roles.failRemove["g1"] = true
	notifier := newFakeNotifier()
	notifier.failLog = true
	rec := newReconciler(e, roles, notifier)

	a := e.approved(t, "userA", time.Hour)
	b := e.approved(t, "userB", time.Hour)
	for _, u := range []string{"userA", "userB"} {
		roles.members["g1"][u] = true
		roles.members["g2"][u] = true
	}
	e.clock.Advance(time.Hour)

	result, err := rec.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 2, result.RoleFailures)
	assert.Equal(t, 2, result.RolesRemoved)
	assert.Equal(t, 2, result.LogFailures)
	assert.True(t, roles.has("g1", "userA"))
	assert.False(t, roles.has("g2", "userA"))
	assert.Equal(t, 1, notifier.dmCount("userA"))
	assert.Equal(t, 1, notifier.dmCount("userB"))
	assert.Equal(t, models.StatusCompleted, e.reload(t, a.ID).Status)
	assert.Equal(t, models.StatusCompleted, e.reload(t, b.ID).Status)
}

func TestReconciler_PanicInOneRecordDoesNotStopBatch(t *testing.T) {
	e := newEnv(t)
	roles := newFakeRoles("g1")
	notifier := newFakeNotifier()
	notifier.panicFor = "userA"
	rec := newReconciler(e, roles, notifier)

	e.approved(t, "userA", time.Hour)
	b := e.approved(t, "userB", 2*time.Hour)
	e.clock.Advance(3 * time.Hour)

	result, err := rec.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, notifier.dmCount("userB"))
	assert.Equal(t, models.StatusCompleted, e.reload(t, b.ID).Status)
}

func TestReconciler_KeepsRoleWhileAnotherLeaveIsActive(t *testing.T) {
	e := newEnv(t)
	roles := newFakeRoles("g1")
	roles.members["g1"]["userA"] = true
	notifier := newFakeNotifier()
	rec := newReconciler(e, roles, notifier)

	stale := e.seed(t, "userA", models.StatusActive, t0.Add(-2*time.Hour), time.Hour)
	fresh := e.approved(t, "userA", time.Hour)

	result, err := rec.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 0, result.RolesRemoved)
	assert.True(t, roles.has("g1", "userA"))
	assert.Equal(t, models.StatusCompleted, e.reload(t, stale.ID).Status)
	assert.Equal(t, models.StatusActive, e.reload(t, fresh.ID).Status)
}

// closingRepo закрывает запись между выборкой истекших и CompleteNaturally
type closingRepo struct {
	*repository.GormLeaveRecordRepository
	afterFind func()
}

func (r *closingRepo) FindExpired(ctx context.Context, now time.Time) ([]models.LeaveRecord, error) {
	records, err := r.GormLeaveRecordRepository.FindExpired(ctx, now)
	if err == nil && r.afterFind != nil {
		r.afterFind()
	}
	return records, err
}

func TestReconciler_RecordClosedConcurrentlyIsSkipped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	roles := newFakeRoles("g1")
	roles.members["g1"]["userA"] = true
	notifier := newFakeNotifier()

	// GIVEN: окно истекло, но сотрудник завершает LOA сам в момент прохода
	leave := e.approved(t, "userA", time.Hour)
	e.clock.Advance(2 * time.Hour)

	repo := &closingRepo{GormLeaveRecordRepository: e.repo}
	repo.afterFind = func() {
		_, err := e.leaves.EndEarly(ctx, leave.ID, "userA")
		require.NoError(t, err)
	}
	leaves := service.NewLeaveService(repo, service.WithClock(e.clock.Now), service.WithLogger(quietLogger()))
	rec := service.NewReconciler(
		leaves,
		service.NewRoleSync(roles, loaRole, quietLogger()),
		notifier,
		service.ReconcilerConfig{Interval: time.Hour, LogGuildID: "g1", LogChannelID: "log"},
		quietLogger(),
	)

	// WHEN
	result, err := rec.RunNow(ctx)
	require.NoError(t, err)

	// THEN: запись пропущена, побочных действий нет
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Completed)
	assert.Equal(t, 0, result.RolesRemoved)
	assert.Equal(t, 0, notifier.logCount())
	assert.Equal(t, 0, notifier.dmCount("userA"))
	assert.Equal(t, 0, roles.removed)
	assert.Equal(t, models.StatusEndedEarly, e.reload(t, leave.ID).Status)
}

// cancellingRoles отменяет контекст вызывающего посреди снятия роли
type cancellingRoles struct {
	*fakeRoles
	cancel context.CancelFunc
}

func (r *cancellingRoles) Guilds(ctx context.Context) ([]string, error) {
	r.cancel()
	return r.fakeRoles.Guilds(ctx)
}

func TestReconciler_CallerCancellationDoesNotDropSideEffects(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roles := &cancellingRoles{fakeRoles: newFakeRoles("g1", "g2"), cancel: cancel}
	roles.members["g1"]["userA"] = true
	roles.members["g2"]["userA"] = true
	notifier := newFakeNotifier()
	rec := service.NewReconciler(
		e.leaves,
		service.NewRoleSync(roles, loaRole, quietLogger()),
		notifier,
		service.ReconcilerConfig{Interval: time.Hour, LogGuildID: "g1", LogChannelID: "log"},
		quietLogger(),
	)

	leave := e.approved(t, "userA", time.Hour)
	e.clock.Advance(time.Hour)

	// WHEN: клиент отключился, пока проход снимал роль
	result, err := rec.RunNow(ctx)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	// THEN
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 2, result.RolesRemoved)
	assert.False(t, roles.has("g1", "userA"))
	assert.False(t, roles.has("g2", "userA"))
	assert.Equal(t, 1, notifier.logCount())
	assert.Equal(t, 1, notifier.dmCount("userA"))
	assert.Equal(t, models.StatusCompleted, e.reload(t, leave.ID).Status)
}

func TestReconciler_ConcurrentRunsShareOnePass(t *testing.T) {
	e := newEnv(t)
	roles := newFakeRoles("g1")
	notifier := newFakeNotifier()
	notifier.entered = make(chan struct{}, 1)
	notifier.block = make(chan struct{})
	rec := newReconciler(e, roles, notifier)

	e.approved(t, "userA", time.Hour)
	e.clock.Advance(time.Hour)

	var wg sync.WaitGroup
	results := make([]service.ReconcileResult, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = rec.RunNow(context.Background())
	}()

	<-notifier.entered
	assert.True(t, rec.Running())

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = rec.RunNow(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	close(notifier.block)
	wg.Wait()

	assert.Equal(t, results[0].RunID, results[1].RunID)
	assert.Equal(t, 1, results[0].Completed)
	assert.Equal(t, 1, notifier.dmCount("userA"))
	assert.False(t, rec.Running())
}

func TestReconciler_StartRunsImmediatelyAndStops(t *testing.T) {
	e := newEnv(t)
	roles := newFakeRoles("g1")
	notifier := newFakeNotifier()
	rec := newReconciler(e, roles, notifier)

	leave := e.approved(t, "userA", time.Hour)
	e.clock.Advance(time.Hour)

	rec.Start()
	rec.Start() // повторный вызов игнорируется

	require.Eventually(t, func() bool {
		return notifier.dmCount("userA") == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec.Stop()
	rec.Stop()

	assert.Equal(t, models.StatusCompleted, e.reload(t, leave.ID).Status)
}
