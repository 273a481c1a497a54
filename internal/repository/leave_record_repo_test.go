package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rceutils-bot/internal/models"
	"rceutils-bot/internal/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.OpenDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestRepo(t *testing.T) *repository.GormLeaveRecordRepository {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo, err := repository.NewGormLeaveRecordRepository(newTestDB(t), node)
	require.NoError(t, err)
	return repo
}

var t0 = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func activeRecord(userID string, start time.Time, d time.Duration) *models.LeaveRecord {
	return &models.LeaveRecord{
		UserID:      userID,
		RequestedAt: models.NewTimestamp(start),
		StartTime:   models.NewTimestamp(start),
		EndTime:     models.NewTimestamp(start.Add(d)),
		DurationMs:  d.Milliseconds(),
		Reason:      "vacation",
		Status:      models.StatusActive,
	}
}

// =============================================================================
// CREATE / READ
// =============================================================================

func TestCreate_AssignsMonotonicIDsAndStoresTimestampsAsISO(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := activeRecord("u1", t0, time.Hour)
	second := activeRecord("u1", t0, time.Hour)
	require.NoError(t, repo.Create(ctx, first, &models.LeaveEvent{Event: models.EventRequested, At: models.NewTimestamp(t0)}))
	require.NoError(t, repo.Create(ctx, second, nil))

	assert.Greater(t, second.ID, first.ID)

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.StartTime.Equal(t0))
	assert.True(t, got.EndTime.Equal(t0.Add(time.Hour)))
	assert.Equal(t, "2026-03-02T10:00:00.000Z", got.EndTime.String())

	events, err := repo.GetEvents(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, first.ID, events[0].LoaID)
}

func TestGetByID_MissingReturnsNil(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// COMPARE-AND-SET
// =============================================================================

func TestApply_StatusGuard(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := activeRecord("u1", t0, time.Hour)
	require.NoError(t, repo.Create(ctx, rec, nil))

	// WHEN: guard expects PENDING but the row is ACTIVE
	ok, err := repo.Apply(ctx, rec.ID, repository.Change{
		Guard:   repository.Guard{Status: models.StatusPending},
		Updates: map[string]interface{}{"status": models.StatusDenied},
		Event:   &models.LeaveEvent{Event: models.EventDenied, At: models.NewTimestamp(t0)},
	})
	require.NoError(t, err)
	assert.False(t, ok)

	// THEN: nothing changed, no event written
	got, _ := repo.GetByID(ctx, rec.ID)
	assert.Equal(t, models.StatusActive, got.Status)
	events, _ := repo.GetEvents(ctx, rec.ID)
	assert.Empty(t, events)

	ok, err = repo.Apply(ctx, rec.ID, repository.Change{
		Guard:   repository.Guard{Status: models.StatusActive},
		Updates: map[string]interface{}{"status": models.StatusEndedEarly},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApply_EndTimeGuards(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := activeRecord("u1", t0, time.Hour)
	require.NoError(t, repo.Create(ctx, rec, nil))

	before := t0.Add(30 * time.Minute)
	ok, err := repo.Apply(ctx, rec.ID, repository.Change{
		Guard:   repository.Guard{Status: models.StatusActive, EndTimeAtOrBefore: &before},
		Updates: map[string]interface{}{"status": models.StatusCompleted},
	})
	require.NoError(t, err)
	assert.False(t, ok, "window has not elapsed yet")

	stale := t0.Add(2 * time.Hour)
	ok, err = repo.Apply(ctx, rec.ID, repository.Change{
		Guard:   repository.Guard{Status: models.StatusActive, EndTime: &stale},
		Updates: map[string]interface{}{"end_time": models.NewTimestamp(t0.Add(3 * time.Hour))},
	})
	require.NoError(t, err)
	assert.False(t, ok, "end_time changed under us")

	after := t0.Add(time.Hour)
	ok, err = repo.Apply(ctx, rec.ID, repository.Change{
		Guard:   repository.Guard{Status: models.StatusActive, EndTimeAtOrBefore: &after},
		Updates: map[string]interface{}{"status": models.StatusCompleted},
	})
	require.NoError(t, err)
	assert.True(t, ok, "end_time == now counts as elapsed")
}

func TestApply_AuditOnlyChangeWritesEditHistory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := activeRecord("u1", t0, time.Hour)
	require.NoError(t, repo.Create(ctx, rec, nil))

	ok, err := repo.Apply(ctx, rec.ID, repository.Change{
		Edits: []models.EditHistoryEntry{{
			EditedBy: "mod", EditedAt: models.NewTimestamp(t0), FieldChanged: models.FieldReason,
			OldValue: "a", NewValue: "b",
		}},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	edits, err := repo.GetEditHistory(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "b", edits[0].NewValue)

	ok, err = repo.Apply(ctx, 999, repository.Change{Edits: []models.EditHistoryEntry{{EditedBy: "mod"}}})
	require.NoError(t, err)
	assert.False(t, ok, "missing row")
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := activeRecord("u1", t0, time.Hour)
	require.NoError(t, repo.Create(ctx, rec, nil))

	boom := errors.New("boom")
	err := repo.WithTransaction(ctx, func(tx repository.LeaveRecordRepository) error {
		ok, err := tx.Apply(ctx, rec.ID, repository.Change{
			Guard:   repository.Guard{Status: models.StatusActive},
			Updates: map[string]interface{}{"status": models.StatusEndedEarly},
		})
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := repo.GetByID(ctx, rec.ID)
	assert.Equal(t, models.StatusActive, got.Status)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestQueries_FilterByEndTimeAndOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := t0.Add(90 * time.Minute)

	expired := activeRecord("u1", t0, time.Hour)
	long := activeRecord("u2", t0, 5*time.Hour)
	short := activeRecord("u3", t0, 2*time.Hour)
	pending := activeRecord("u4", t0, time.Hour)
	pending.Status = models.StatusPending
	for _, r := range []*models.LeaveRecord{expired, long, short, pending} {
		require.NoError(t, repo.Create(ctx, r, nil))
	}

	active, err := repo.FindAllActive(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, short.ID, active[0].ID, "soonest ending first")
	assert.Equal(t, long.ID, active[1].ID)

	stale, err := repo.FindActiveByUser(ctx, "u1", now)
	require.NoError(t, err)
	assert.Nil(t, stale, "expired ACTIVE row is not an active leave")

	exp, err := repo.FindExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, exp, 1)
	assert.Equal(t, expired.ID, exp[0].ID)

	pend, err := repo.FindPending(ctx)
	require.NoError(t, err)
	require.Len(t, pend, 1)
	assert.Equal(t, pending.ID, pend[0].ID)
}

func TestFindByUser_MostRecentFirstWithLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 4; i++ {
		r := activeRecord("u1", t0.Add(time.Duration(i)*24*time.Hour), time.Hour)
		r.Status = models.StatusCompleted
		require.NoError(t, repo.Create(ctx, r, nil))
		ids = append(ids, r.ID)
	}

	got, err := repo.FindByUser(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ids[3], got[0].ID)
	assert.Equal(t, ids[1], got[2].ID)
}
