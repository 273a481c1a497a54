package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"rceutils-bot/internal/models"
	"rceutils-bot/internal/repository"
	"rceutils-bot/internal/service"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CLOCK
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// =============================================================================
// ROLE DIRECTORY
// =============================================================================

type fakeRoles struct {
	mu         sync.Mutex
	guilds     []string
	members    map[string]map[string]bool // guild -> user -> has role
	failRemove map[string]bool            // guild -> RemoveRole fails
	failGuilds bool
	removed    int
	added      int
}

func newFakeRoles(guilds ...string) *fakeRoles {
	r := &fakeRoles{
		guilds:     guilds,
		members:    make(map[string]map[string]bool),
		failRemove: make(map[string]bool),
	}
	for _, g := range guilds {
		r.members[g] = make(map[string]bool)
	}
	return r
}

func (r *fakeRoles) Guilds(ctx context.Context) ([]string, error) {
	if r.failGuilds {
		return nil, errors.New("gateway unavailable")
	}
	return r.guilds, nil
}

func (r *fakeRoles) HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[guildID][userID], nil
}

func (r *fakeRoles) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[guildID][userID] = true
	r.added++
	return nil
}

func (r *fakeRoles) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failRemove[guildID] {
		return fmt.Errorf("missing permissions in %s", guildID)
	}
	r.members[guildID][userID] = false
	r.removed++
	return nil
}

func (r *fakeRoles) has(guildID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[guildID][userID]
}

// =============================================================================
// NOTIFIER
// =============================================================================

type fakeNotifier struct {
	mu       sync.Mutex
	dms      map[string][]string
	logs     []service.LogEntry
	failDM   bool
	failLog  bool
	panicFor string

	// block - если задан, DirectMessage ждет его закрытия
	entered chan struct{}
	block   chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{dms: make(map[string][]string)}
}

func (n *fakeNotifier) DirectMessage(ctx context.Context, userID, content string) error {
	if n.block != nil {
		select {
		case n.entered <- struct{}{}:
		default:
		}
		<-n.block
	}
	if userID == n.panicFor {
		panic("boom")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failDM {
		return errors.New("cannot send messages to this user")
	}
	n.dms[userID] = append(n.dms[userID], content)
	return nil
}

func (n *fakeNotifier) PostToLogChannel(ctx context.Context, guildID, channelID string, entry service.LogEntry) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failLog {
		return errors.New("unknown channel")
	}
	n.logs = append(n.logs, entry)
	return nil
}

func (n *fakeNotifier) logCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.logs)
}

func (n *fakeNotifier) dmCount(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.dms[userID])
}

// =============================================================================
// ENGINE
// =============================================================================

var t0 = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type env struct {
	repo   *repository.GormLeaveRecordRepository
	clock  *fakeClock
	leaves *service.LeaveService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := repository.OpenDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo, err := repository.NewGormLeaveRecordRepository(db, node)
	require.NoError(t, err)

	clock := newClock(t0)
	leaves := service.NewLeaveService(repo, service.WithClock(clock.Now), service.WithLogger(quietLogger()))

	return &env{repo: repo, clock: clock, leaves: leaves}
}

func (e *env) request(t *testing.T, userID string, d time.Duration) *models.LeaveRecord {
	t.Helper()
	rec, err := e.leaves.RequestLeave(context.Background(), service.RequestInput{
		UserID:     userID,
		DurationMs: d.Milliseconds(),
		Reason:     "family trip",
	})
	require.NoError(t, err)
	return rec
}

func (e *env) approved(t *testing.T, userID string, d time.Duration) *models.LeaveRecord {
	t.Helper()
	rec := e.request(t, userID, d)
	rec, err := e.leaves.Approve(context.Background(), rec.ID, "mod")
	require.NoError(t, err)
	return rec
}

// seed пишет запись напрямую в хранилище с нужным статусом
func (e *env) seed(t *testing.T, userID string, status models.LeaveStatus, start time.Time, d time.Duration) *models.LeaveRecord {
	t.Helper()
	rec := &models.LeaveRecord{
		UserID:      userID,
		RequestedAt: models.NewTimestamp(start),
		StartTime:   models.NewTimestamp(start),
		EndTime:     models.NewTimestamp(start.Add(d)),
		DurationMs:  d.Milliseconds(),
		Reason:      "seeded",
		Status:      status,
	}
	require.NoError(t, e.repo.Create(context.Background(), rec, nil))
	return rec
}

func (e *env) reload(t *testing.T, id int64) *models.LeaveRecord {
	t.Helper()
	rec, err := e.leaves.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}
