package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/access-management/internal"
	"github.com/frahmantamala/access-management/internal/audit"
	sessionDatamodel "github.com/frahmantamala/access-management/internal/core/datamodel/session"
	"gorm.io/gorm"
)

// LockoutStage pairs the cumulative failure count that triggers it with the
// lock duration. Duration zero means terminal block.
type LockoutStage struct {
	Threshold int
	Duration  time.Duration
}

// Stage 0 permits five silent failures; the sixth locks for two minutes,
// then 11/16/21/26 escalate and the 31st failure blocks the account for
// manual intervention.
func defaultLockoutStages() []LockoutStage {
	return []LockoutStage{
		{Threshold: 6, Duration: 2 * time.Minute},
		{Threshold: 11, Duration: 5 * time.Minute},
		{Threshold: 16, Duration: 10 * time.Minute},
		{Threshold: 21, Duration: 30 * time.Minute},
		{Threshold: 26, Duration: time.Hour},
		{Threshold: 31, Duration: 0},
	}
}

// LockoutStagesFromConfig builds the stage table from the configured base
// threshold and step, keeping the default duration ladder.
func LockoutStagesFromConfig(baseThreshold, stageStep int) []LockoutStage {
	if baseThreshold <= 0 || stageStep <= 0 {
		return defaultLockoutStages()
	}
	durations := []time.Duration{2 * time.Minute, 5 * time.Minute, 10 * time.Minute, 30 * time.Minute, time.Hour, 0}
	stages := make([]LockoutStage, 0, len(durations))
	threshold := baseThreshold + 1
	for _, d := range durations {
		stages = append(stages, LockoutStage{Threshold: threshold, Duration: d})
		threshold += stageStep
	}
	return stages
}

// LockoutMachine tracks failed login attempts per account and escalates
// temporary and permanent lockouts. The read-increment-write cycle for one
// account is serialized by a per-account mutex: two concurrent failures must
// never both read the same count.
type LockoutMachine struct {
	repo     LockoutRepositoryAPI
	recorder audit.Recorder
	notifier Notifier
	logger   *slog.Logger
	stages   []LockoutStage
	now      func() time.Time

	mu       sync.Mutex
	accounts map[string]*sync.Mutex
}

func NewLockoutMachine(repo LockoutRepositoryAPI, recorder audit.Recorder, notifier Notifier, logger *slog.Logger, stages []LockoutStage) *LockoutMachine {
	if len(stages) == 0 {
		stages = defaultLockoutStages()
	}
	return &LockoutMachine{
		repo:     repo,
		recorder: recorder,
		notifier: notifier,
		logger:   logger,
		stages:   stages,
		now:      time.Now,
		accounts: make(map[string]*sync.Mutex),
	}
}

func (m *LockoutMachine) accountLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.accounts[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.accounts[userID] = lock
	}
	return lock
}

// Gate rejects an attempt while the account is locked or blocked, without
// consuming an attempt and before any credential check runs.
func (m *LockoutMachine) Gate(ctx context.Context, userID string) error {
	record, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	if record.IsBlocked {
		return internal.ErrAccountBlocked
	}
	if record.LockedUntil != nil && m.now().Before(*record.LockedUntil) {
		return internal.NewAccountLockedError(record.LockoutStage, *record.LockedUntil)
	}
	return nil
}

// RecordFailure increments the failure count and escalates when a stage
// threshold is hit. It returns the error the caller must surface: an
// escalation error at a threshold, nil otherwise (caller surfaces the
// generic credential failure).
func (m *LockoutMachine) RecordFailure(ctx context.Context, userID, ip string) error {
	lock := m.accountLock(userID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	if record.IsBlocked {
		return internal.ErrAccountBlocked
	}

	now := m.now()
	if record.LockedUntil != nil && now.Before(*record.LockedUntil) {
		// Attempts during an active lock are rejected upstream; no increment.
		return internal.NewAccountLockedError(record.LockoutStage, *record.LockedUntil)
	}

	old := *record
	record.FailedAttemptCount++
	record.LastFailureAt = &now
	record.UpdatedAt = now

	var surfaced error
	for i, stage := range m.stages {
		if record.FailedAttemptCount != stage.Threshold {
			continue
		}
		if stage.Duration == 0 {
			record.IsBlocked = true
			record.LockoutStage = i + 1
			record.LockedUntil = nil
			surfaced = internal.ErrAccountBlocked
		} else {
			until := now.Add(stage.Duration)
			record.LockoutStage = i + 1
			record.LockedUntil = &until
			surfaced = internal.NewAccountLockedError(record.LockoutStage, until)
		}
		break
	}

	if err := m.repo.Save(ctx, record); err != nil {
		return internal.NewInternalError("failed to persist lockout record", err)
	}

	if surfaced != nil {
		action := audit.ActionLockoutEscalated
		kind := "account_locked"
		if record.IsBlocked {
			action = audit.ActionAccountBlocked
			kind = "account_blocked"
		}
		if err := m.recorder.Record(ctx, audit.Entry{
			Action:     action,
			EntityType: audit.EntityLockout,
			EntityID:   userID,
			Old:        old,
			New:        record,
			IPAddress:  ip,
			OccurredAt: now,
		}); err != nil {
			return internal.NewInternalError("failed to write audit entry", err)
		}
		m.notifier.SendSecurityAlert(ctx, userID, kind)
	}
	return surfaced
}

// RecordSuccess resets the cycle after a successful login while OPEN or
// after the lock window elapsed. Blocked accounts stay blocked.
func (m *LockoutMachine) RecordSuccess(ctx context.Context, userID string) error {
	lock := m.accountLock(userID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	if record.IsBlocked {
		return internal.ErrAccountBlocked
	}
	if record.FailedAttemptCount == 0 && record.LockoutStage == 0 && record.LockedUntil == nil {
		return nil
	}

	record.FailedAttemptCount = 0
	record.LockoutStage = 0
	record.LockedUntil = nil
	record.UpdatedAt = m.now()
	if err := m.repo.Save(ctx, record); err != nil {
		return internal.NewInternalError("failed to reset lockout record", err)
	}
	return nil
}

// Unblock clears a terminal block. Manual path only.
func (m *LockoutMachine) Unblock(ctx context.Context, userID, actorID, ip string) error {
	lock := m.accountLock(userID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	if !record.IsBlocked {
		return nil
	}

	old := *record
	record.IsBlocked = false
	record.FailedAttemptCount = 0
	record.LockoutStage = 0
	record.LockedUntil = nil
	record.UpdatedAt = m.now()
	if err := m.repo.Save(ctx, record); err != nil {
		return internal.NewInternalError("failed to unblock account", err)
	}

	return m.recorder.Record(ctx, audit.Entry{
		Action:      audit.ActionAccountUnblocked,
		EntityType:  audit.EntityLockout,
		EntityID:    userID,
		Old:         old,
		New:         record,
		PerformedBy: actorID,
		IPAddress:   ip,
		OccurredAt:  m.now(),
	})
}

func (m *LockoutMachine) load(ctx context.Context, userID string) (*sessionDatamodel.LockoutRecord, error) {
	record, err := m.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &sessionDatamodel.LockoutRecord{UserID: userID}, nil
		}
		return nil, internal.NewInternalError("failed to load lockout record", err)
	}
	return record, nil
}
