package alarms

import (
	"context"

	"github.com/cyp0633/libremind/occurrence"
	"github.com/cyp0633/libremind/rules"
	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"
)

// MockStore implements the Store interface for testing
type MockStore struct {
	mock.Mock
}

// Rules implements the Store interface
func (m *MockStore) Rules(ctx context.Context, item occurrence.ItemKey) (rules.RuleSet, error) {
	args := m.Called(ctx, item)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(rules.RuleSet), args.Error(1)
}

// LastSearch implements the Store interface
func (m *MockStore) LastSearch(ctx context.Context, db string) (int64, error) {
	args := m.Called(ctx, db)
	return args.Get(0).(int64), args.Error(1)
}

// SetLastSearch implements the Store interface
func (m *MockStore) SetLastSearch(ctx context.Context, db string, t int64) error {
	args := m.Called(ctx, db, t)
	return args.Error(0)
}

// OpenDatabases implements the Store interface
func (m *MockStore) OpenDatabases(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

// ItemIDs implements the Store interface
func (m *MockStore) ItemIDs(ctx context.Context, db string) ([]int64, error) {
	args := m.Called(ctx, db)
	return args.Get(0).([]int64), args.Error(1)
}

// ListActive implements the Store interface
func (m *MockStore) ListActive(ctx context.Context, db string) ([]ActiveAlarm, error) {
	args := m.Called(ctx, db)
	return args.Get(0).([]ActiveAlarm), args.Error(1)
}

// InsertActive implements the Store interface
func (m *MockStore) InsertActive(ctx context.Context, alarm ActiveAlarm) error {
	args := m.Called(ctx, alarm)
	return args.Error(0)
}

// UpdateSnooze implements the Store interface
func (m *MockStore) UpdateSnooze(ctx context.Context, db, id string, snooze mo.Option[int64]) error {
	args := m.Called(ctx, db, id, snooze)
	return args.Error(0)
}

// Delete implements the Store interface
func (m *MockStore) Delete(ctx context.Context, db, id string) error {
	args := m.Called(ctx, db, id)
	return args.Error(0)
}

// MarkDismissed implements the Store interface
func (m *MockStore) MarkDismissed(ctx context.Context, db string) error {
	args := m.Called(ctx, db)
	return args.Error(0)
}
