package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"storyteller-server/internal/domain"
	"storyteller-server/internal/storage"
)

// MockSessionStore is a mock type for the SessionStore type
type MockSessionStore struct {
	mock.Mock
}

// Save provides a mock function with given fields: ctx, session, ttl
func (_m *MockSessionStore) Save(ctx context.Context, session *domain.StorySession, ttl time.Duration) error {
	ret := _m.Called(ctx, session, ttl)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *domain.StorySession, time.Duration) error); ok {
		r0 = rf(ctx, session, ttl)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Get provides a mock function with given fields: ctx, id
func (_m *MockSessionStore) Get(ctx context.Context, id string) (*domain.StorySession, error) {
	ret := _m.Called(ctx, id)

	var r0 *domain.StorySession
	if rf, ok := ret.Get(0).(func(context.Context, string) *domain.StorySession); ok {
		r0 = rf(ctx, id)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*domain.StorySession)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, id)
	} else {
		err := ret.Error(1)
		if err != nil {
			r1 = err
		}
	}

	return r0, r1
}

// Update provides a mock function with given fields: ctx, session, ttl
func (_m *MockSessionStore) Update(ctx context.Context, session *domain.StorySession, ttl time.Duration) error {
	ret := _m.Called(ctx, session, ttl)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *domain.StorySession, time.Duration) error); ok {
		r0 = rf(ctx, session, ttl)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockSessionStore creates a new instance of MockSessionStore. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockSessionStore(t interface {
	mock.TestingT
	Helper()
}) *MockSessionStore {
	m := &MockSessionStore{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ storage.SessionStore = (*MockSessionStore)(nil)
