package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyteller-server/internal/ai"
)

// MockTextGenerator is a mock type for the TextGenerator type
type MockTextGenerator struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, prompt, opts
func (_m *MockTextGenerator) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	ret := _m.Called(ctx, prompt, opts)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, ai.GenerateOptions) string); ok {
		r0 = rf(ctx, prompt, opts)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(string)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, ai.GenerateOptions) error); ok {
		r1 = rf(ctx, prompt, opts)
	} else {
		err := ret.Error(1)
		if err != nil {
			r1 = err
		}
	}

	return r0, r1
}

// NewMockTextGenerator creates a new instance of MockTextGenerator. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockTextGenerator(t interface {
	mock.TestingT
	Helper()
}) *MockTextGenerator {
	m := &MockTextGenerator{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ ai.TextGenerator = (*MockTextGenerator)(nil)
