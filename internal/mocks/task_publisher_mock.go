package mocks

import (
	"context"

	"storybook-server/internal/messaging"

	"github.com/stretchr/testify/mock"
)

// MockTaskPublisher is a mock type for the messaging.TaskPublisher type
type MockTaskPublisher struct {
	mock.Mock
}

// PublishPageImageTasks provides a mock function with given fields: ctx, tasks
func (_m *MockTaskPublisher) PublishPageImageTasks(ctx context.Context, tasks ...messaging.PageImageTask) error {
	ret := _m.Called(ctx, tasks)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, ...messaging.PageImageTask) error); ok {
		r0 = rf(ctx, tasks...)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockTaskPublisher creates a new instance of MockTaskPublisher. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockTaskPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTaskPublisher {
	m := &MockTaskPublisher{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ messaging.TaskPublisher = (*MockTaskPublisher)(nil)
