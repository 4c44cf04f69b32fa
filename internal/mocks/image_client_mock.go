package mocks

import (
	"context"

	"storybook-server/internal/imagegen"

	"github.com/stretchr/testify/mock"
)

// MockImageClient is a mock type for the imagegen.Client type
type MockImageClient struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, req
func (_m *MockImageClient) Generate(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
	ret := _m.Called(ctx, req)

	var r0 *imagegen.Image
	if rf, ok := ret.Get(0).(func(context.Context, imagegen.Request) *imagegen.Image); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*imagegen.Image)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, imagegen.Request) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Name provides a mock function with no fields
func (_m *MockImageClient) Name() string {
	ret := _m.Called()

	var r0 string
	if rf, ok := ret.Get(0).(func() string); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(string)
	}

	return r0
}

// NewMockImageClient creates a new instance of MockImageClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockImageClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockImageClient {
	m := &MockImageClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ imagegen.Client = (*MockImageClient)(nil)
