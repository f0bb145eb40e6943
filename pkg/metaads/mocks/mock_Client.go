// Package mocks provides test doubles for the metaads client.
package mocks

import (
	"context"

	metaads "github.com/sells-group/funnel-sync/pkg/metaads"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// ListAdAccounts provides a mock function with given fields: ctx
func (_m *MockClient) ListAdAccounts(ctx context.Context) ([]metaads.AdAccount, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for ListAdAccounts")
	}

	var r0 []metaads.AdAccount
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context) ([]metaads.AdAccount, error)); ok {
		return rf(ctx)
	}
	if rf, ok := ret.Get(0).(func(context.Context) []metaads.AdAccount); ok {
		r0 = rf(ctx)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]metaads.AdAccount)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context) error); ok {
		r1 = rf(ctx)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// ListCampaigns provides a mock function with given fields: ctx, accountID
func (_m *MockClient) ListCampaigns(ctx context.Context, accountID string) ([]metaads.Campaign, error) {
	ret := _m.Called(ctx, accountID)

	if len(ret) == 0 {
		panic("no return value specified for ListCampaigns")
	}

	var r0 []metaads.Campaign
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) ([]metaads.Campaign, error)); ok {
		return rf(ctx, accountID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) []metaads.Campaign); ok {
		r0 = rf(ctx, accountID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]metaads.Campaign)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, accountID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// ListInsights provides a mock function with given fields: ctx, accountID, tr
func (_m *MockClient) ListInsights(ctx context.Context, accountID string, tr metaads.TimeRange) ([]metaads.Insight, error) {
	ret := _m.Called(ctx, accountID, tr)

	if len(ret) == 0 {
		panic("no return value specified for ListInsights")
	}

	var r0 []metaads.Insight
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, metaads.TimeRange) ([]metaads.Insight, error)); ok {
		return rf(ctx, accountID, tr)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, metaads.TimeRange) []metaads.Insight); ok {
		r0 = rf(ctx, accountID, tr)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]metaads.Insight)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, metaads.TimeRange) error); ok {
		r1 = rf(ctx, accountID, tr)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
