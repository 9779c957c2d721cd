package deployclient_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nais/deploywatch/pkg/buildevents"
	"github.com/nais/deploywatch/pkg/scale"
)

type MockPlatform struct {
	mock.Mock
}

func (m *MockPlatform) Snapshot(ctx context.Context, deploymentID string) (scale.Snapshot, error) {
	ret := m.Called(ctx, deploymentID)

	var snapshot scale.Snapshot
	if ret.Get(0) != nil {
		snapshot = ret.Get(0).(scale.Snapshot)
	}

	return snapshot, ret.Error(1)
}

func (m *MockPlatform) Events(ctx context.Context, deploymentID string, opts buildevents.Options) (buildevents.Stream, error) {
	ret := m.Called(ctx, deploymentID, opts)

	var stream buildevents.Stream
	if ret.Get(0) != nil {
		stream = ret.Get(0).(buildevents.Stream)
	}

	return stream, ret.Error(1)
}

func (m *MockPlatform) SetScale(ctx context.Context, deploymentID string, constraints scale.Constraints) error {
	ret := m.Called(ctx, deploymentID, constraints)
	return ret.Error(0)
}
