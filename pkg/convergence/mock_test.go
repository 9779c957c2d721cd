package convergence_test

import (
	"context"

	"github.com/nais/deploywatch/pkg/scale"
	"github.com/stretchr/testify/mock"
)

type MockSnapshotSource struct {
	mock.Mock
}

func (m *MockSnapshotSource) Snapshot(ctx context.Context, deploymentID string) (scale.Snapshot, error) {
	ret := m.Called(ctx, deploymentID)

	var snapshot scale.Snapshot
	if ret.Get(0) != nil {
		snapshot = ret.Get(0).(scale.Snapshot)
	}

	return snapshot, ret.Error(1)
}
