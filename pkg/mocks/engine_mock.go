package mocks

import (
	"context"

	"github.com/Bojackxiang/n8n-demo/pkg/engine"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockEngine is a mock of the engine operations used by the services.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Launch(ctx context.Context, wf *models.Workflow, req engine.LaunchRequest) (*models.Run, error) {
	args := m.Called(ctx, wf, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Run), args.Error(1)
}

func (m *MockEngine) Cancel(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)

	return args.Error(0)
}

func (m *MockEngine) Check(wf *models.Workflow) error {
	args := m.Called(wf)

	return args.Error(0)
}
