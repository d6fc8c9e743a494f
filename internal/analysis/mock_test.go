package analysis

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/satyanetra/satyanetra/internal/model"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) Ingest(ctx context.Context, req model.AnalysisRequest) (*model.IngestResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IngestResponse), args.Error(1)
}

func (m *mockAPI) JobStatus(ctx context.Context, jobID string) (*model.Job, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *mockAPI) ProductScore(ctx context.Context, productID string) (*model.ScoreReport, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScoreReport), args.Error(1)
}
