package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoagent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunnerCompletesJob(t *testing.T) {
	release := make(chan struct{})
	r := NewRunner(func(ctx context.Context, goal string, metadata map[string]string) (*domain.AnalysisResults, error) {
		<-release
		return &domain.AnalysisResults{
			Goal: goal,
			Insights: []domain.AnalysisInsight{
				{Symbol: "BTCUSDT", Sentiment: "bullish", Confidence: 0.9},
			},
			MarketData: map[string]float64{"BTCUSDT": 50000},
		}, nil
	}, testLogger())

	id, err := r.StartAnalysis(context.Background(), "market sweep", map[string]string{"trigger": "test"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := r.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, job.Status.Terminal())

	close(release)

	require.Eventually(t, func() bool {
		job, err := r.GetJob(context.Background(), id)
		return err == nil && job.Status == domain.AnalysisCompleted
	}, time.Second, 5*time.Millisecond)

	job, err = r.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job.Results)
	assert.Equal(t, id, job.Results.JobID)
	assert.Equal(t, "market sweep", job.Goal)
	require.Len(t, job.Results.Insights, 1)
}

func TestRunnerRecordsFailure(t *testing.T) {
	r := NewRunner(func(ctx context.Context, goal string, metadata map[string]string) (*domain.AnalysisResults, error) {
		return nil, errors.New("upstream unavailable")
	}, testLogger())

	id, err := r.StartAnalysis(context.Background(), "doomed", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := r.GetJob(context.Background(), id)
		return err == nil && job.Status == domain.AnalysisFailed
	}, time.Second, 5*time.Millisecond)

	job, err := r.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, job.Results)
	assert.Contains(t, job.Error, "upstream unavailable")
}

func TestRunnerContainsPanics(t *testing.T) {
	r := NewRunner(func(ctx context.Context, goal string, metadata map[string]string) (*domain.AnalysisResults, error) {
		panic("analyzer exploded")
	}, testLogger())

	id, err := r.StartAnalysis(context.Background(), "panicky", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := r.GetJob(context.Background(), id)
		return err == nil && job.Status == domain.AnalysisFailed
	}, time.Second, 5*time.Millisecond)
}

func TestRunnerUnknownJob(t *testing.T) {
	r := NewRunner(func(ctx context.Context, goal string, metadata map[string]string) (*domain.AnalysisResults, error) {
		return nil, nil
	}, testLogger())

	_, err := r.GetJob(context.Background(), "analysis_missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunnerWithoutRunFunc(t *testing.T) {
	r := NewRunner(nil, testLogger())
	_, err := r.StartAnalysis(context.Background(), "anything", nil)
	require.Error(t, err)
}
