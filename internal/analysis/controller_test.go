package analysis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/satyanetra/satyanetra/internal/config"
	"github.com/satyanetra/satyanetra/internal/gateway"
	"github.com/satyanetra/satyanetra/internal/model"
	"github.com/satyanetra/satyanetra/pkg/satyanetra"
)

var fastPoll = config.PollConfig{
	InitialDelayMs:     1,
	IntervalMs:         1,
	GraceMs:            1,
	MaxNotFoundRetries: 3,
}

// recorder collects every published snapshot.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) observe(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func (r *recorder) states() []State {
	var out []State
	for _, s := range r.all() {
		if len(out) == 0 || out[len(out)-1] != s.State {
			out = append(out, s.State)
		}
	}
	return out
}

func newTestController(api API, opts ...Option) (*Controller, *recorder) {
	rec := &recorder{}
	opts = append(opts, WithObserver(rec.observe))
	return NewController(api, fastPoll, opts...), rec
}

func notFoundErr() error {
	return &satyanetra.Error{
		Kind:    satyanetra.KindJobNotFound,
		Status:  http.StatusNotFound,
		Code:    satyanetra.CodeJobNotFound,
		Message: "Job not found",
	}
}

func sampleReport(productID string, score int) *model.ScoreReport {
	return &model.ScoreReport{
		ProductID:    productID,
		OverallScore: score,
		ProductDetails: model.ProductDetails{
			Name: "Test Product",
			URL:  "https://www.amazon.com/test-product",
		},
	}
}

func TestSubmit_ValidationRejectsWithoutNetwork(t *testing.T) {
	tests := []struct {
		name string
		url  string
		code string
	}{
		{name: "empty", url: "", code: satyanetra.CodeMissingURL},
		{name: "not a url", url: "not a url", code: satyanetra.CodeInvalidURL},
		{name: "ftp scheme", url: "ftp://files.example.com/p", code: satyanetra.CodeInvalidURL},
		{name: "javascript scheme", url: "javascript:alert(1)", code: satyanetra.CodeInvalidURL},
		{name: "missing host", url: "https://", code: satyanetra.CodeInvalidURL},
		{name: "relative", url: "/products/1", code: satyanetra.CodeInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			c, rec := newTestController(api)

			resp, err := c.Submit(context.Background(), tt.url)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Equal(t, satyanetra.KindValidation, satyanetra.KindOf(err))

			var se *satyanetra.Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.code, se.Code)

			snap := c.Snapshot()
			assert.Equal(t, StateIdle, snap.State)
			assert.Equal(t, RecoveryFixURL, snap.Recovery)
			assert.NotEmpty(t, snap.Message)
			assert.Equal(t, []State{StateIdle}, rec.states())
			api.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
		})
	}
}

func TestSubmit_Success(t *testing.T) {
	api := &mockAPI{}
	api.On("Ingest", mock.Anything, model.AnalysisRequest{URL: "https://www.amazon.com/test-product", Platform: "web"}).
		Return(&model.IngestResponse{JobID: "j1", ProductID: "p1"}, nil).Once()
	c, rec := newTestController(api)

	resp, err := c.Submit(context.Background(), "https://www.amazon.com/test-product")
	require.NoError(t, err)
	assert.Equal(t, "j1", resp.JobID)

	snap := c.Snapshot()
	assert.Equal(t, StatePolling, snap.State)
	assert.Equal(t, "j1", snap.JobID)
	assert.Equal(t, "p1", snap.ProductID)
	assert.Equal(t, model.JobStatusPending, snap.Status)
	assert.Equal(t, []State{StateSubmitting, StatePolling}, rec.states())
	api.AssertExpectations(t)
}

func TestSubmit_MissingIdentifiersInResponse(t *testing.T) {
	tests := []struct {
		name string
		resp *model.IngestResponse
	}{
		{name: "no product id", resp: &model.IngestResponse{JobID: "j1"}},
		{name: "no job id", resp: &model.IngestResponse{ProductID: "p1"}},
		{name: "empty", resp: &model.IngestResponse{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			api.On("Ingest", mock.Anything, mock.Anything).Return(tt.resp, nil).Once()
			c, _ := newTestController(api)

			_, err := c.Submit(context.Background(), "https://shop.example/p/1")
			require.Error(t, err)

			var se *satyanetra.Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, satyanetra.CodeInvalidResponse, se.Code)
			assert.Equal(t, StateIdle, c.Snapshot().State)
			assert.Equal(t, MsgInvalidResponse, c.Snapshot().Message)
		})
	}
}

func TestSubmit_ErrorSurfacesStructuredMessage(t *testing.T) {
	api := &mockAPI{}
	backendErr := &satyanetra.Error{
		Kind:    satyanetra.KindTimeout,
		Status:  http.StatusGatewayTimeout,
		Code:    satyanetra.CodeBackendTimeout,
		Message: "The backend is taking too long to process this request.",
	}
	api.On("Ingest", mock.Anything, mock.Anything).Return(nil, backendErr).Once()
	c, _ := newTestController(api)

	_, err := c.Submit(context.Background(), "https://shop.example/p/1")
	require.Error(t, err)
	assert.Equal(t, satyanetra.KindTimeout, satyanetra.KindOf(err))

	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, backendErr.Message, snap.Message)
	assert.Equal(t, RecoveryTryDemo, snap.Recovery)
}

func TestScenarioA_HappyPath(t *testing.T) {
	api := &mockAPI{}
	api.On("Ingest", mock.Anything, mock.Anything).
		Return(&model.IngestResponse{JobID: "j1", ProductID: "p1"}, nil).Once()
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusProcessing, Progress: 40, Logs: []string{"fetching reviews"}}, nil).Once()
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusCompleted, Progress: 100}, nil).Once()
	api.On("ProductScore", mock.Anything, "p1").Return(sampleReport("p1", 91), nil).Once()
	c, rec := newTestController(api)

	snap, err := c.Run(context.Background(), "https://www.amazon.com/test-product")
	require.NoError(t, err)

	assert.Equal(t, StateResolved, snap.State)
	require.NotNil(t, snap.Report)
	assert.Equal(t, 91, snap.Report.OverallScore)
	assert.False(t, snap.Demo)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, []State{StateSubmitting, StatePolling, StateResolved}, rec.states())

	var sawForty bool
	for _, s := range rec.all() {
		if s.Progress == 40 && s.Status == model.JobStatusProcessing {
			sawForty = true
			assert.Equal(t, []string{"fetching reviews"}, s.Logs)
		}
	}
	assert.True(t, sawForty, "processing snapshot should be published")
	api.AssertExpectations(t)
}

func TestScenarioB_NetworkFailureExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
	})}
	client := satyanetra.NewClient(
		satyanetra.WithBaseURL("http://127.0.0.1:1"),
		satyanetra.WithHTTPClient(hc),
		satyanetra.WithRetryBackoff(time.Millisecond),
	)
	c, _ := newTestController(client)

	_, err := c.Submit(context.Background(), "https://www.amazon.com/test-product")
	require.Error(t, err)
	assert.Equal(t, satyanetra.KindNetwork, satyanetra.KindOf(err))
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")

	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, satyanetra.MsgNetwork, snap.Message)
	assert.Equal(t, RecoveryTryDemo, snap.Recovery)
}

func TestScenarioC_JobFailed(t *testing.T) {
	api := &mockAPI{}
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusProcessing, Progress: 20}, nil).Once()
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusFailed, Error: "review scrape blocked"}, nil).Once()
	c, _ := newTestController(api)

	snap, err := c.Track(context.Background(), "j1", "p1")
	require.Error(t, err)
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "review scrape blocked", snap.Message)
	assert.Equal(t, RecoveryRestart, snap.Recovery)
	assert.Equal(t, 20, snap.Progress)
	api.AssertExpectations(t)
	api.AssertNotCalled(t, "ProductScore", mock.Anything, mock.Anything)
}

func TestTrack_FailedWithoutMessage(t *testing.T) {
	api := &mockAPI{}
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusFailed}, nil).Once()
	c, _ := newTestController(api)

	snap, err := c.Track(context.Background(), "j1", "p1")
	require.Error(t, err)
	assert.Equal(t, MsgAnalysisFailed, snap.Message)
}

func TestScenarioD_MissingIdentifiers(t *testing.T) {
	tests := []struct {
		name      string
		jobID     string
		productID string
	}{
		{name: "no job id", productID: "p1"},
		{name: "no product id", jobID: "j1"},
		{name: "neither"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			c, _ := newTestController(api)

			snap, err := c.Track(context.Background(), tt.jobID, tt.productID)
			require.Error(t, err)
			assert.Equal(t, satyanetra.KindMissingIdentifiers, satyanetra.KindOf(err))
			assert.Equal(t, StateFailed, snap.State)
			assert.Equal(t, MsgMissingIdentifiers, snap.Message)
			assert.Equal(t, RecoveryRestart, snap.Recovery)
			api.AssertNotCalled(t, "JobStatus", mock.Anything, mock.Anything)
		})
	}
}

func TestScenarioE_ReportNotReady(t *testing.T) {
	api := &mockAPI{}
	conflict := &satyanetra.Error{
		Kind:   satyanetra.KindConflict,
		Status: http.StatusConflict,
		Code:   satyanetra.CodeNotReady,
	}
	api.On("ProductScore", mock.Anything, "p1").Return(nil, conflict).Once()
	c, _ := newTestController(api)

	snap, err := c.Resolve(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, satyanetra.IsKind(err, satyanetra.KindConflict))
	assert.Nil(t, snap.Report)
	assert.False(t, snap.Demo)
	assert.Equal(t, MsgNotReady, snap.Message)
	assert.Equal(t, RecoveryWaitRefresh, snap.Recovery)
}

func TestResolve_FallsBackToDemo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	api := &mockAPI{}
	api.On("ProductScore", mock.Anything, "p1").
		Return(nil, satyanetra.NewError(satyanetra.KindNetwork, "", satyanetra.MsgNetwork)).Once()
	c, _ := newTestController(api, WithClock(func() time.Time { return now }))

	snap, err := c.Resolve(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, snap.Demo)
	require.NotNil(t, snap.Report)
	assert.Equal(t, model.DemoReport(now), *snap.Report)
	assert.Equal(t, "p1", snap.ProductID)
}

// scoringBackendReport is what the scoring backend writes for a finished
// analysis: epoch-millisecond timestamp and a text seller rating.
const scoringBackendReport = `{"productId":"prod_7f3a","overallScore":81,` +
	`"reviewAnalysis":{"score":84,"sentiment":"Positive","authenticityRate":91,"summary":"Mostly genuine reviews"},` +
	`"imageVerification":{"score":88,"manipulationDetected":false,"confidence":95,"summary":"Images authentic","totalImages":12,"verifiedImages":12},` +
	`"sellerCredibility":{"score":78,"rating":"Good","historicalData":{"totalSales":1250,"positiveReviews":1100},"summary":"88% positive feedback"},` +
	`"productDetails":{"name":"Product","url":"https://www.amazon.com/dp/B0TEST","analyzedAt":1760000000000},` +
	`"reasons":["Strong review authenticity"]}`

func TestResolve_ScoringBackendReportThroughGateway(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/score/prod_7f3a", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(scoringBackendReport))
	}))
	defer backend.Close()
	gw := httptest.NewServer(gateway.New(backend.URL, config.GatewayConfig{}))
	defer gw.Close()

	client := satyanetra.NewClient(satyanetra.WithBaseURL(gw.URL), satyanetra.WithRetries(0))
	c := NewController(client, fastPoll)

	snap, err := c.Resolve(context.Background(), "prod_7f3a")
	require.NoError(t, err)
	assert.Equal(t, StateResolved, snap.State)
	assert.False(t, snap.Demo)
	require.NotNil(t, snap.Report)
	assert.Equal(t, 81, snap.Report.OverallScore)
	assert.Equal(t, model.Rating("Good"), snap.Report.SellerCredibility.Rating)
	assert.Equal(t, model.Timestamp("2025-10-09T08:53:20Z"), snap.Report.ProductDetails.AnalyzedAt)
}

func TestResolve_NoProductIDUsesDemo(t *testing.T) {
	api := &mockAPI{}
	c, _ := newTestController(api)

	snap, err := c.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StateResolved, snap.State)
	assert.True(t, snap.Demo)
	require.NotNil(t, snap.Report)
	assert.Equal(t, model.DemoProductID, snap.Report.ProductID)
	api.AssertNotCalled(t, "ProductScore", mock.Anything, mock.Anything)
}

func TestTrack_AbandonsOnFourthNotFound(t *testing.T) {
	api := &mockAPI{}
	api.On("JobStatus", mock.Anything, "j1").Return(nil, notFoundErr()).Times(4)
	c, rec := newTestController(api)

	snap, err := c.Track(context.Background(), "j1", "p1")
	require.Error(t, err)
	assert.True(t, satyanetra.IsKind(err, satyanetra.KindJobNotFound))
	assert.Equal(t, StateAbandoned, snap.State)
	assert.Equal(t, MsgJobNotFound, snap.Message)
	assert.Equal(t, RecoveryRestart, snap.Recovery)
	api.AssertNumberOfCalls(t, "JobStatus", 4)

	var retries []int
	for _, s := range rec.all() {
		if s.State == StatePolling && s.NotFoundRetries > 0 {
			retries = append(retries, s.NotFoundRetries)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, retries)
}

func TestTrack_UnsetNotFoundBudgetUsesDefault(t *testing.T) {
	api := &mockAPI{}
	api.On("JobStatus", mock.Anything, "j1").Return(nil, notFoundErr()).Times(3)
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusCompleted, Progress: 100}, nil).Once()
	c := NewController(api, config.PollConfig{InitialDelayMs: 1, IntervalMs: 1, GraceMs: 1})

	snap, err := c.Track(context.Background(), "j1", "p1")
	require.NoError(t, err)
	assert.Equal(t, StateResolved, snap.State)
	api.AssertNumberOfCalls(t, "JobStatus", 4)
}

func TestTrack_NotFoundCounterResetsOnSuccess(t *testing.T) {
	api := &mockAPI{}
	api.On("JobStatus", mock.Anything, "j1").Return(nil, notFoundErr()).Times(3)
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusProcessing, Progress: 10}, nil).Once()
	api.On("JobStatus", mock.Anything, "j1").Return(nil, notFoundErr()).Times(3)
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusCompleted, Progress: 100}, nil).Once()
	c, _ := newTestController(api)

	snap, err := c.Track(context.Background(), "j1", "p1")
	require.NoError(t, err)
	assert.Equal(t, StateResolved, snap.State)
	assert.Zero(t, snap.NotFoundRetries)
	api.AssertNumberOfCalls(t, "JobStatus", 8)
}

func TestTrack_OtherErrorFailsImmediately(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		recovery Recovery
	}{
		{
			name:     "network",
			err:      satyanetra.NewError(satyanetra.KindNetwork, "", satyanetra.MsgNetwork),
			recovery: RecoveryRetryConnection,
		},
		{
			name:     "backend error",
			err:      &satyanetra.Error{Kind: satyanetra.KindBackendMalformed, Status: 502, Code: satyanetra.CodeBackendError, Message: "error page"},
			recovery: RecoveryRestart,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			api.On("JobStatus", mock.Anything, "j1").Return(nil, tt.err).Once()
			c, _ := newTestController(api)

			snap, err := c.Track(context.Background(), "j1", "p1")
			require.Error(t, err)
			assert.Equal(t, StateFailed, snap.State)
			assert.Equal(t, satyanetra.UserMessage(tt.err), snap.Message)
			assert.Equal(t, tt.recovery, snap.Recovery)
			api.AssertNumberOfCalls(t, "JobStatus", 1)
		})
	}
}

func TestTrack_ProgressAndStatusNeverRegress(t *testing.T) {
	api := &mockAPI{}
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusProcessing, Progress: 60}, nil).Once()
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusPending, Progress: 30}, nil).Once()
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusProcessing, Progress: 150}, nil).Once()
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusCompleted, Progress: 100}, nil).Once()
	c, rec := newTestController(api)

	_, err := c.Track(context.Background(), "j1", "p1")
	require.NoError(t, err)

	prevProgress, prevRank := 0, 0
	for _, s := range rec.all() {
		assert.GreaterOrEqual(t, s.Progress, prevProgress)
		assert.LessOrEqual(t, s.Progress, 100)
		assert.GreaterOrEqual(t, s.Status.Rank(), prevRank)
		prevProgress, prevRank = s.Progress, s.Status.Rank()
	}
}

func TestTrack_CompletedJobIsIdempotent(t *testing.T) {
	api := &mockAPI{}
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusCompleted, Progress: 100, Logs: []string{"done"}}, nil)
	c, _ := newTestController(api)

	first, err := c.Track(context.Background(), "j1", "p1")
	require.NoError(t, err)
	second, err := c.Track(context.Background(), "j1", "p1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, StateResolved, second.State)
	assert.Equal(t, model.JobStatusCompleted, second.Status)
}

func TestTrack_CancelStopsPolling(t *testing.T) {
	api := &mockAPI{}
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusProcessing, Progress: 10}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var polls atomic.Int32
	c, _ := newTestController(api, WithObserver(func(s Snapshot) {
		if s.Status == model.JobStatusProcessing && polls.Add(1) == 3 {
			cancel()
		}
	}))

	snap, err := c.Track(ctx, "j1", "p1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatePolling, snap.State)

	calls := len(api.Calls)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, len(api.Calls), "no polls after Track returns")
}

func TestSnapshot_IsACopy(t *testing.T) {
	api := &mockAPI{}
	api.On("JobStatus", mock.Anything, "j1").
		Return(&model.Job{Status: model.JobStatusCompleted, Progress: 100, Logs: []string{"a", "b"}}, nil).Once()
	c, rec := newTestController(api)

	_, err := c.Track(context.Background(), "j1", "p1")
	require.NoError(t, err)

	for _, s := range rec.all() {
		if len(s.Logs) > 0 {
			s.Logs[0] = "mutated"
		}
	}
	assert.Equal(t, []string{"a", "b"}, c.Snapshot().Logs)
}

func TestSnapshot_Terminal(t *testing.T) {
	assert.False(t, Snapshot{State: StateIdle}.Terminal())
	assert.False(t, Snapshot{State: StatePolling}.Terminal())
	assert.True(t, Snapshot{State: StateResolved}.Terminal())
	assert.True(t, Snapshot{State: StateFailed}.Terminal())
	assert.True(t, Snapshot{State: StateAbandoned}.Terminal())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
