// Package analysis drives one analysis session: submit a product URL, follow
// the backend job until it settles, then load the trust-score report.
package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/satyanetra/satyanetra/internal/config"
	"github.com/satyanetra/satyanetra/internal/model"
	"github.com/satyanetra/satyanetra/pkg/satyanetra"
)

// State is a step of the session state machine.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateResolved   State = "resolved"
	StateFailed     State = "failed"
	StateAbandoned  State = "abandoned"
)

// Recovery is the next step offered to the user after a fatal condition.
type Recovery string

const (
	RecoveryNone            Recovery = ""
	RecoveryFixURL          Recovery = "fix_url"
	RecoveryRestart         Recovery = "restart_analysis"
	RecoveryRetryConnection Recovery = "retry_connection"
	RecoveryWaitRefresh     Recovery = "wait_and_refresh"
	RecoveryTryDemo         Recovery = "try_demo_mode"
)

// User-facing messages.
const (
	MsgMissingURL         = "Please enter a product URL"
	MsgInvalidURL         = "Please enter a valid URL (must start with http:// or https://)"
	MsgInvalidResponse    = "Invalid response from server"
	MsgMissingIdentifiers = "Missing job ID or product ID. Please start a new analysis."
	MsgJobNotFound        = "Job not found. The analysis may have expired or the job ID is invalid. Please start a new analysis."
	MsgAnalysisFailed     = "Analysis failed"
	MsgNotReady           = "Analysis not ready yet. Please wait a moment and refresh."
	MsgDemoFallback       = "Showing demo data."
)

// API is the subset of the transport client the controller needs.
type API interface {
	Ingest(ctx context.Context, req model.AnalysisRequest) (*model.IngestResponse, error)
	JobStatus(ctx context.Context, jobID string) (*model.Job, error)
	ProductScore(ctx context.Context, productID string) (*model.ScoreReport, error)
}

// Snapshot is an immutable view of the session handed to observers.
type Snapshot struct {
	State           State
	JobID           string
	ProductID       string
	Status          model.JobStatus
	Progress        int
	Logs            []string
	Message         string
	Kind            satyanetra.Kind
	NotFoundRetries int
	Report          *model.ScoreReport
	Demo            bool
	Recovery        Recovery
}

// Terminal reports whether the session has settled.
func (s Snapshot) Terminal() bool {
	switch s.State {
	case StateResolved, StateFailed, StateAbandoned:
		return true
	}
	return false
}

func (s Snapshot) clone() Snapshot {
	if s.Logs != nil {
		s.Logs = append([]string(nil), s.Logs...)
	}
	if s.Report != nil {
		r := *s.Report
		r.Reasons = append([]string(nil), s.Report.Reasons...)
		s.Report = &r
	}
	return s
}

// Observer receives every snapshot the controller publishes, in order.
type Observer func(Snapshot)

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers fn for state changes.
func WithObserver(fn Observer) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, fn)
	}
}

// WithClock overrides the time source used to stamp demo reports.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithPlatform sets the platform sent with each submission.
func WithPlatform(platform string) Option {
	return func(c *Controller) {
		c.platform = platform
	}
}

// Controller owns the state of one analysis session. Its methods are meant
// to be driven from a single goroutine; Snapshot may be read concurrently.
type Controller struct {
	api       API
	poll      config.PollConfig
	platform  string
	now       func() time.Time
	observers []Observer
	log       *zap.Logger

	mu   sync.Mutex
	snap Snapshot
}

// NewController creates a Controller in the Idle state.
func NewController(api API, poll config.PollConfig, opts ...Option) *Controller {
	c := &Controller{
		api:      api,
		poll:     poll,
		platform: model.DefaultPlatform,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "analysis")),
		snap:     Snapshot{State: StateIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.clone()
}

// update applies fn to the session state and publishes the result.
func (c *Controller) update(fn func(*Snapshot)) Snapshot {
	c.mu.Lock()
	fn(&c.snap)
	out := c.snap.clone()
	c.mu.Unlock()

	for _, obs := range c.observers {
		obs(out.clone())
	}
	return out
}

// Submit validates rawURL and starts a backend job. On success the session
// moves to Polling; on any failure it returns to Idle carrying the message.
func (c *Controller) Submit(ctx context.Context, rawURL string) (*model.IngestResponse, error) {
	if err := validate(rawURL); err != nil {
		c.fail(StateIdle, err, RecoveryFixURL)
		return nil, err
	}

	c.update(func(s *Snapshot) {
		*s = Snapshot{State: StateSubmitting}
	})

	resp, err := c.api.Ingest(ctx, model.NewAnalysisRequest(rawURL, c.platform))
	if err != nil {
		c.log.Warn("analysis: submit failed", zap.String("url", rawURL), zap.Error(err))
		c.fail(StateIdle, err, submitRecovery(err))
		return nil, eris.Wrap(err, "analysis: submit")
	}
	if resp == nil || resp.JobID == "" || resp.ProductID == "" {
		err := satyanetra.NewError(satyanetra.KindBackendMalformed, satyanetra.CodeInvalidResponse, MsgInvalidResponse)
		c.fail(StateIdle, err, RecoveryRestart)
		return nil, err
	}

	c.log.Info("analysis: job submitted",
		zap.String("job_id", resp.JobID),
		zap.String("product_id", resp.ProductID),
	)
	c.update(func(s *Snapshot) {
		*s = Snapshot{
			State:     StatePolling,
			JobID:     resp.JobID,
			ProductID: resp.ProductID,
			Status:    model.JobStatusPending,
		}
	})
	return resp, nil
}

// Track polls jobID until it completes, fails or is abandoned. A completed
// job leaves the session Resolved (report not yet loaded) after the grace
// delay. Cancelling ctx stops polling and leaves the state untouched.
func (c *Controller) Track(ctx context.Context, jobID, productID string) (Snapshot, error) {
	if jobID == "" || productID == "" {
		err := satyanetra.NewError(satyanetra.KindMissingIdentifiers, "", MsgMissingIdentifiers)
		return c.fail(StateFailed, err, RecoveryRestart), err
	}

	c.update(func(s *Snapshot) {
		if s.JobID != jobID {
			*s = Snapshot{Status: model.JobStatusPending}
		}
		s.State = StatePolling
		s.JobID = jobID
		s.ProductID = productID
		s.Message = ""
		s.Kind = ""
		s.Recovery = RecoveryNone
		s.NotFoundRetries = 0
	})

	var (
		notFound int
		final    *model.Job
		abandon  error
	)
	task := NewPollTask(c.poll.InitialDelay(), c.poll.Interval(), func(ctx context.Context) (bool, error) {
		job, err := c.api.JobStatus(ctx, jobID)
		if err != nil {
			if !satyanetra.IsKind(err, satyanetra.KindJobNotFound) {
				return true, err
			}
			notFound++
			if notFound > c.poll.MaxNotFound() {
				abandon = err
				return true, nil
			}
			c.log.Info("analysis: job not found, retrying",
				zap.String("job_id", jobID),
				zap.Int("attempt", notFound),
			)
			n := notFound
			c.update(func(s *Snapshot) {
				s.NotFoundRetries = n
				s.Kind = satyanetra.KindJobNotFound
				s.Message = fmt.Sprintf("Job not found, retrying... (%d/%d)", n, c.poll.MaxNotFound())
			})
			return false, nil
		}

		notFound = 0
		snap := c.update(func(s *Snapshot) { apply(s, job) })
		if snap.Status.Terminal() {
			final = &model.Job{JobID: jobID, Status: snap.Status, Error: job.Error}
			return true, nil
		}
		return false, nil
	})
	task.Start(ctx)
	defer task.Stop()
	<-task.Done()

	if err := ctx.Err(); err != nil {
		return c.Snapshot(), eris.Wrap(err, "analysis: tracking cancelled")
	}

	switch err := task.Err(); {
	case abandon != nil:
		c.log.Warn("analysis: job abandoned", zap.String("job_id", jobID), zap.Int("not_found", notFound))
		snap := c.update(func(s *Snapshot) {
			s.State = StateAbandoned
			s.NotFoundRetries = c.poll.MaxNotFound()
			s.Kind = satyanetra.KindJobNotFound
			s.Message = MsgJobNotFound
			s.Recovery = RecoveryRestart
		})
		return snap, abandon
	case err != nil:
		c.log.Error("analysis: polling failed", zap.String("job_id", jobID), zap.Error(err))
		return c.fail(StateFailed, err, pollRecovery(err)), eris.Wrap(err, "analysis: poll status")
	case final != nil && final.Status == model.JobStatusFailed:
		msg := final.Error
		if msg == "" {
			msg = MsgAnalysisFailed
		}
		failed := eris.New(msg)
		snap := c.update(func(s *Snapshot) {
			s.State = StateFailed
			s.Message = msg
			s.Kind = ""
			s.Recovery = RecoveryRestart
		})
		return snap, failed
	}

	c.update(func(s *Snapshot) {
		s.Progress = 100
		s.Message = ""
		s.Kind = ""
		s.NotFoundRetries = 0
	})
	if err := sleep(ctx, c.poll.Grace()); err != nil {
		return c.Snapshot(), eris.Wrap(err, "analysis: tracking cancelled")
	}
	return c.update(func(s *Snapshot) { s.State = StateResolved }), nil
}

// Resolve loads the report for productID. An empty id or a failed fetch
// degrades to the demo report, except a not-ready conflict which asks the
// user to refresh instead.
func (c *Controller) Resolve(ctx context.Context, productID string) (Snapshot, error) {
	if productID == "" {
		return c.showDemo(""), nil
	}

	report, err := c.api.ProductScore(ctx, productID)
	switch {
	case satyanetra.IsKind(err, satyanetra.KindConflict):
		c.log.Info("analysis: report not ready", zap.String("product_id", productID))
		snap := c.update(func(s *Snapshot) {
			s.State = StateResolved
			s.ProductID = productID
			s.Report = nil
			s.Demo = false
			s.Kind = satyanetra.KindConflict
			s.Message = MsgNotReady
			s.Recovery = RecoveryWaitRefresh
		})
		return snap, err
	case err != nil:
		c.log.Warn("analysis: report fetch failed, using demo data",
			zap.String("product_id", productID),
			zap.Error(err),
		)
		return c.showDemo(productID), nil
	}

	return c.update(func(s *Snapshot) {
		s.State = StateResolved
		s.ProductID = productID
		s.Report = report
		s.Demo = false
		s.Kind = ""
		s.Message = ""
		s.Recovery = RecoveryNone
	}), nil
}

// Run performs the whole submit, track, resolve pipeline for rawURL.
func (c *Controller) Run(ctx context.Context, rawURL string) (Snapshot, error) {
	resp, err := c.Submit(ctx, rawURL)
	if err != nil {
		return c.Snapshot(), err
	}
	if snap, err := c.Track(ctx, resp.JobID, resp.ProductID); err != nil {
		return snap, err
	}
	return c.Resolve(ctx, resp.ProductID)
}

func (c *Controller) showDemo(productID string) Snapshot {
	report := model.DemoReport(c.now())
	return c.update(func(s *Snapshot) {
		s.State = StateResolved
		if productID != "" {
			s.ProductID = productID
		}
		s.Report = &report
		s.Demo = true
		s.Kind = ""
		s.Message = MsgDemoFallback
		s.Recovery = RecoveryNone
	})
}

func (c *Controller) fail(state State, err error, recovery Recovery) Snapshot {
	return c.update(func(s *Snapshot) {
		if state == StateIdle {
			*s = Snapshot{}
		}
		s.State = state
		s.Kind = satyanetra.KindOf(err)
		s.Message = satyanetra.UserMessage(err)
		s.Recovery = recovery
	})
}

// apply merges a status poll into s. Progress never moves backwards and a
// status that ranks below the current one is ignored.
func apply(s *Snapshot, job *model.Job) {
	if job.Status != "" && job.Status.Rank() >= s.Status.Rank() {
		if !s.Status.Terminal() {
			s.Status = job.Status
		}
	}
	progress := min(max(job.Progress, 0), 100)
	if progress > s.Progress {
		s.Progress = progress
	}
	if job.Logs != nil {
		s.Logs = append([]string(nil), job.Logs...)
	}
	s.NotFoundRetries = 0
	s.Kind = ""
	s.Message = ""
}

func validate(rawURL string) error {
	switch {
	case rawURL == "":
		return satyanetra.NewError(satyanetra.KindValidation, satyanetra.CodeMissingURL, MsgMissingURL)
	case !model.ValidateURL(rawURL):
		return satyanetra.NewError(satyanetra.KindValidation, satyanetra.CodeInvalidURL, MsgInvalidURL)
	}
	return nil
}

func submitRecovery(err error) Recovery {
	switch satyanetra.KindOf(err) {
	case satyanetra.KindNetwork, satyanetra.KindTimeout, satyanetra.KindBackendMalformed:
		return RecoveryTryDemo
	case satyanetra.KindValidation:
		return RecoveryFixURL
	case satyanetra.KindRateLimited:
		return RecoveryWaitRefresh
	}
	return RecoveryRestart
}

func pollRecovery(err error) Recovery {
	switch satyanetra.KindOf(err) {
	case satyanetra.KindNetwork, satyanetra.KindTimeout:
		return RecoveryRetryConnection
	}
	return RecoveryRestart
}
