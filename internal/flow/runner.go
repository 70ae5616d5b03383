package flow

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/apply-agent/internal/browser"
	"github.com/jonathan/apply-agent/internal/ledger"
	"github.com/jonathan/apply-agent/internal/types"
)

// DefaultMaxPerRun caps how many candidates one run attempts.
const DefaultMaxPerRun = 10

// ProgressEvent represents a progress update during a run.
type ProgressEvent struct {
	Step     string        `json:"step"`
	Category string        `json:"category"`
	Message  string        `json:"message"`
	RunID    string        `json:"run_id,omitempty"`
	URL      string        `json:"url,omitempty"`
	Status   ledger.Status `json:"status,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Index    int           `json:"index,omitempty"`
	Total    int           `json:"total,omitempty"`
	Content  any           `json:"content,omitempty"`
}

// ProgressCallback is called when run progress occurs.
type ProgressCallback func(event ProgressEvent)

// RunRecorder stores run bookkeeping, such as the Postgres runs table.
type RunRecorder interface {
	CreateRun(ctx context.Context, id uuid.UUID) error
	CompleteRun(ctx context.Context, id uuid.UUID, status string, processed int) error
}

// ConnectFunc attaches to the browser. Its failure ends the run.
type ConnectFunc func(ctx context.Context) (Browser, error)

// RunOptions holds configuration for one run.
type RunOptions struct {
	// RunID identifies the run in events and run records; a zero ID gets a fresh one.
	RunID      uuid.UUID
	Candidates []types.Candidate
	MaxPerRun  int
	// Only restricts the run to a single URL.
	Only string
	// Filter drops candidates before the ledger check, e.g. by relevance.
	Filter       func(types.Candidate) bool
	Pacing       time.Duration
	PacingJitter time.Duration
	Controller   Options
	Runs         RunRecorder
	OnProgress   ProgressCallback
}

// Result is the recorded outcome of one candidate.
type Result struct {
	URL      string        `json:"url"`
	Status   ledger.Status `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Summary describes a finished run.
type Summary struct {
	RunID      uuid.UUID             `json:"run_id"`
	Listed     int                   `json:"listed"`
	Eligible   int                   `json:"eligible"`
	Processed  int                   `json:"processed"`
	Counts     map[ledger.Status]int `json:"counts"`
	Results    []Result              `json:"results"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Runner processes a candidate list against the ledger, one candidate at a time.
type Runner struct {
	ledger  *ledger.Ledger
	connect ConnectFunc
	opts    RunOptions
	log     *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func(max time.Duration) time.Duration
}

// NewRunner creates a runner.
func NewRunner(l *ledger.Ledger, connect ConnectFunc, opts RunOptions, log *zap.Logger) *Runner {
	if opts.MaxPerRun <= 0 {
		opts.MaxPerRun = DefaultMaxPerRun
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		ledger:  l,
		connect: connect,
		opts:    opts,
		log:     log.Named("runner"),
		sleep:   sleep,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

func (r *Runner) emit(ev ProgressEvent) {
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(ev)
	}
}

// Eligible returns the candidates a run would attempt: not in the ledger, not repeated,
// accepted by the filter and capped at MaxPerRun.
func (r *Runner) Eligible() []types.Candidate {
	seen := map[string]bool{}
	var out []types.Candidate
	for _, c := range r.opts.Candidates {
		key := strings.TrimSpace(c.URL)
		if r.opts.Only != "" && key != strings.TrimSpace(r.opts.Only) {
			continue
		}
		if seen[key] || r.ledger.Has(key) {
			continue
		}
		if r.opts.Only == "" && r.opts.Filter != nil && !r.opts.Filter(c) {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) >= r.opts.MaxPerRun {
			break
		}
	}
	return out
}

// Run loads the ledger, connects to the browser and processes every eligible candidate.
// Only a failure to load the ledger or to attach to the browser is returned as an error;
// per-candidate failures are recorded as error entries.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	id := r.opts.RunID
	if id == uuid.Nil {
		id = uuid.New()
	}
	sum := &Summary{RunID: id, Listed: len(r.opts.Candidates), Counts: map[ledger.Status]int{}, StartedAt: time.Now()}
	runID := sum.RunID.String()

	if _, err := r.ledger.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	candidates := r.Eligible()
	sum.Eligible = len(candidates)
	r.emit(ProgressEvent{Step: "run_started", Category: "run", RunID: runID, Total: len(candidates),
		Message: fmt.Sprintf("%d listed, %d eligible", sum.Listed, sum.Eligible)})
	if len(candidates) == 0 {
		r.log.Info("no new candidates")
		sum.FinishedAt = time.Now()
		return sum, nil
	}

	b, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	if r.opts.Runs != nil {
		if err := r.opts.Runs.CreateRun(ctx, sum.RunID); err != nil {
			r.log.Warn("failed to record run", zap.Error(err))
		}
	}

	ctrl := NewController(b, r.opts.Controller, r.log)
	runStatus := "completed"
	for i, cand := range candidates {
		if ctx.Err() != nil {
			runStatus = "interrupted"
			break
		}
		r.emit(ProgressEvent{Step: "candidate_started", Category: "candidate", RunID: runID, URL: cand.URL, Index: i + 1, Total: len(candidates),
			Message: "opening " + cand.URL})

		res := r.processOne(ctx, b, ctrl, cand)
		sum.Results = append(sum.Results, res)
		sum.Counts[res.Status]++
		sum.Processed++

		r.emit(ProgressEvent{Step: "candidate_finished", Category: "candidate", RunID: runID, URL: cand.URL, Index: i + 1, Total: len(candidates),
			Status: res.Status, Detail: res.Detail, Message: string(res.Status)})

		if i < len(candidates)-1 {
			if err := r.sleep(ctx, r.opts.Pacing+r.jitter(r.opts.PacingJitter)); err != nil {
				runStatus = "interrupted"
				break
			}
		}
	}

	sum.FinishedAt = time.Now()
	if r.opts.Runs != nil {
		if err := r.opts.Runs.CompleteRun(context.WithoutCancel(ctx), sum.RunID, runStatus, sum.Processed); err != nil {
			r.log.Warn("failed to complete run record", zap.Error(err))
		}
	}
	r.emit(ProgressEvent{Step: "run_completed", Category: "run", RunID: runID, Total: sum.Processed, Content: sum.Counts,
		Message: fmt.Sprintf("processed %d", sum.Processed)})
	return sum, nil
}

// processOne drives one candidate and writes its single ledger entry.
func (r *Runner) processOne(ctx context.Context, b Browser, ctrl *Controller, cand types.Candidate) Result {
	start := time.Now()
	log := r.log.With(zap.String("url", cand.URL))

	status, detail := r.attempt(ctx, b, ctrl, cand, log)

	// The entry is written even when the run is being cancelled.
	if _, err := r.ledger.Set(context.WithoutCancel(ctx), cand.URL, status, detail); err != nil {
		log.Error("failed to write ledger entry", zap.String("status", string(status)), zap.Error(err))
	}
	return Result{URL: cand.URL, Status: status, Detail: detail, Duration: time.Since(start)}
}

func (r *Runner) attempt(ctx context.Context, b Browser, ctrl *Controller, cand types.Candidate, log *zap.Logger) (status ledger.Status, detail string) {
	var tabs []Tab
	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while processing candidate", zap.Any("panic", p))
			status, detail = ledger.StatusError, fmt.Sprintf("panic: %v", p)
			closeAll(tabs)
		}
	}()

	out, err := r.once(ctx, b, ctrl, cand, &tabs)
	if err != nil && ctx.Err() == nil && (browser.IsConnectionLost(err) || !b.Alive(ctx)) {
		log.Warn("browser connection lost, reconnecting", zap.Error(err))
		r.emit(ProgressEvent{Step: "reconnect", Category: "browser", URL: cand.URL, Message: err.Error()})
		closeAll(tabs)
		tabs = nil
		if rerr := b.Reconnect(ctx); rerr != nil {
			err = fmt.Errorf("%w; reconnect failed: %v", err, rerr)
		} else {
			out, err = r.once(ctx, b, ctrl, cand, &tabs)
		}
	}

	if err != nil {
		log.Error("candidate failed", zap.Error(err))
		closeAll(tabs)
		return ledger.StatusError, err.Error()
	}
	if out.LeaveOpen {
		for _, t := range tabs {
			t.Release()
		}
		log.Info("tab left open", zap.String("status", string(out.Status)))
	} else {
		closeAll(tabs)
	}
	return out.Status, out.Detail
}

func (r *Runner) once(ctx context.Context, b Browser, ctrl *Controller, cand types.Candidate, tabs *[]Tab) (Outcome, error) {
	tab, err := b.NewTab(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to open tab: %w", err)
	}
	*tabs = append(*tabs, tab)
	out, err := ctrl.Process(ctx, tab, cand)
	for _, t := range out.Tabs {
		if t != tab {
			*tabs = append(*tabs, t)
		}
	}
	return out, err
}

func closeAll(tabs []Tab) {
	for _, t := range tabs {
		_ = t.Close()
	}
}
