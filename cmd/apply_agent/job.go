package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/apply-agent/internal/answer"
	"github.com/jonathan/apply-agent/internal/config"
	"github.com/jonathan/apply-agent/internal/db"
	"github.com/jonathan/apply-agent/internal/diagnostics"
	"github.com/jonathan/apply-agent/internal/flow"
	"github.com/jonathan/apply-agent/internal/llm"
	"github.com/jonathan/apply-agent/internal/locator"
	"github.com/jonathan/apply-agent/internal/notify"
	"github.com/jonathan/apply-agent/internal/observability"
	"github.com/jonathan/apply-agent/internal/sitehints"
	"github.com/jonathan/apply-agent/internal/types"
)

// applyJob is one automated pass over the candidate list. The run and schedule
// commands share it.
type applyJob struct {
	cfg      *config.Config
	log      *zap.Logger
	out      io.Writer
	only     string
	noFilter bool
	// connect overrides the browser attach step.
	connect flow.ConnectFunc
}

// closers releases resources in reverse order of acquisition.
type closers []func()

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// runner assembles the ledger, hints, answer drafting, notifications and run history
// for one run. The returned closers must be called once the run is over.
func (j *applyJob) runner(ctx context.Context) (*flow.Runner, closers, error) {
	cfg := j.cfg
	var cleanup closers

	list, err := types.LoadList(cfg.ListFile)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range list.Skipped {
		j.log.Debug("skipped list line", zap.Int("line", s.Line), zap.String("reason", s.Reason))
	}

	profile, err := types.LoadProfile(cfg.Profile)
	if err != nil {
		return nil, nil, err
	}

	hints := sitehints.Default()
	if cfg.SiteHints != "" {
		if hints, err = sitehints.Load(cfg.SiteHints); err != nil {
			return nil, nil, err
		}
	}

	l, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup = append(cleanup, func() { _ = l.Close() })

	id := uuid.New()
	progress := observability.NewPrinter(j.out).Progress()

	var runs flow.RunRecorder
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			j.log.Warn("run history disabled", zap.Error(err))
		} else if err := database.EnsureSchema(ctx); err != nil {
			j.log.Warn("run history disabled", zap.Error(err))
			database.Close()
		} else {
			runs = database
			cleanup = append(cleanup, database.Close)
		}
	}

	if cfg.NATSURL != "" {
		n, err := notify.Connect(cfg.NATSURL, cfg.NATSSubject, j.log)
		if err != nil {
			j.log.Warn("notifications disabled", zap.Error(err))
		} else {
			progress = n.Hook(progress)
			cleanup = append(cleanup, n.Close)
		}
	}

	drafter, closeDrafter := j.drafter(ctx)
	if closeDrafter != nil {
		cleanup = append(cleanup, closeDrafter)
	}

	var filter func(types.Candidate) bool
	if !j.noFilter {
		keywords := types.KeywordSet(profile)
		filter = func(c types.Candidate) bool {
			return types.IsRelevant(c, keywords)
		}
	}

	connect := j.connect
	if connect == nil {
		connect = connectBrowser(cfg, j.log)
	}

	r := flow.NewRunner(l, connect, flow.RunOptions{
		RunID:        id,
		Candidates:   list.Candidates,
		MaxPerRun:    cfg.MaxPerRun,
		Only:         j.only,
		Filter:       filter,
		Pacing:       cfg.Pacing.Std(),
		PacingJitter: cfg.PacingJitter.Std(),
		Controller: flow.Options{
			Hints:                hints,
			Sink:                 diagnostics.New(cfg.DiagnosticsDir, j.log).WithRunID(id.String()),
			Drafter:              drafter,
			Profile:              profile,
			Credentials:          config.Credentials(),
			Timeouts:             cfg.FlowTimeouts(flow.DefaultTimeouts()),
			Locator:              cfg.LocatorOptions(locator.DefaultOptions()),
			AutoSubmit:           cfg.AutoSubmit,
			AdvanceAfterAutofill: cfg.AdvanceAfterAutofill,
		},
		Runs:       runs,
		OnProgress: progress,
	}, j.log)
	return r, cleanup, nil
}

// drafter returns the answer drafter, with LLM polish when a provider key is available.
func (j *applyJob) drafter(ctx context.Context) (*answer.Drafter, func()) {
	d := answer.NewDrafter(j.log)
	if j.cfg.LLMProvider == "none" {
		return d, nil
	}
	llmCfg, err := llm.ConfigFor(j.cfg.LLMProvider)
	if err != nil {
		j.log.Warn("answer polish disabled", zap.Error(err))
		return d, nil
	}
	llmCfg.BaseURL = j.cfg.LLMBaseURL
	key := llmCfg.APIKey()
	if key == "" {
		j.log.Info("answer polish disabled", zap.String("missing", llmCfg.APIKeyEnv()))
		return d, nil
	}
	client, err := llm.NewClient(ctx, llmCfg, key)
	if err != nil {
		j.log.Warn("answer polish disabled", zap.Error(err))
		return d, nil
	}
	return d.WithLLM(client, llmCfg.Provider), func() { _ = client.Close() }
}

// run performs one pass and returns its summary.
func (j *applyJob) run(ctx context.Context) (*flow.Summary, error) {
	r, cleanup, err := j.runner(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup.close()

	sum, err := r.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("run failed: %w", err)
	}
	return sum, nil
}

// preview prints the candidates a run would attempt without touching the browser.
func (j *applyJob) preview(ctx context.Context) error {
	r, cleanup, err := j.runner(ctx)
	if err != nil {
		return err
	}
	defer cleanup.close()

	observability.NewPrinter(j.out).PrintCandidates(r.Eligible())
	return nil
}
