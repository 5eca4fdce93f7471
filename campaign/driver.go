package campaign

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sdcampaign/imagegen/sd"
	"sdcampaign/logging"
)

// Driver defaults.
const (
	DefaultMaxConsecutiveFailures = 3
	DefaultRequestInterval        = 200 * time.Millisecond
)

// SpecResolver turns a category name into its spec.
type SpecResolver interface {
	Resolve(name string) CategorySpec
}

// RequestExecutor runs one request with its retry policy.
type RequestExecutor interface {
	Execute(ctx context.Context, req sd.GenerationRequest) GenerationResult
}

// ImageRecord describes one written image for a Recorder.
type ImageRecord struct {
	RunID      string
	Category   string
	Path       string
	Index      int
	Prompt     string
	Seed       int64
	Attempts   int
	Downgraded bool
	CreatedAt  time.Time
}

// Recorder persists campaign history. Errors are logged by the driver and
// never change the outcome of a run.
type Recorder interface {
	StartRun(ctx context.Context, runID string, categories []string, startedAt time.Time) error
	RecordImage(ctx context.Context, image ImageRecord) error
	RecordCategory(ctx context.Context, runID string, progress CategoryProgress) error
	FinishRun(ctx context.Context, progress CampaignProgress) error
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	// MaxConsecutiveFailures abandons a category after this many failed
	// requests in a row. Default: DefaultMaxConsecutiveFailures.
	MaxConsecutiveFailures int

	// PromptRetries is the no-repeat draw budget. Default: DefaultPromptRetries.
	PromptRetries int

	// RequestInterval is the minimum spacing between requests. Zero disables pacing.
	RequestInterval time.Duration

	// RandomSeed seeds prompt and seed draws. Zero uses a random seed.
	RandomSeed uint64
}

// Driver runs categories one after another, one request at a time.
type Driver struct {
	resolver SpecResolver
	executor RequestExecutor
	cfg      DriverConfig
	logger   *logging.Logger
	recorder Recorder

	limiter *rate.Limiter
	rng     *rand.Rand
	seeds   *SeedStrategy
	now     func() time.Time
}

// NewDriver creates a Driver.
func NewDriver(resolver SpecResolver, executor RequestExecutor, cfg DriverConfig, logger *logging.Logger) *Driver {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if cfg.PromptRetries <= 0 {
		cfg.PromptRetries = DefaultPromptRetries
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	seed1, seed2 := cfg.RandomSeed, cfg.RandomSeed^0x9e3779b97f4a7c15
	if cfg.RandomSeed == 0 {
		seed1, seed2 = rand.Uint64(), rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed1, seed2))

	return &Driver{
		resolver: resolver,
		executor: executor,
		cfg:      cfg,
		logger:   logger.Named("campaign"),
		limiter:  rate.NewLimiter(limit, 1),
		rng:      rng,
		seeds:    NewSeedStrategy(rng),
		now:      time.Now,
	}
}

// SetRecorder attaches a history recorder. Nil detaches it.
func (d *Driver) SetRecorder(r Recorder) {
	d.recorder = r
}

// Run processes names in order and returns the campaign progress. Every
// category is attempted unless ctx is canceled; categories not reached stay
// PENDING and the progress is marked Interrupted.
func (d *Driver) Run(ctx context.Context, names []string) CampaignProgress {
	progress := CampaignProgress{
		RunID:      uuid.NewString(),
		Categories: make([]CategoryProgress, len(names)),
		StartedAt:  d.now(),
	}
	for i, name := range names {
		progress.Categories[i] = CategoryProgress{Name: name, State: StatePending}
	}

	log := d.logger.With(logging.RunFields(progress.RunID, len(names))...)
	log.Info("campaign started", zap.Strings("names", names))
	d.record(ctx, log, progress.RunID, "start run", func(rctx context.Context) error {
		return d.recorder.StartRun(rctx, progress.RunID, names, progress.StartedAt)
	})

	for i, name := range names {
		if ctx.Err() != nil {
			break
		}
		progress.Categories[i] = d.runCategory(ctx, progress.RunID, name)
	}

	progress.FinishedAt = d.now()
	progress.Interrupted = ctx.Err() != nil
	d.record(ctx, log, progress.RunID, "finish run", func(rctx context.Context) error {
		return d.recorder.FinishRun(rctx, progress)
	})

	log.Info("campaign finished", zap.Object("campaign", progress))
	return progress
}

// RunCategory runs a single category outside of a campaign.
func (d *Driver) RunCategory(ctx context.Context, name string) CategoryProgress {
	return d.runCategory(ctx, "", name)
}

func (d *Driver) runCategory(ctx context.Context, runID, name string) CategoryProgress {
	spec := d.resolver.Resolve(name)
	p := CategoryProgress{
		Name:      name,
		Target:    spec.ImagesCount,
		State:     StateRunning,
		OutputDir: spec.OutputDir,
		StartedAt: d.now(),
	}
	log := d.logger.With(logging.CategoryFields(name, spec.ImagesCount)...)
	if runID != "" {
		log = log.With(zap.String("run_id", runID))
	}

	if p.Target == 0 {
		p.Skipped = true
		p.State = StateCompleted
		log.Info("category skipped, images_count is 0")
		return d.finishCategory(ctx, log, runID, p)
	}

	log.Info("category started",
		zap.String("output_dir", spec.OutputDir),
		zap.String("seed_mode", string(spec.SeedMode)),
		zap.Bool("adetailer", spec.ADetailer != nil))

	prompts := NewPromptSynthesizer(spec, d.cfg.PromptRetries, d.rng)
	writer := NewOutputWriter(spec.OutputDir, d.logger)
	consecutive := 0

	for p.Generated < p.Target {
		if err := d.limiter.Wait(ctx); err != nil {
			d.abandon(log, &p, ReasonInterrupted)
			break
		}

		index := p.Generated + 1
		prompt := prompts.Next()
		seed := d.seeds.Seed(spec, index)
		result := d.executor.Execute(ctx, spec.Request.WithPrompt(prompt).WithSeed(seed))

		p.Requests++
		p.Attempts += result.Attempts
		if result.Downgraded {
			p.Downgrades++
		}

		if result.Failure == FailureCanceled {
			d.abandon(log, &p, ReasonInterrupted)
			break
		}

		written := 0
		if result.OK() {
			report := writer.Write(result.Images, p.Target-p.Generated)
			written = len(report.Written)
			p.WriteFailures += report.Failed
			for _, path := range report.Written {
				p.Generated++
				d.record(ctx, log, runID, "record image", func(rctx context.Context) error {
					return d.recorder.RecordImage(rctx, ImageRecord{
						RunID:      runID,
						Category:   name,
						Path:       path,
						Index:      p.Generated,
						Prompt:     prompt,
						Seed:       seed,
						Attempts:   result.Attempts,
						Downgraded: result.Downgraded,
						CreatedAt:  d.now(),
					})
				})
			}
		} else {
			p.Failures++
		}

		if written > 0 {
			consecutive = 0
			log.Info("image saved",
				zap.Int("generated", p.Generated),
				zap.Int("attempts", result.Attempts),
				zap.Int64("seed", seed))
			continue
		}

		consecutive++
		log.Warn("request produced no image",
			append(logging.RequestFields(index, result.Attempts, seed),
				zap.Int("consecutive_failures", consecutive),
				zap.Error(result.Err))...)
		if consecutive >= d.cfg.MaxConsecutiveFailures {
			d.abandon(log, &p, ReasonFailureLimit)
			break
		}
	}

	if p.State == StateRunning {
		p.State = StateCompleted
	}
	if prompts.Repeats() > 0 {
		log.Debug("prompt pool exhausted, repeats accepted", zap.Int("repeats", prompts.Repeats()))
	}
	log.Info(fmt.Sprintf("done %s: %d/%d", name, p.Generated, p.Target))
	return d.finishCategory(ctx, log, runID, p)
}

func (d *Driver) abandon(log *logging.Logger, p *CategoryProgress, reason string) {
	p.State = StateAbandoned
	p.AbandonReason = reason
	log.Warn("category abandoned",
		zap.String("reason", reason),
		zap.Int("generated", p.Generated),
		zap.Int("target", p.Target))
}

func (d *Driver) finishCategory(ctx context.Context, log *logging.Logger, runID string, p CategoryProgress) CategoryProgress {
	p.FinishedAt = d.now()
	log.Debug("category finished", zap.Object("progress", p))
	d.record(ctx, log, runID, "record category", func(rctx context.Context) error {
		return d.recorder.RecordCategory(rctx, runID, p)
	})
	return p
}

// record calls fn when a recorder is attached and the category belongs to a
// run. History is written even while the campaign context is being canceled.
func (d *Driver) record(ctx context.Context, log *logging.Logger, runID, op string, fn func(context.Context) error) {
	if d.recorder == nil || runID == "" {
		return
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		log.Warn("history write failed", zap.String("op", op), zap.Error(err))
	}
}
