package batch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/warpdl/netshift/pkg/logger"
	"github.com/warpdl/netshift/pkg/netlink"
	"github.com/warpdl/netshift/pkg/pool"
	"github.com/warpdl/netshift/pkg/probe"
	"github.com/warpdl/netshift/pkg/transfer"
	"github.com/warpdl/netshift/pkg/transport"
)

// Mode selects whether the batch may migrate off the primary link.
type Mode string

const (
	// WifiOnly uses the default link for every transfer; the detector
	// still runs but its verdicts never drive a migration.
	WifiOnly Mode = "wifi-only"
	// AutoSwitch enables the staged migration protocol.
	AutoSwitch Mode = "auto-switch"
)

// Compile-time pool triple defaults.
const (
	DefConcBefore = 3
	DefConcWeak   = 2
	DefConcAfter  = 8

	defPromptsLeft      = 1
	defDrainPoll        = 100 * time.Millisecond
	defLinkPollInterval = 1 * time.Second
	defLinkPollTimeout  = 120 * time.Second
	defProbeEveryN      = 10
	defBoostDurationMs  = 15000
	defConfBoostGate    = 0.5
)

// Orchestrator is the BatchOrchestrator (C5). It composes one
// netlink.Detector, one pool.Pool and one probe.Probe per batch and
// drives a transfer.Transfer call per URL.
type Orchestrator struct {
	Transport    transport.Transport
	LinkProvider transport.LinkProvider
	Fs           afero.Fs
	Logger       logger.Logger

	// QuietConsole suppresses the stderr mirror of the per-run log file.
	// The run.log file under DownloadDir/.netshift/<runID>/ is always
	// written regardless of this flag.
	QuietConsole bool

	// DownloadDir is where per-URL destination files, the probe scratch
	// file and the per-run log file under ".netshift/<runID>/" are
	// written. Defaults to "." when empty.
	DownloadDir string

	Classifier    Classifier
	DetectorCfg   netlink.Config
	Retry         transfer.RetryConfig
	Checksum      transfer.ExpectedChecksum // zero value disables verification
	ConcBefore    int
	ConcWeak      int
	ConcAfter     int
	ProbeEveryN   int
	DrainPoll     time.Duration
	LinkPoll      time.Duration
	LinkPollCap   time.Duration
	BoostDuration time.Duration

	// now is overridable in tests so migration polling doesn't depend on
	// the wall clock's pace; production callers leave it nil (time.Now).
	now func() time.Time
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

func (o *Orchestrator) withDefaults() {
	if o.Classifier == nil {
		o.Classifier = DefaultClassifier
	}
	if o.ConcBefore <= 0 {
		o.ConcBefore = DefConcBefore
	}
	if o.ConcWeak <= 0 {
		o.ConcWeak = DefConcWeak
	}
	if o.ConcAfter <= 0 {
		o.ConcAfter = DefConcAfter
	}
	if o.ProbeEveryN <= 0 {
		o.ProbeEveryN = defProbeEveryN
	}
	if o.DrainPoll <= 0 {
		o.DrainPoll = defDrainPoll
	}
	if o.LinkPoll <= 0 {
		o.LinkPoll = defLinkPollInterval
	}
	if o.LinkPollCap <= 0 {
		o.LinkPollCap = defLinkPollTimeout
	}
	if o.BoostDuration <= 0 {
		o.BoostDuration = defBoostDurationMs * time.Millisecond
	}
	if o.DownloadDir == "" {
		o.DownloadDir = "."
	}
	if o.Retry == (transfer.RetryConfig{}) {
		o.Retry = transfer.DefaultRetryConfig()
	}
	if o.Fs == nil {
		o.Fs = afero.NewMemMapFs()
	}
	var zero netlink.Config
	if o.DetectorCfg == zero {
		o.DetectorCfg = netlink.DefaultConfig()
	}
}

// Run executes one batch: it builds count URLs under baseURL, enqueues
// them into a PriorityPool, routes ResumableTransfer outcomes into the
// WeakLinkDetector, and — in AutoSwitch mode — drives the migration
// protocol the first time the detector returns a weak verdict. Per-URL
// failures never abort the batch; only configuration errors do.
func (o *Orchestrator) Run(ctx context.Context, baseURL string, count int, mode Mode) (Result, error) {
	if err := validate(o, baseURL, count, mode); err != nil {
		return Result{}, err
	}
	o.withDefaults()

	baseURL = trimTrailingSlash(baseURL)
	runID := uuid.NewString()
	lg := o.runLogger(runID)
	defer lg.Close()

	wallStart := o.clock()

	detector := netlink.New(o.DetectorCfg)
	p := pool.New(ctx, o.ConcBefore)
	scratch := path.Join(o.DownloadDir, ".netshift", runID, "probe.scratch")
	lp := probe.New(o.Fs, o.Transport, o.ProbeEveryN, scratch)

	m := &migration{promptsLeft: defPromptsLeft}

	perFile := make([]PerFile, count)
	var totalBytes int64

	lg.Info("batch %s starting: %d urls under %s mode=%s", runID, count, baseURL, mode)

	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		i := i
		url := fmt.Sprintf("%s/img_%03d.jpg", baseURL, i+1)
		done := make(chan struct{})

		p.Push(func(taskCtx context.Context) {
			defer close(done)
			o.runURL(taskCtx, i, url, mode, p, detector, lp, m, &perFile[i], &totalBytes, lg)
		}, o.Classifier(url, i))

		eg.Go(func() error {
			select {
			case <-done:
				return nil
			case <-egCtx.Done():
				return egCtx.Err()
			}
		})
	}

	egErr := eg.Wait()
	p.Idle()
	if egErr != nil {
		lg.Warning("batch %s context ended early: %v", runID, egErr)
	}

	wallTime := o.clock().Sub(wallStart).Seconds()
	pausedMs := m.pausedMs.Load()
	totalTime := wallTime - float64(pausedMs)/1000
	if totalTime < 0 {
		totalTime = 0
	}

	res := Result{
		TS:              wallStart.UnixMilli(),
		BaseURL:         baseURL,
		Count:           count,
		Mode:            string(mode),
		WallTime:        wallTime,
		PausedMs:        pausedMs,
		TotalTime:       totalTime,
		TotalBytes:      atomic.LoadInt64(&totalBytes),
		PerFile:         perFile,
		WeakDetectIndex: m.weakDetectIndexValue(),
		SwitchTriggerTS: m.switchTriggerTS.Load(),
		Scheduler: SchedulerSnapshot{
			Before: o.ConcBefore,
			Weak:   o.ConcWeak,
			After:  o.ConcAfter,
		},
		Probes: ProbeSnapshot{
			Count:  lp.Snapshot().Count,
			CostMs: lp.Snapshot().CostMs,
		},
		RunID: runID,
	}
	lg.Info("batch %s done: wall=%.3fs total=%.3fs bytes=%d", runID, res.WallTime, res.TotalTime, res.TotalBytes)
	return res, nil
}

// runURL is the per-URL task body.
func (o *Orchestrator) runURL(
	ctx context.Context,
	index int,
	url string,
	mode Mode,
	p *pool.Pool,
	detector *netlink.Detector,
	lp *probe.Probe,
	m *migration,
	out *PerFile,
	totalBytes *int64,
	lg logger.Logger,
) {
	lp.MaybeProbe(ctx, index+1, url)

	dst := path.Join(o.DownloadDir, path.Base(url))
	rec, err := transfer.TransferChecked(ctx, o.Transport, o.Fs, url, dst, o.Retry, o.Checksum)

	currentPath := "wifi"
	if m.state() == Switched {
		currentPath = "cell"
	}

	var verdict netlink.Verdict
	if err != nil {
		*out = PerFile{URL: url, T: -1, Bytes: 0, Path: currentPath}
		verdict = detector.Feed(0, 0, false)
		lg.Warning("transfer failed for %s: %v", url, err)
	} else {
		speed := float64(rec.BytesWritten) / 1024 / maxFloat(0.001, rec.ElapsedSeconds)
		*out = PerFile{
			URL:       url,
			T:         rec.ElapsedSeconds,
			Bytes:     rec.BytesWritten,
			Path:      currentPath,
			UsedRange: rec.UsedRange,
			Retried:   rec.Retried,
		}
		atomic.AddInt64(totalBytes, rec.BytesWritten)
		verdict = detector.Feed(speed, 0, true)
	}

	if verdict.IsWeak {
		logger.LogWeakSignal(lg, index, verdict.Confidence)
	}

	if mode != AutoSwitch || !verdict.IsWeak {
		return
	}
	if !m.tryEnter(index) {
		return
	}
	o.migrate(ctx, p, lp, m, verdict, lg)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// runLogger builds the per-run logger: a file-backed StandardLogger under
// DownloadDir/.netshift/<runID>/run.log, broadcast through a MultiLogger to
// a second StandardLogger on stderr unless QuietConsole is set (stderr, not
// stdout, so these lines don't collide with a caller's stdout progress bar
// or --json output). The two destinations fan out from the same
// Info/Warning/Error calls, so a caller watching the terminal sees the same
// migration-phase-transition and pool-limit-change lines that end up in
// run.log for later inspection.
func (o *Orchestrator) runLogger(runID string) logger.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	dir := path.Join(o.DownloadDir, ".netshift", runID)
	if err := o.Fs.MkdirAll(dir, 0o755); err != nil {
		return logger.NewNopLogger()
	}
	f, err := o.Fs.Create(path.Join(dir, "run.log"))
	if err != nil {
		return logger.NewNopLogger()
	}
	fileLogger := logger.NewStandardLogger(log.New(f, "", log.LstdFlags))
	var backend logger.Logger = fileLogger
	if !o.QuietConsole {
		consoleLogger := logger.NewStandardLogger(log.New(os.Stderr, runID+" ", log.LstdFlags))
		backend = logger.NewMultiLogger(fileLogger, consoleLogger)
	}
	return &closingLogger{Logger: backend, f: f}
}

// closingLogger adds an io.Closer to a logger.Logger backend (StandardLogger
// and MultiLogger have no file handle of their own to release) so run.log
// is closed when the batch finishes.
type closingLogger struct {
	logger.Logger
	f afero.File
}

func (c *closingLogger) Close() error {
	if c.f == nil {
		return nil
	}
	return c.f.Close()
}

func validate(o *Orchestrator, baseURL string, count int, mode Mode) error {
	var errs *multierror.Error
	if baseURL == "" {
		errs = multierror.Append(errs, fmt.Errorf("batch: baseURL must not be empty"))
	}
	if count <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("batch: count must be positive, got %d", count))
	}
	if mode != WifiOnly && mode != AutoSwitch {
		errs = multierror.Append(errs, fmt.Errorf("batch: unknown mode %q", mode))
	}
	if o.Transport == nil {
		errs = multierror.Append(errs, fmt.Errorf("batch: Transport must not be nil"))
	}
	if mode == AutoSwitch && o.LinkProvider == nil {
		errs = multierror.Append(errs, fmt.Errorf("batch: LinkProvider must not be nil in auto-switch mode"))
	}
	return errs.ErrorOrNil()
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
