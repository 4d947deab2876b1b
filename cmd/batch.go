package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/warpdl/netshift/pkg/batch"
	"github.com/warpdl/netshift/pkg/netbind"
	"github.com/warpdl/netshift/pkg/nettransport"
)

var (
	batchCount      int
	batchMode       string
	batchDir        string
	batchProbeEvery int
	batchCron       string
	batchJSON       bool
	batchQuiet      bool
)

var batchFlags = []cli.Flag{
	cli.IntFlag{
		Name:        "count, n",
		Usage:       "number of URLs to fetch (img_001.jpg .. img_NNN.jpg)",
		EnvVar:      "NETSHIFT_COUNT",
		Value:       DEF_COUNT,
		Destination: &batchCount,
	},
	cli.StringFlag{
		Name:        "mode, m",
		Usage:       "wifi-only (no migration) or auto-switch (migrate off a weak link)",
		Value:       string(batch.WifiOnly),
		Destination: &batchMode,
	},
	cli.StringFlag{
		Name:        "download-dir, l",
		Usage:       "directory downloaded files and the run's log are written to",
		Value:       DEF_DOWNLOAD_DIR,
		Destination: &batchDir,
	},
	cli.IntFlag{
		Name:        "probe-every, p",
		Usage:       "LightProbe interval, in URLs between probes",
		Value:       DEF_PROBE_N,
		Destination: &batchProbeEvery,
	},
	cli.StringFlag{
		Name:        "repeat-cron",
		Usage:       "if set, re-run this batch on every occurrence of this cron expression instead of once",
		Destination: &batchCron,
	},
	cli.BoolFlag{
		Name:        "json",
		Usage:       "print the full batch.Result as JSON instead of a summary line",
		Destination: &batchJSON,
	},
	cli.BoolFlag{
		Name:        "quiet, q",
		Usage:       "don't mirror the run log to stderr; it's still written under download-dir/.netshift/<runID>/run.log",
		Destination: &batchQuiet,
	},
}

func batchCommand() cli.Command {
	return cli.Command{
		Name:                   "batch",
		Aliases:                []string{"b"},
		Usage:                  "fetch a numbered batch of URLs, migrating off a weak link if needed",
		Description:            BatchDescription,
		CustomHelpTemplate:     cmdHelpTemplate,
		Flags:                  batchFlags,
		UseShortOptionHandling: true,
		Action:                 runBatch,
	}
}

func runBatch(ctx *cli.Context) error {
	baseURL := ctx.Args().First()
	if baseURL == "" {
		return cli.NewExitError("netshift batch: no base URL provided", 1)
	}

	mode := batch.Mode(batchMode)
	if mode != batch.WifiOnly && mode != batch.AutoSwitch {
		return cli.NewExitError(fmt.Sprintf("netshift batch: unknown mode %q (want wifi-only or auto-switch)", batchMode), 1)
	}

	fs := afero.NewOsFs()
	orch := &batch.Orchestrator{
		Transport:    nettransport.New(fs),
		LinkProvider: netbind.NewHeadless(),
		Fs:           fs,
		DownloadDir:  batchDir,
		ConcBefore:   DEF_CONC_BEFORE,
		ConcWeak:     DEF_CONC_WEAK,
		ConcAfter:    DEF_CONC_AFTER,
		ProbeEveryN:  batchProbeEvery,
		QuietConsole: batchQuiet,
	}
	// Logger is left nil: Orchestrator.Run builds its own per-run file
	// logger under DownloadDir/.netshift/<runID>/run.log.

	bgCtx := context.Background()

	if batchCron != "" {
		return runScheduled(bgCtx, orch, baseURL, mode)
	}

	fmt.Println(">> Starting netshift batch <<")
	p := mpb.New(mpb.WithWidth(64))
	bar := p.New(int64(batchCount),
		mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟"),
		mpb.PrependDecorators(
			decor.Name("batch", decor.WC{W: len("batch") + 1, C: decor.DidentRight}),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "Complete"),
		),
		mpb.AppendDecorators(decor.AverageSpeed(decor.SizeB1024(0), "% .2f")),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for !bar.Completed() {
			time.Sleep(200 * time.Millisecond)
		}
	}()

	res, err := orch.Run(bgCtx, baseURL, batchCount, mode)
	bar.SetCurrent(int64(batchCount))
	p.Wait()
	<-done
	if err != nil {
		printRuntimeErr("batch", err)
		return err
	}

	return printResult(res)
}

func runScheduled(ctx context.Context, orch *batch.Orchestrator, baseURL string, mode batch.Mode) error {
	if !gronx.IsValid(batchCron) {
		return cli.NewExitError(fmt.Sprintf("netshift batch: invalid --repeat-cron expression %q", batchCron), 1)
	}
	sched, err := batch.NewScheduler(orch, batchCron, baseURL, batchCount, mode, func(res batch.Result, runErr error) {
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "netshift: scheduled batch failed: %v\n", runErr)
			return
		}
		fmt.Println(res.Summary())
	})
	if err != nil {
		return err
	}
	fmt.Printf(">> Scheduling netshift batch on %q <<\n", batchCron)
	return sched.Run(ctx)
}

func printResult(res batch.Result) error {
	if batchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Println(res.Summary())
	if res.WeakDetectIndex >= 0 {
		fmt.Printf("weak link detected at file #%d, migration %s\n", res.WeakDetectIndex+1, migrationOutcome(res))
	}
	return nil
}

func migrationOutcome(res batch.Result) string {
	if res.SwitchTriggerTS != 0 {
		return "succeeded"
	}
	return "timed out"
}
