package cmd

// Compile-time defaults. These are the values batch.Orchestrator falls
// back to when a flag isn't set; batch.go's flags let a caller override
// most of them the way flags.go exposes WARP_MAX_PARTS/WARP_MAX_CONN
// via EnvVar.
const (
	VERSION = "v0.1.0"

	// Pool triple: concurrency before/during/after a migration.
	DEF_CONC_BEFORE = 3
	DEF_CONC_WEAK   = 2
	DEF_CONC_AFTER  = 8

	DEF_COUNT        = 20
	DEF_PROBE_N      = 10
	DEF_DOWNLOAD_DIR = "."
)

const DESCRIPTION = `
netshift is an adaptive batch downloader core: it detects a weakening
link mid-batch and, in auto-switch mode, stages a migration from the
primary link (e.g. Wi-Fi) to a secondary one (e.g. cellular) without
losing in-flight progress.
`

const BatchDescription = `The batch command fetches a numbered sequence of URLs
(baseURL/img_001.jpg .. img_NNN.jpg) through the adaptive batch
downloader core, optionally migrating off a degrading link mid-run.

Example:
        netshift batch https://example.com/photos --count 50 --mode auto-switch

`
