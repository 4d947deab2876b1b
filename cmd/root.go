// Package cmd is netshift's CLI surface, built on github.com/urfave/cli
// (v1) rather than cobra.
package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/urfave/cli"
)

const helpTemplate = `Usage: {{if .UsageText}}{{.UsageText}}{{else}}{{.HelpName}} {{if .VisibleFlags}}[global options]{{end}}{{if .Commands}} command [command options]{{end}} {{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}{{end}}
{{.Description}}{{if .VisibleCommands}}
Commands:{{range .VisibleCommands}}
  {{join .Names ", "}}{{"\t"}}{{.Usage}}{{end}}{{end}}

Use "{{.HelpName}} help <command>" for more information about any command.

`

const cmdHelpTemplate = `{{if .Description}}{{.Description}}{{else}}{{.HelpName}} - {{.Usage}}

{{end}}Usage:
        {{.HelpName}} {{if .UsageText}}{{.UsageText}}{{else}}[arguments...]{{end}}{{if .VisibleFlags}}

Supported Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

`

// BuildArgs carries version metadata injected at build time.
type BuildArgs struct {
	Version string
	Commit  string
	Date    string
}

// Execute builds and runs the netshift CLI app against args.
func Execute(args []string, build BuildArgs) error {
	version := build.Version
	if version == "" {
		version = VERSION
	}

	app := cli.App{
		Name:                  "netshift",
		HelpName:              "netshift",
		Usage:                 "an adaptive batch downloader with weak-link migration",
		Version:               version,
		UsageText:             "netshift <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: helpTemplate,
		OnUsageError:          usageErrorCallback,
		Commands: []cli.Command{
			batchCommand(),
			{
				Name:    "version",
				Aliases: []string{"v"},
				Usage:   "prints the installed version of netshift",
				Action: func(ctx *cli.Context) error {
					fmt.Printf("netshift %s (%s_%s)\n", version, runtime.GOOS, runtime.GOARCH)
					return nil
				},
			},
		},
		HideHelp:    false,
		HideVersion: true,
	}
	return app.Run(args)
}

func usageErrorCallback(ctx *cli.Context, err error, _ bool) error {
	if err == nil {
		return nil
	}
	if ctx.Command.Name != "" {
		cli.ShowCommandHelp(ctx, ctx.Command.Name)
	} else {
		cli.ShowAppHelp(ctx)
	}
	return err
}

func printRuntimeErr(cmd string, err error) {
	fmt.Fprintf(os.Stderr, "netshift: %s: %s\n", cmd, rectify(err))
}

// rectify surfaces a short, user-facing reason for the handful of
// errors a batch run commonly hits instead of a raw wrapped error
// chain.
func rectify(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "no such host") {
		return "no such host"
	}
	return msg
}
