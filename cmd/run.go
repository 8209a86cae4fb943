package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/common/expfmt"

	"grimm.is/rse/internal/brand"
	"grimm.is/rse/internal/config"
	"grimm.is/rse/internal/profile"
)

// Run executes a command line (without the program name), writing results
// to out.
func Run(args []string, out io.Writer) error {
	global := flag.NewFlagSet(brand.LowerName, flag.ContinueOnError)
	global.SetOutput(out)
	configFile := global.String("config", brand.GetConfigPath(), "Configuration file")
	showMetrics := global.Bool("metrics", false, "Print metrics after the command")
	showEvents := global.Bool("events", false, "Print change events after the command")
	global.Usage = func() { printUsage(out) }
	if err := global.Parse(args); err != nil {
		return err
	}
	args = global.Args()
	if len(args) == 0 {
		printUsage(out)
		return errUsage
	}

	switch args[0] {
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	case "version":
		fmt.Fprintf(out, "%s %s\n", brand.Name, brand.Version)
		return nil
	case "check":
		return RunCheck(out, args[1:])
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	app, err := Open(cfg, out)
	if err != nil {
		return err
	}
	defer app.Close()

	if *showEvents {
		ch := app.Events.Subscribe(1024)
		defer func() {
			app.Events.Unsubscribe(ch)
		drain:
			for {
				select {
				case e := <-ch:
					fmt.Fprintf(out, "event %s %+v\n", e.Type, e.Data)
				default:
					break drain
				}
			}
		}()
		if app.Store != nil {
			ctx, cancel := context.WithCancel(context.Background())
			changes := app.Store.Watch(ctx)
			defer func() {
				cancel()
				for c := range changes {
					fmt.Fprintf(out, "change %s %s %s\n", c.Type, c.Bucket, c.Key)
				}
			}()
		}
	}
	if *showMetrics {
		defer app.printMetrics()
	}

	rest := args[1:]
	switch args[0] {
	case "pools":
		return app.RunPools(rest)
	case "filters":
		return app.RunFilters(rest)
	case "strings":
		return app.RunStrings(rest)
	case "refs":
		return app.RunRefs(rest)
	case "export":
		return app.RunExport(rest)
	case "diff":
		return app.RunDiff(rest)
	case "history":
		return app.RunHistory(rest)
	case "backup":
		return app.RunBackup(rest)
	case "restore":
		return app.RunRestore(rest)
	}
	printUsage(out)
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

// target is the profile and sub-configuration a command works on.
type target struct {
	profile  string
	configID string
}

func (t *target) bind(fs *flag.FlagSet) {
	fs.StringVar(&t.profile, "profile", "", "Profile name (default: first configured profile)")
	fs.StringVar(&t.configID, "c", profile.DefaultConfigID, "Sub-configuration id")
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// needArgs checks the positional argument count of a subcommand.
func needArgs(fs *flag.FlagSet, n int, usage string) error {
	if fs.NArg() < n {
		return fmt.Errorf("%w: %s %s", errUsage, fs.Name(), usage)
	}
	return nil
}

func (a *App) printMetrics() {
	mfs, err := a.Metrics.Gatherer().Gather()
	if err != nil {
		a.Log.Warn("gather metrics", "error", err)
		return
	}
	enc := expfmt.NewEncoder(a.out, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			a.Log.Warn("encode metrics", "error", err)
			return
		}
	}
}

// RunCheck validates a configuration file.
func RunCheck(out io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: %s check <config-file>", errUsage, brand.LowerName)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	cfg, err := config.Parse(args[0], data)
	if err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, v := range verrs {
				fmt.Fprintf(out, "  %s\n", v.Error())
			}
		}
		return fmt.Errorf("configuration invalid: %w", err)
	}
	fmt.Fprintf(out, "Configuration valid!\n")
	fmt.Fprintf(out, "Store: %s (%s)\n", cfg.Store.Backend, cfg.Store.Path)
	fmt.Fprintf(out, "Profiles: %d\n", len(cfg.Profiles))
	return nil
}

func printUsage(out io.Writer) {
	fmt.Fprintf(out, `%s - %s

Usage:
  %s [-config <file>] [-metrics] [-events] <command> [options]

Pool Commands:
  pools list                        List pools with filter and reference counts
  pools create [-fixed] NAME        Create a pool
  pools rename NAME NEW             Rename a pool and update references
  pools copy [-to-profile P] [-to-c C] NAME NEW
  pools move [-to-profile P] [-to-c C] NAME [NEW]
  pools delete NAME                 Delete a pool

Filter Commands:
  filters list POOL                 Show filters and their strings
  filters create [-in PARENT] [-type T] POOL NAME [STRING...]
  filters rename POOL FILTER NEW
  filters delete POOL FILTER
  filters order POOL NAME...        Reorder filters by name
  filters match POOL CANDIDATE      Show filters matching a candidate

String Commands:
  strings add [-pos N] [-type T] POOL FILTER VALUE
  strings remove POOL FILTER VALUE

Reference Commands:
  refs list                         Show consumers and their pool references
  refs add [-consumer NAME] REF     Add a reference (NAME or PROFILE___POOL)
  refs remove [-consumer NAME] REF

Utility Commands:
  export [-format hcl|yaml]         Print the profile
  diff FILE                         Compare the profile with an HCL file
  check FILE                        Validate a configuration file

Store Commands (sqlite backend):
  history [-since V]                Show the profile's stored changes
  backup FILE                       Write a snapshot of the store
  restore FILE                      Replace the store with a snapshot
  version                           Print the version

Common options: -profile <name>, -c <config-id>
`, brand.Name, "persistent filter pools", brand.LowerName)
}
