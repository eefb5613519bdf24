package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/gcbridge/bridge"
	"github.com/liuxd6825/gcbridge/cmd/state"
	"github.com/liuxd6825/gcbridge/errext"
	"github.com/liuxd6825/gcbridge/errext/exitcodes"
	"github.com/liuxd6825/gcbridge/lib/sri"
	"github.com/liuxd6825/gcbridge/page/vm"
)

type cmdSimulate struct {
	gs       *state.GlobalState
	location string
	timeout  time.Duration
	path     string
	title    string
	referrer string
	event    bool
	count    bool
}

type simulateResult struct {
	URL      string  `yaml:"url"`
	Filtered *string `yaml:"filtered"`
	Counted  bool    `yaml:"counted"`
	// Requests are the hits the page sent, the onload pageview included.
	Requests []string `yaml:"requests,omitempty"`
}

// run loads the script in a headless page through the bridge and reports
// what it would send.
func (c *cmdSimulate) run(cmd *cobra.Command, args []string) error {
	conf, err := getConsolidatedConfig(c.gs, getConfig(cmd.Flags()))
	if err != nil {
		return err
	}

	if args[0] == "-" {
		return errext.WithExitCodeIfNone(
			errors.New("the script can't be read from stdin, the page has to load it"), exitcodes.InvalidConfig)
	}
	src, err := readSource(c.gs, args[0])
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.SourceNotLoaded)
	}
	conf.Src = null.StringFrom(src.URL.String())
	if !conf.Integrity.Valid {
		conf.Integrity = null.StringFrom(sri.Compute(src.Data))
	}

	win, err := vm.New(c.gs.Ctx, c.location,
		vm.WithLogger(c.gs.Logger), vm.WithLoader(newLoader(c.gs)),
		vm.WithTitle(c.title), vm.WithReferrer(c.referrer))
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	defer win.Close()

	b := bridge.New(win, bridge.WithConfig(conf), bridge.WithLogger(c.gs.Logger))
	ctx, cancel := context.WithTimeout(c.gs.Ctx, c.timeout)
	defer cancel()
	if _, err := b.Load().Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errext.WithHint(errors.New("the goatcounter global wasn't available in time"),
				"check the warnings above, or run with --verbose")
		}
		return errext.WithExitCodeIfNone(err, exitcodes.ScriptException)
	}

	p := bridge.Params{
		Path:     null.NewString(c.path, c.path != ""),
		Title:    null.NewString(c.title, c.title != ""),
		Referrer: null.NewString(c.referrer, c.referrer != ""),
		Event:    null.NewBool(c.event, c.event),
	}
	var res simulateResult
	if res.URL, err = b.URL(ctx, p); err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.ScriptException)
	}
	filtered, err := b.Filter(ctx)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.ScriptException)
	}
	res.Filtered = filtered.Ptr()
	if c.count {
		if err := b.Count(ctx, p); err != nil {
			return errext.WithExitCodeIfNone(err, exitcodes.ScriptException)
		}
		res.Counted = true
	}
	res.Requests = win.Requests()
	return c.gs.Console.PrintYAML(res)
}

func getCmdSimulate(gs *state.GlobalState) *cobra.Command {
	c := &cmdSimulate{gs: gs}

	exampleText := getExampleText(gs, `
  # Show the URL a pageview of /about would be sent to
  {{.}} simulate --endpoint https://example.goatcounter.com/count --location https://example.com/about count.js

  # Count an event with a downloaded copy of version 4
  {{.}} simulate --script-version 4 --path signup --event --count count.v4.js`[1:])

	cmd := &cobra.Command{
		Use:   "simulate [flags] script",
		Short: "Run a goatcounter script in a headless page",
		Long: `Run a goatcounter script in a headless page.

The script is injected the way a browser would load it, then the URL of a
pageview (or event) and the filter reason of the page are printed as YAML.
Without --integrity the script is pinned to its own hash. The hits the page
sent, such as the onload pageview, are listed under requests.`,
		Example: exampleText,
		Args:    exactArgsWithMsg(1, "arg should be a path or an https URL"),
		RunE:    c.run,
	}

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.AddFlagSet(configFlagSet())
	must(flags.MarkHidden("src"))
	flags.StringVar(&c.location, "location", "https://example.com/", "URL of the simulated page")
	flags.DurationVar(&c.timeout, "timeout", 10*time.Second, "how long to wait for the script")
	flags.StringVar(&c.path, "path", "", "path to count, the page location by default")
	flags.StringVar(&c.title, "title", "", "title of the page and the pageview")
	flags.StringVar(&c.referrer, "referrer", "", "referrer of the page and the pageview")
	flags.BoolVar(&c.event, "event", false, "count an event instead of a pageview")
	flags.BoolVar(&c.count, "count", false, "also call count")
	return cmd
}
