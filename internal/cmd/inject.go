package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/liuxd6825/gcbridge/bridge"
	"github.com/liuxd6825/gcbridge/cmd/state"
	"github.com/liuxd6825/gcbridge/errext"
	"github.com/liuxd6825/gcbridge/errext/exitcodes"
)

type cmdInject struct {
	gs           *state.GlobalState
	location     string
	out          string
	versionsPath string
}

func (c *cmdInject) run(cmd *cobra.Command, args []string) error {
	conf, err := getConsolidatedConfig(c.gs, getConfig(cmd.Flags()))
	if err != nil {
		return err
	}
	versions, err := loadVersions(c.gs, c.versionsPath)
	if err != nil {
		return err
	}

	win, err := readPage(c.gs, args[0], c.location)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.SourceNotLoaded)
	}

	logger := c.gs.Logger.WithField("page", args[0])
	if existing := win.Scripts(); len(existing) > 0 {
		logger.WithField("src", existing[0].Src).
			Warn("The page already has a goatcounter script, leaving it as it is")
	} else {
		b := bridge.New(win,
			bridge.WithConfig(conf),
			bridge.WithVersions(versions),
			bridge.WithLogger(c.gs.Logger),
		)
		b.Load()
	}

	html, err := win.HTML()
	if err != nil {
		return err
	}
	if c.out == "" {
		c.gs.Console.Print(html)
		return nil
	}

	out := c.out
	if !filepath.IsAbs(out) {
		pwd, err := c.gs.Getwd()
		if err != nil {
			return err
		}
		out = filepath.Join(pwd, out)
	}
	if err := afero.WriteFile(c.gs.FS, out, []byte(html), 0o644); err != nil {
		return fmt.Errorf("couldn't write %s: %w", out, err)
	}
	logger.WithField("out", out).Info("Injected the goatcounter script")
	return nil
}

func getCmdInject(gs *state.GlobalState) *cobra.Command {
	c := &cmdInject{gs: gs}

	exampleText := getExampleText(gs, `
  # Inject the default, unpinned script
  {{.}} inject --endpoint https://example.goatcounter.com/count index.html

  # Pin version 4 of the script and don't count on load
  {{.}} inject --script-version 4 --no-onload --out public/index.html index.html

  # Read the page from stdin
  cat index.html | {{.}} inject --endpoint https://example.goatcounter.com/count -`[1:])

	cmd := &cobra.Command{
		Use:   "inject [flags] page",
		Short: "Add the goatcounter script to an HTML page",
		Long: `Add the goatcounter script to an HTML page.

The script element is appended to the <head> of the page. A pinned script
version is only used when its integrity hash is known; otherwise the unpinned
script is injected. Configuration is read from the config file, the GCBRIDGE_*
environment variables and the flags, in increasing order of priority.`,
		Example: exampleText,
		Args:    exactArgsWithMsg(1, "arg should either be \"-\", if reading the page from stdin, or a path to it"),
		RunE:    c.run,
	}

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.AddFlagSet(configFlagSet())
	flags.StringVar(&c.location, "location", "", "URL the page is served from")
	flags.StringVarP(&c.out, "out", "o", "", "write the page to this file instead of stdout")
	flags.StringVar(&c.versionsPath, "versions", "", "JSON or YAML file with extra version integrity hashes")
	return cmd
}
