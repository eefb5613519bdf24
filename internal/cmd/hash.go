package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liuxd6825/gcbridge/cmd/state"
	"github.com/liuxd6825/gcbridge/errext"
	"github.com/liuxd6825/gcbridge/errext/exitcodes"
	"github.com/liuxd6825/gcbridge/lib/sri"
)

type cmdHash struct {
	gs           *state.GlobalState
	version      string
	versionsPath string
}

func (c *cmdHash) run(_ *cobra.Command, args []string) error {
	src, err := readSource(c.gs, args[0])
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.SourceNotLoaded)
	}
	integrity := sri.Compute(src.Data)

	if c.version == "" {
		c.gs.Console.Printf("%s\n", integrity)
		return nil
	}

	versions, err := loadVersions(c.gs, c.versionsPath)
	if err != nil {
		return err
	}
	expected, ok := versions.Lookup(c.version)
	if !ok {
		return errext.WithExitCodeIfNone(
			errext.WithHint(
				fmt.Errorf("no integrity hash known for version %q", c.version),
				"add it to a file passed with --versions",
			), exitcodes.InvalidConfig)
	}

	err = sri.Verify(expected, src.Data)
	switch {
	case errors.Is(err, sri.ErrMismatch):
		c.gs.Console.Printf("%s %s\n", integrity, c.gs.Console.Status("mismatch", false))
		return errext.WithExitCodeIfNone(
			errext.WithHint(
				fmt.Errorf("%s doesn't match the integrity hash of version %s", src.URL, c.version),
				"expected "+expected,
			), exitcodes.IntegrityMismatch)
	case err != nil:
		return err
	}
	c.gs.Console.Printf("%s %s\n", integrity, c.gs.Console.Status("ok", true))
	return nil
}

func getCmdHash(gs *state.GlobalState) *cobra.Command {
	c := &cmdHash{gs: gs}

	exampleText := getExampleText(gs, `
  # Compute the integrity hash of a script
  {{.}} hash https://gc.zgo.at/count.v4.js

  # Check a local copy against the known hash of version 4
  {{.}} hash --script-version 4 count.v4.js`[1:])

	cmd := &cobra.Command{
		Use:     "hash [flags] script",
		Short:   "Compute the subresource integrity hash of a script",
		Example: exampleText,
		Args:    exactArgsWithMsg(1, "arg should be \"-\", a path or an https URL"),
		RunE:    c.run,
	}
	cmd.Flags().StringVar(&c.version, "script-version", "", "check the script against this version's known hash")
	cmd.Flags().StringVar(&c.versionsPath, "versions", "", "JSON or YAML file with extra version integrity hashes")
	return cmd
}
