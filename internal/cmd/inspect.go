package cmd

import (
	"github.com/spf13/cobra"

	"github.com/liuxd6825/gcbridge/cmd/state"
	"github.com/liuxd6825/gcbridge/errext"
	"github.com/liuxd6825/gcbridge/errext/exitcodes"
	"github.com/liuxd6825/gcbridge/page/dom"
)

func getCmdInspect(gs *state.GlobalState) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [page]",
		Short: "List the goatcounter scripts of an HTML page",
		Long:  `List the goatcounter scripts of an HTML page as YAML, with their parsed settings.`,
		Args:  exactArgsWithMsg(1, "arg should either be \"-\", if reading the page from stdin, or a path to it"),
		RunE: func(_ *cobra.Command, args []string) error {
			win, err := readPage(gs, args[0], "")
			if err != nil {
				return errext.WithExitCodeIfNone(err, exitcodes.SourceNotLoaded)
			}

			scripts := win.Scripts()
			if scripts == nil {
				scripts = []dom.ScriptInfo{}
			}
			for _, s := range scripts {
				l := gs.Logger.WithField("src", s.Src)
				if s.SettingsError != "" {
					l.WithField("error", s.SettingsError).Warn("Invalid data-goatcounter-settings")
				}
				if !s.Pinned() {
					l.Debug("The script isn't pinned to an integrity hash")
				}
			}
			return gs.Console.PrintYAML(map[string]interface{}{"scripts": scripts})
		},
	}
}
