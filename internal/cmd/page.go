package cmd

import (
	"bytes"

	"github.com/liuxd6825/gcbridge/cmd/state"
	"github.com/liuxd6825/gcbridge/loader"
	"github.com/liuxd6825/gcbridge/page/dom"
)

func newLoader(gs *state.GlobalState) *loader.Loader {
	return loader.New(gs.Logger, loader.CreateFilesystems(gs.FS), gs.HTTPClient)
}

// readSource reads a script or page given on the command line.
func readSource(gs *state.GlobalState, src string) (*loader.SourceData, error) {
	pwd, err := gs.Getwd()
	if err != nil {
		return nil, err
	}
	return newLoader(gs).ReadSource(gs.Ctx, src, pwd, gs.Stdin)
}

// readPage parses the page given on the command line. Without an explicit
// location the page is assumed to be served from where it was read.
func readPage(gs *state.GlobalState, src, location string) (*dom.Window, error) {
	data, err := readSource(gs, src)
	if err != nil {
		return nil, err
	}
	if location == "" {
		location = data.URL.String()
	}
	return dom.New(bytes.NewReader(data.Data), location)
}
