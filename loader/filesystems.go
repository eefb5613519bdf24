package loader

import (
	"github.com/spf13/afero"
)

// CreateFilesystems returns the filesystem map a Loader reads from. Local
// files are cached in memory on first read, and https responses are
// written to their own memory filesystem, so a page sees the same content
// for the same URL for its whole lifetime.
func CreateFilesystems(osfs afero.Fs) map[string]afero.Fs {
	return map[string]afero.Fs{
		"file":  afero.NewCacheOnReadFs(osfs, afero.NewMemMapFs(), 0),
		"https": afero.NewMemMapFs(),
	}
}
