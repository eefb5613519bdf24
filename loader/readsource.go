package loader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"

	"github.com/spf13/afero"
)

// ReadSource reads a source given on the command line: "-" for stdin, a
// local path or an https URL.
func (l *Loader) ReadSource(ctx context.Context, src, pwd string, stdin io.Reader) (*SourceData, error) {
	if src == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading from stdin: %w", err)
		}
		return &SourceData{URL: &url.URL{Scheme: "file", Path: "/-"}, Data: data}, nil
	}

	pwdURL := &url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Clean(pwd)) + "/"}
	if !filepath.IsAbs(src) {
		local := filepath.Clean(afero.FilePathSeparator + filepath.Join(pwd, src))
		if ok, _ := afero.Exists(l.filesystems["file"], local); ok {
			return l.Load(ctx, &url.URL{Scheme: "file", Path: filepath.ToSlash(local)})
		}
	}

	u, err := Resolve(pwdURL, filepath.ToSlash(src))
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, u)
}
