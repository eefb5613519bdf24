// Package loader fetches script sources from local files and https URLs.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

// SourceData wraps a source file; data and its URL.
type SourceData struct {
	Data []byte
	URL  *url.URL
}

// Loader reads sources through a filesystem per URL scheme. Concurrent loads
// of the same https URL share one request.
type Loader struct {
	logger      logrus.FieldLogger
	filesystems map[string]afero.Fs
	client      *http.Client
	group       singleflight.Group
}

// New creates a Loader. A nil client means http.DefaultClient.
func New(logger logrus.FieldLogger, filesystems map[string]afero.Fs, client *http.Client) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{
		logger:      logger.WithField("component", "loader"),
		filesystems: filesystems,
		client:      client,
	}
}

// Resolve turns a script location into an absolute URL. Local paths are
// resolved against pwd, which must be a file URL of a directory.
func Resolve(pwd *url.URL, specifier string) (*url.URL, error) {
	if specifier == "" {
		return nil, errors.New("local or remote path required")
	}

	if strings.Contains(specifier, "://") {
		u, err := url.Parse(specifier)
		if err != nil {
			return nil, err
		}
		if u.Scheme != "file" && u.Scheme != "https" {
			return nil, fmt.Errorf("only file and https sources are supported, %s has `%s`", specifier, u.Scheme)
		}
		return u, nil
	}

	// C:/something/gc.js would otherwise be parsed with the scheme `C`
	if filepath.VolumeName(specifier) != "" {
		specifier = "/" + specifier
	}
	if strings.HasPrefix(specifier, "/") {
		return &url.URL{Scheme: "file", Path: path.Clean(specifier)}, nil
	}

	finalPwd := *pwd
	if !strings.HasSuffix(finalPwd.Path, "/") {
		finalPwd.Path += "/"
	}
	return finalPwd.Parse(specifier)
}

// Load reads the source behind u. https sources are fetched once and then
// served from the cache.
func (l *Loader) Load(ctx context.Context, u *url.URL) (*SourceData, error) {
	logger := l.logger.WithField("url", u.String())
	logger.Debug("Loading...")

	fs, ok := l.filesystems[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("no filesystem for the %q scheme of %s", u.Scheme, u)
	}

	pathOnFs := u.Path
	if u.Scheme == "https" {
		pathOnFs = path.Join("/", u.Host, u.Path)
		if u.RawQuery != "" {
			pathOnFs += "?" + u.RawQuery
		}
	}
	pathOnFs = filepath.FromSlash(pathOnFs)

	data, err := afero.ReadFile(fs, pathOnFs)
	if err == nil {
		return &SourceData{URL: u, Data: data}, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("the source %s couldn't be found on local disk", u)
	}

	res, err, shared := l.group.Do(u.String(), func() (interface{}, error) {
		data, err := l.fetch(ctx, logger, u.String())
		if err != nil {
			return nil, err
		}
		if err := afero.WriteFile(fs, pathOnFs, data, 0o644); err != nil {
			logger.WithError(err).Warn("Couldn't cache the fetched source")
		}
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("the source %s couldn't be fetched: %w", u, err)
	}
	if shared {
		logger.Debug("Shared the fetch with a concurrent load")
	}
	return &SourceData{URL: u, Data: res.([]byte)}, nil //nolint:forcetypeassert
}

func (l *Loader) fetch(ctx context.Context, logger logrus.FieldLogger, u string) ([]byte, error) {
	logger.Debug("Fetching source...")
	startTime := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("not found: %s", u)
	default:
		return nil, fmt.Errorf("wrong status code (%d) for: %s", res.StatusCode, u)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"t":   time.Since(startTime),
		"len": len(data),
	}).Debug("Fetched!")
	return data, nil
}
