// Package bridge lazily injects the GoatCounter script into a page and
// forwards calls to the global object it defines.
//
// A Bridge injects at most one script element into its Window, no matter how
// many callers ask for the vendor concurrently. Every operation waits for the
// script to load; there is no timeout and no retry, so callers that can't
// wait forever pass a context with a deadline.
package bridge

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/gcbridge/lib"
	"github.com/liuxd6825/gcbridge/lib/sri"
)

// Bridge owns the configuration and the load state of the vendor script for
// one Window.
type Bridge struct {
	win      Window
	logger   logrus.FieldLogger
	versions VersionTable

	mu     sync.Mutex
	config lib.Config
	load   *Future
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger diagnostics are written to.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithVersions sets the table integrity hashes are looked up in. The table
// bundled in lib/sri is used by default.
func WithVersions(versions VersionTable) Option {
	return func(b *Bridge) {
		b.versions = versions
	}
}

// WithConfig applies cfg on top of the initial, empty configuration.
func WithConfig(cfg lib.Config) Option {
	return func(b *Bridge) {
		b.config = b.config.Apply(cfg)
	}
}

// New creates a Bridge for win. Nothing is injected until the vendor is
// first needed.
func New(win Window, opts ...Option) *Bridge {
	b := &Bridge{
		win:      win,
		versions: sri.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		b.logger = l
	}
	b.logger = b.logger.WithField("component", "bridge")
	return b
}

// SetConfig merges cfg into the current configuration. It has no effect on
// a load that has already started.
func (b *Bridge) SetConfig(cfg lib.Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = b.config.Apply(cfg)
}

// Config returns the current configuration.
func (b *Bridge) Config() lib.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config
}

// Load returns the future of the vendor global, injecting the script the
// first time it is called. A vendor global that is already on the page is
// returned as is and nothing is injected.
func (b *Bridge) Load() *Future {
	if v, ok := b.win.Vendor(); ok {
		return resolvedFuture(v)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.load != nil {
		return b.load
	}
	b.load = newFuture()
	b.inject(b.load)
	return b.load
}

// inject must be called with b.mu held.
func (b *Bridge) inject(f *Future) {
	source := ScriptSource(b.config, b.versions)
	logger := b.logger.WithField("src", source.URL)
	if !source.Pinned() && (b.config.Version.Valid || b.config.Src.Valid) {
		logger.WithField("version", b.config.Version.ValueOrZero()).
			Debug("No integrity hash known for the requested script, loading the unpinned one")
	}

	attrs, err := ScriptAttributes(b.config, b.versions)
	if err != nil {
		logger.WithError(err).Warn("Couldn't build the goatcounter script element")
		return
	}

	doc := b.win.Document()
	el := doc.CreateScript()
	for _, attr := range attrs {
		el.SetAttribute(attr.Name, attr.Value)
	}

	var once sync.Once
	el.AddLoadListener(func() {
		once.Do(func() {
			v, ok := b.win.Vendor()
			if !ok {
				logger.Warn("goatcounter script loaded but global not available")
				return
			}
			f.resolve(v)
			logger.Debug("goatcounter script loaded")
		})
	})

	if err := doc.AppendToHead(el); err != nil {
		logger.WithError(err).Warn("Couldn't insert the goatcounter script")
		return
	}
	logger.Debug("Injected the goatcounter script")
}

func (b *Bridge) vendor(ctx context.Context) (Vendor, error) {
	return b.Load().Wait(ctx)
}

func (b *Bridge) withDefaultPath(p Params) Params {
	if !p.Path.Valid {
		p.Path = null.StringFrom(PagePath(b.win.Location()))
	}
	return p
}

// Count counts a pageview, or an event if p.Event is set. An unset path
// defaults to the current location.
func (b *Bridge) Count(ctx context.Context, p Params) error {
	p = b.withDefaultPath(p)
	v, err := b.vendor(ctx)
	if err != nil {
		return err
	}
	return v.Count(p)
}

// URL returns the URL that Count would send for p. An unset path defaults to
// the current location.
func (b *Bridge) URL(ctx context.Context, p Params) (string, error) {
	p = b.withDefaultPath(p)
	v, err := b.vendor(ctx)
	if err != nil {
		return "", err
	}
	return v.URL(p)
}

// Filter returns why requests from this page are filtered, or an invalid
// string if they aren't.
func (b *Bridge) Filter(ctx context.Context) (null.String, error) {
	v, err := b.vendor(ctx)
	if err != nil {
		return null.String{}, err
	}
	return v.Filter()
}

// BindEvents binds the click events of elements marked with data-goatcounter-click.
func (b *Bridge) BindEvents(ctx context.Context) error {
	v, err := b.vendor(ctx)
	if err != nil {
		return err
	}
	return v.BindEvents()
}

// GetQuery returns the named query parameter of the current page, or an
// invalid string if there is none.
func (b *Bridge) GetQuery(ctx context.Context, name string) (null.String, error) {
	v, err := b.vendor(ctx)
	if err != nil {
		return null.String{}, err
	}
	return v.GetQuery(name)
}
