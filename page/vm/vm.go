// Package vm implements a bridge.Window backed by a goja runtime. Injected
// scripts are really fetched and executed, so the vendor global is whatever
// the loaded script defines. The page provides the small part of the browser
// environment the vendor script uses: document queries over the inserted
// scripts, navigator.sendBeacon, localStorage, console and setTimeout.
package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/mstoykov/k6-taskqueue-lib/taskqueue"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/liuxd6825/gcbridge/bridge"
	"github.com/liuxd6825/gcbridge/js/eventloop"
	"github.com/liuxd6825/gcbridge/lib/consts"
	"github.com/liuxd6825/gcbridge/lib/sri"
	"github.com/liuxd6825/gcbridge/loader"
)

// Window is a page whose scripts run in a goja runtime. The runtime is only
// ever touched from the event loop.
type Window struct {
	logger   logrus.FieldLogger
	loader   *loader.Loader
	title    string
	referrer string

	ctx    context.Context
	cancel context.CancelFunc
	loop   *eventloop.EventLoop
	tq     *taskqueue.TaskQueue
	rt     *goja.Runtime

	fetches sync.WaitGroup

	mu       sync.Mutex
	location *url.URL
	scripts  []*Script
	requests []string
	timerID  uint64
	timers   map[uint64]*time.Timer
	closed   bool
}

var (
	_ bridge.Window   = &Window{}
	_ bridge.Document = &Window{}
)

// Option configures a Window.
type Option func(*Window)

// WithLogger sets the logger script failures are reported to.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(w *Window) {
		w.logger = logger
	}
}

// WithLoader sets the loader scripts are fetched with. By default local
// files come from the OS filesystem and https sources from the network.
func WithLoader(l *loader.Loader) Option {
	return func(w *Window) {
		w.loader = l
	}
}

// WithTitle sets document.title.
func WithTitle(title string) Option {
	return func(w *Window) {
		w.title = title
	}
}

// WithReferrer sets document.referrer.
func WithReferrer(referrer string) Option {
	return func(w *Window) {
		w.referrer = referrer
	}
}

// New opens a page at location. The page runs until ctx is done or Close is
// called.
func New(ctx context.Context, location string, opts ...Option) (*Window, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid page location %q: %w", location, err)
	}

	w := &Window{location: u, timers: make(map[uint64]*time.Timer)}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		w.logger = l
	}
	w.logger = w.logger.WithField("component", "vm")
	if w.loader == nil {
		w.loader = loader.New(w.logger, loader.CreateFilesystems(afero.NewOsFs()), nil)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.loop = eventloop.New(func(err error) {
		w.logger.WithError(err).Error("Uncaught error on the event loop")
	})
	w.tq = taskqueue.New(w.loop.RegisterCallback)
	w.rt = goja.New()
	go w.loop.Run(w.ctx)

	if err := w.loop.Do(w.ctx, w.setupGlobals); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (w *Window) setupGlobals() error {
	if err := w.setupBrowser(w.rt.GlobalObject()); err != nil {
		return err
	}
	return w.setLocation()
}

// setLocation must run on the loop.
func (w *Window) setLocation() error {
	u := w.Location()
	location := w.rt.NewObject()
	for k, v := range map[string]string{
		"href":     u.String(),
		"protocol": u.Scheme + ":",
		"host":     u.Host,
		"hostname": u.Hostname(),
		"pathname": u.EscapedPath(),
		"search":   prefixed("?", u.RawQuery),
		"hash":     prefixed("#", u.EscapedFragment()),
	} {
		if err := location.Set(k, v); err != nil {
			return err
		}
	}
	if err := w.rt.Get("document").ToObject(w.rt).Set("location", location); err != nil {
		return err
	}
	return w.rt.Set("location", location)
}

func prefixed(prefix, s string) string {
	if s == "" {
		return ""
	}
	return prefix + s
}

// Navigate changes the location of the page without reloading it, like the
// history API does.
func (w *Window) Navigate(location string) error {
	u, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("invalid page location %q: %w", location, err)
	}
	w.mu.Lock()
	w.location = u
	w.mu.Unlock()
	return w.loop.Do(w.ctx, w.setLocation)
}

// Location implements bridge.Window.
func (w *Window) Location() *url.URL {
	w.mu.Lock()
	defer w.mu.Unlock()
	u := *w.location
	return &u
}

// Document implements bridge.Window.
func (w *Window) Document() bridge.Document {
	return w
}

// Vendor implements bridge.Window. The global counts as available once it
// has a count method; a plain settings object doesn't.
func (w *Window) Vendor() (bridge.Vendor, bool) {
	var v *jsVendor
	err := w.loop.Do(w.ctx, func() error {
		obj := w.rt.GlobalObject().Get(consts.VendorGlobal)
		if obj == nil || goja.IsUndefined(obj) || goja.IsNull(obj) {
			return nil
		}
		o := obj.ToObject(w.rt)
		if _, ok := goja.AssertFunction(o.Get("count")); !ok {
			return nil
		}
		v = &jsVendor{w: w, obj: o}
		return nil
	})
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// CreateScript implements bridge.Document.
func (w *Window) CreateScript() bridge.ScriptElement {
	return &Script{attrs: make(map[string]string)}
}

// AppendToHead implements bridge.Document. The script is fetched in the
// background; its load listeners fire after it ran.
func (w *Window) AppendToHead(el bridge.ScriptElement) error {
	s, ok := el.(*Script)
	if !ok {
		return fmt.Errorf("can't insert a %T into this page", el)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errClosed
	}
	w.scripts = append(w.scripts, s)
	w.fetches.Add(1)
	go w.fetchAndRun(s, *w.location)
	return nil
}

var errClosed = errors.New("the page is closed")

// Scripts returns the scripts inserted into the page.
func (w *Window) Scripts() []*Script {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Script(nil), w.scripts...)
}

func (w *Window) fetchAndRun(s *Script, base url.URL) {
	defer w.fetches.Done()

	src, _ := s.Attribute(consts.AttrSrc)
	logger := w.logger.WithField("src", src)
	ref, err := url.Parse(src)
	if err != nil {
		logger.WithError(err).Warn("Invalid script source")
		return
	}
	u := base.ResolveReference(ref)

	data, err := w.loader.Load(w.ctx, u)
	if err != nil {
		logger.WithError(err).Warn("Couldn't load the script")
		return
	}
	if integrity, _ := s.Attribute(consts.AttrIntegrity); integrity != "" {
		if err := sri.Verify(integrity, data.Data); err != nil {
			logger.WithError(err).WithField("integrity", integrity).
				Warn("Blocked the script, its content doesn't match the integrity attribute")
			return
		}
	}

	ran := make(chan struct{})
	w.tq.Queue(func() error {
		defer close(ran)
		w.runScript(s, u.String(), string(data.Data), logger)
		return nil
	})
	select {
	case <-ran:
	case <-w.ctx.Done():
		return
	}
	s.fireLoad()
}

// runScript must run on the loop.
func (w *Window) runScript(s *Script, name, src string, logger logrus.FieldLogger) {
	document := w.rt.Get("document").ToObject(w.rt)
	_ = document.Set("currentScript", s.jsObject(w.rt))
	defer func() {
		_ = document.Set("currentScript", goja.Null())
	}()

	if _, err := w.rt.RunScript(name, src); err != nil {
		logger.WithError(err).Warn("The script threw an exception")
	}
}

// Eval runs src in the page and returns its result exported to Go.
func (w *Window) Eval(ctx context.Context, src string) (interface{}, error) {
	var res interface{}
	err := w.loop.Do(ctx, func() error {
		v, err := w.rt.RunString(src)
		if err != nil {
			return err
		}
		res = v.Export()
		return nil
	})
	return res, err
}

// Close unloads the page. Pending fetches are abandoned and their load
// listeners never fire.
func (w *Window) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.stopTimers()
	w.mu.Unlock()

	w.cancel()
	w.fetches.Wait()
	w.tq.Close()
	<-w.loop.Done()
}

// Script is a script element of a Window.
type Script struct {
	mu        sync.Mutex
	attrs     map[string]string
	listeners []func()
	loaded    bool
}

var _ bridge.ScriptElement = &Script{}

// SetAttribute implements bridge.ScriptElement.
func (s *Script) SetAttribute(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[name] = value
}

// Attribute implements bridge.ScriptElement.
func (s *Script) Attribute(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[name]
	return v, ok
}

// AddLoadListener implements bridge.ScriptElement.
func (s *Script) AddLoadListener(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.listeners = append(s.listeners, fn)
	}
}

// Loaded reports whether the script ran.
func (s *Script) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *Script) fireLoad() {
	s.mu.Lock()
	s.loaded = true
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// jsObject is what document.currentScript returns while s runs.
func (s *Script) jsObject(rt *goja.Runtime) *goja.Object {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs := make(map[string]string, len(s.attrs))
	for k, v := range s.attrs {
		attrs[k] = v
	}
	dataset := rt.NewObject()
	if v, ok := attrs[consts.AttrEndpoint]; ok {
		_ = dataset.Set("goatcounter", v)
	}
	if v, ok := attrs[consts.AttrSettings]; ok {
		_ = dataset.Set("goatcounterSettings", v)
	}

	obj := rt.NewObject()
	_ = obj.Set("src", attrs[consts.AttrSrc])
	_ = obj.Set("async", hasKey(attrs, consts.AttrAsync))
	_ = obj.Set("dataset", dataset)
	_ = obj.Set("getAttribute", func(name string) goja.Value {
		if v, ok := attrs[name]; ok {
			return rt.ToValue(v)
		}
		return goja.Null()
	})
	return obj
}

func hasKey(m map[string]string, k string) bool {
	_, ok := m[k]
	return ok
}
