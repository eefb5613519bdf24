package vm

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/liuxd6825/gcbridge/lib/consts"
)

// Screen size reported to scripts.
const (
	screenWidth  = 1920
	screenHeight = 1080
)

// setupBrowser defines the parts of the browser environment the vendor
// script reads. It must run on the loop.
func (w *Window) setupBrowser(global *goja.Object) error {
	document, err := w.newDocument()
	if err != nil {
		return err
	}

	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	globals := map[string]interface{}{
		"document":            document,
		"navigator":           w.newNavigator(),
		"screen":              map[string]interface{}{"width": screenWidth, "height": screenHeight},
		"devicePixelRatio":    1,
		"localStorage":        w.newStorage(),
		"console":             w.newConsole(),
		"addEventListener":    noop,
		"removeEventListener": noop,
		"setTimeout":          w.setTimeout,
		"clearTimeout":        w.clearTimeout,
	}
	for k, v := range globals {
		if err := global.Set(k, v); err != nil {
			return fmt.Errorf("error setting up %q globally: %w", k, err)
		}
	}
	// a top level page is its own parent
	for _, k := range []string{"window", "self", "top", "parent"} {
		if err := global.Set(k, global); err != nil {
			return err
		}
	}
	return nil
}

func (w *Window) newDocument() (*goja.Object, error) {
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	document := w.rt.NewObject()
	for k, v := range map[string]interface{}{
		"currentScript":       goja.Null(),
		"title":               w.title,
		"referrer":            w.referrer,
		"visibilityState":     "visible",
		"readyState":          "complete",
		"head":                w.newContainer(),
		"body":                w.newContainer(),
		"createElement":       w.createElement,
		"querySelector":       w.querySelector,
		"querySelectorAll":    w.querySelectorAll,
		"addEventListener":    noop,
		"removeEventListener": noop,
	} {
		if err := document.Set(k, v); err != nil {
			return nil, err
		}
	}
	return document, nil
}

// newContainer is an element other elements can be appended to. Appending an
// element with a src requests it, which is how pixels are sent.
func (w *Window) newContainer() *goja.Object {
	obj := w.rt.NewObject()
	_ = obj.Set("appendChild", func(el *goja.Object) *goja.Object {
		if el == nil {
			return nil
		}
		if src := el.Get("src"); src != nil && !goja.IsUndefined(src) && src.String() != "" {
			w.request(src.String())
		}
		_ = el.Set("parentNode", obj)
		return el
	})
	_ = obj.Set("removeChild", func(el *goja.Object) *goja.Object {
		if el != nil {
			_ = el.Set("parentNode", goja.Null())
		}
		return el
	})
	return obj
}

// createElement returns a detached element; only its attributes and style
// are kept.
func (w *Window) createElement(tag string) *goja.Object {
	attrs := make(map[string]string)
	el := w.rt.NewObject()
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	_ = el.Set("tagName", strings.ToUpper(tag))
	_ = el.Set("style", w.rt.NewObject())
	_ = el.Set("parentNode", goja.Null())
	_ = el.Set("setAttribute", func(name, value string) {
		attrs[name] = value
	})
	_ = el.Set("getAttribute", func(name string) goja.Value {
		if v, ok := attrs[name]; ok {
			return w.rt.ToValue(v)
		}
		return goja.Null()
	})
	_ = el.Set("addEventListener", noop)
	_ = el.Set("removeEventListener", noop)
	return el
}

func (w *Window) matchScripts(selector string) ([]*Script, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("'%s' is not a valid selector: %w", selector, err)
	}
	var res []*Script
	for _, s := range w.Scripts() {
		if sel.Match(s.node()) {
			res = append(res, s)
		}
	}
	return res, nil
}

// querySelector searches the inserted scripts, the only elements the page
// has.
func (w *Window) querySelector(selector string) (goja.Value, error) {
	scripts, err := w.matchScripts(selector)
	if err != nil {
		return nil, err
	}
	if len(scripts) == 0 {
		return goja.Null(), nil
	}
	return scripts[0].jsObject(w.rt), nil
}

func (w *Window) querySelectorAll(selector string) (*goja.Object, error) {
	scripts, err := w.matchScripts(selector)
	if err != nil {
		return nil, err
	}
	items := make([]interface{}, len(scripts))
	for i, s := range scripts {
		items[i] = s.jsObject(w.rt)
	}
	return w.rt.NewArray(items...), nil
}

func (w *Window) newNavigator() *goja.Object {
	navigator := w.rt.NewObject()
	_ = navigator.Set("userAgent", consts.BinaryName+"/"+consts.Version)
	_ = navigator.Set("language", "en-US")
	_ = navigator.Set("webdriver", false)
	_ = navigator.Set("sendBeacon", func(url string) bool {
		w.request(url)
		return true
	})
	return navigator
}

// newStorage is a localStorage that lasts as long as the page.
func (w *Window) newStorage() *goja.Object {
	items := make(map[string]string)
	storage := w.rt.NewObject()
	_ = storage.Set("getItem", func(k string) goja.Value {
		if v, ok := items[k]; ok {
			return w.rt.ToValue(v)
		}
		return goja.Null()
	})
	_ = storage.Set("setItem", func(k, v string) {
		items[k] = v
	})
	_ = storage.Set("removeItem", func(k string) {
		delete(items, k)
	})
	return storage
}

// newConsole sends console output of the page scripts to the logger.
func (w *Window) newConsole() *goja.Object {
	logger := w.logger.WithField("source", "console")
	join := func(call goja.FunctionCall) string {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		return strings.Join(parts, " ")
	}
	console := w.rt.NewObject()
	for name, log := range map[string]func(...interface{}){
		"log":   logger.Debug,
		"debug": logger.Debug,
		"info":  logger.Info,
		"warn":  logger.Warn,
		"error": logger.Error,
	} {
		log := log
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			log(join(call))
			return goja.Undefined()
		})
	}
	return console
}

func (w *Window) request(url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = append(w.requests, url)
	w.logger.WithField("url", url).Debug("Page request")
}

// Requests returns the URLs the page sent hits to, through sendBeacon or by
// appending an element with a src.
func (w *Window) Requests() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.requests...)
}

func (w *Window) setTimeout(callback goja.Callable, delay float64, args ...goja.Value) uint64 {
	if callback == nil {
		panic(w.rt.NewTypeError("setTimeout's callback isn't a callable function"))
	}
	if delay < 0 || math.IsNaN(delay) {
		delay = 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.timerID++
	id := w.timerID
	if w.closed {
		return id
	}
	task := func() error {
		w.mu.Lock()
		_, active := w.timers[id]
		delete(w.timers, id)
		w.mu.Unlock()
		if !active {
			return nil
		}
		_, err := callback(w.rt.GlobalObject(), args...)
		return err
	}
	w.timers[id] = time.AfterFunc(time.Duration(delay*float64(time.Millisecond)), func() {
		w.tq.Queue(task)
	})
	return id
}

func (w *Window) clearTimeout(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[id]; ok {
		t.Stop()
		delete(w.timers, id)
	}
}

// stopTimers must be called with w.mu held.
func (w *Window) stopTimers() {
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
}

// node is s as an HTML element, for selector matching.
func (s *Script) node() *html.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := &html.Node{Type: html.ElementNode, Data: atom.Script.String(), DataAtom: atom.Script}
	for k, v := range s.attrs {
		n.Attr = append(n.Attr, html.Attribute{Key: k, Val: v})
	}
	return n
}
