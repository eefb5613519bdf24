// Package dom implements a bridge.Window over a parsed HTML document. It is
// meant for server-side injection: scripts are inserted into the markup and
// only "load" when Complete is called.
package dom

import (
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/liuxd6825/gcbridge/bridge"
	"github.com/liuxd6825/gcbridge/lib/consts"
)

// Window is a page backed by a goquery document.
type Window struct {
	mu       sync.Mutex
	doc      *goquery.Document
	location *url.URL
	vendor   bridge.Vendor
	pending  []*Script
}

var (
	_ bridge.Window   = &Window{}
	_ bridge.Document = &Window{}
)

// New parses the page read from r, served from location.
func New(r io.Reader, location string) (*Window, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse the page: %w", err)
	}
	w := &Window{doc: doc}
	if err := w.Navigate(location); err != nil {
		return nil, err
	}
	return w, nil
}

// Navigate changes the location of the page.
func (w *Window) Navigate(location string) error {
	u, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("invalid page location %q: %w", location, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.location = u
	return nil
}

// Location implements bridge.Window.
func (w *Window) Location() *url.URL {
	w.mu.Lock()
	defer w.mu.Unlock()
	u := *w.location
	return &u
}

// SetVendor installs v as the vendor global, as if another script on the
// page had already defined it.
func (w *Window) SetVendor(v bridge.Vendor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.vendor = v
}

// Vendor implements bridge.Window.
func (w *Window) Vendor() (bridge.Vendor, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vendor, w.vendor != nil
}

// Document implements bridge.Window.
func (w *Window) Document() bridge.Document {
	return w
}

// CreateScript implements bridge.Document.
func (w *Window) CreateScript() bridge.ScriptElement {
	return &Script{node: &html.Node{
		Type:     html.ElementNode,
		Data:     atom.Script.String(),
		DataAtom: atom.Script,
	}}
}

// AppendToHead implements bridge.Document. Only scripts created by this
// package can be inserted. Parsing always creates a head element, even for a
// fragment, so there is one to append to.
func (w *Window) AppendToHead(el bridge.ScriptElement) error {
	s, ok := el.(*Script)
	if !ok {
		return fmt.Errorf("can't insert a %T into an HTML document", el)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	head := w.doc.Find("head").First()
	s.mu.Lock()
	head.AppendNodes(s.node)
	s.mu.Unlock()
	w.pending = append(w.pending, s)
	return nil
}

// Complete simulates the browser finishing to load the inserted scripts:
// v, if not nil, becomes the vendor global and then the load listeners of
// every script inserted since the last call fire. It returns how many
// scripts were loaded.
func (w *Window) Complete(v bridge.Vendor) int {
	w.mu.Lock()
	if v != nil {
		w.vendor = v
	}
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, s := range pending {
		s.fireLoad()
	}
	return len(pending)
}

// HTML renders the current document.
func (w *Window) HTML() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doc.Html()
}

// ScriptInfo describes a GoatCounter script element found in the page.
type ScriptInfo struct {
	Src           string                 `json:"src" yaml:"src"`
	Async         bool                   `json:"async" yaml:"async"`
	CrossOrigin   string                 `json:"crossorigin,omitempty" yaml:"crossorigin,omitempty"`
	Integrity     string                 `json:"integrity,omitempty" yaml:"integrity,omitempty"`
	Endpoint      string                 `json:"endpoint" yaml:"endpoint"`
	Settings      map[string]interface{} `json:"settings,omitempty" yaml:"settings,omitempty"`
	SettingsError string                 `json:"settings_error,omitempty" yaml:"settings_error,omitempty"`
}

// Pinned reports whether the script is loaded with an integrity check.
func (si ScriptInfo) Pinned() bool {
	return si.Integrity != ""
}

// Scripts returns every element carrying a data-goatcounter attribute, in
// document order.
func (w *Window) Scripts() []ScriptInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	var res []ScriptInfo
	w.doc.Find("script[" + consts.AttrEndpoint + "]").Each(func(_ int, sel *goquery.Selection) {
		info := ScriptInfo{
			Src:         sel.AttrOr(consts.AttrSrc, ""),
			CrossOrigin: sel.AttrOr(consts.AttrCrossOrigin, ""),
			Integrity:   sel.AttrOr(consts.AttrIntegrity, ""),
			Endpoint:    sel.AttrOr(consts.AttrEndpoint, ""),
		}
		_, info.Async = sel.Attr(consts.AttrAsync)

		if raw, ok := sel.Attr(consts.AttrSettings); ok && raw != "" {
			settings := gjson.Parse(raw)
			switch {
			case !gjson.Valid(raw):
				info.SettingsError = "invalid JSON"
			case !settings.IsObject():
				info.SettingsError = "not a JSON object"
			default:
				info.Settings, _ = settings.Value().(map[string]interface{})
			}
		}
		res = append(res, info)
	})
	return res
}

// Script is a script element of a Window.
type Script struct {
	mu        sync.Mutex
	node      *html.Node
	listeners []func()
	loaded    bool
}

var _ bridge.ScriptElement = &Script{}

// SetAttribute implements bridge.ScriptElement.
func (s *Script) SetAttribute(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, attr := range s.node.Attr {
		if attr.Key == name && attr.Namespace == "" {
			s.node.Attr[i].Val = value
			return
		}
	}
	s.node.Attr = append(s.node.Attr, html.Attribute{Key: name, Val: value})
}

// Attribute implements bridge.ScriptElement.
func (s *Script) Attribute(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, attr := range s.node.Attr {
		if attr.Key == name && attr.Namespace == "" {
			return attr.Val, true
		}
	}
	return "", false
}

// AddLoadListener implements bridge.ScriptElement. Listeners added after
// the script loaded never fire, like in a browser.
func (s *Script) AddLoadListener(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.listeners = append(s.listeners, fn)
	}
}

func (s *Script) fireLoad() {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return
	}
	s.loaded = true
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
