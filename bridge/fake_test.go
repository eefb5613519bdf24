package bridge

import (
	"net/url"
	"sync"

	"gopkg.in/guregu/null.v3"
)

type fakeScript struct {
	mu        sync.Mutex
	attrs     map[string]string
	order     []string
	listeners []func()
}

func (s *fakeScript) SetAttribute(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attrs[name]; !ok {
		s.order = append(s.order, name)
	}
	s.attrs[name] = value
}

func (s *fakeScript) Attribute(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[name]
	return v, ok
}

func (s *fakeScript) AddLoadListener(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *fakeScript) fireLoad() {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

type fakeWindow struct {
	mu        sync.Mutex
	location  *url.URL
	vendor    Vendor
	head      []*fakeScript
	appendErr error
}

func newFakeWindow(location string) *fakeWindow {
	w := &fakeWindow{}
	w.navigate(location)
	return w
}

func (w *fakeWindow) Document() Document { return w }

func (w *fakeWindow) CreateScript() ScriptElement {
	return &fakeScript{attrs: make(map[string]string)}
}

func (w *fakeWindow) AppendToHead(el ScriptElement) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.appendErr != nil {
		return w.appendErr
	}
	w.head = append(w.head, el.(*fakeScript)) //nolint:forcetypeassert
	return nil
}

func (w *fakeWindow) Vendor() (Vendor, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vendor, w.vendor != nil
}

func (w *fakeWindow) Location() *url.URL {
	w.mu.Lock()
	defer w.mu.Unlock()
	u := *w.location
	return &u
}

func (w *fakeWindow) navigate(location string) {
	u, err := url.Parse(location)
	if err != nil {
		panic(err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.location = u
}

func (w *fakeWindow) scripts() []*fakeScript {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*fakeScript(nil), w.head...)
}

// finishLoading installs v (if not nil) as the global and fires the load
// event of every script in the head.
func (w *fakeWindow) finishLoading(v Vendor) {
	w.mu.Lock()
	if v != nil {
		w.vendor = v
	}
	head := append([]*fakeScript(nil), w.head...)
	w.mu.Unlock()
	for _, s := range head {
		s.fireLoad()
	}
}

type fakeVendor struct {
	mu      sync.Mutex
	counted []Params
	urls    []Params
	bound   int
	filter  null.String
	query   map[string]string
	err     error
}

func (v *fakeVendor) Count(p Params) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return v.err
	}
	v.counted = append(v.counted, p)
	return nil
}

func (v *fakeVendor) URL(p Params) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return "", v.err
	}
	v.urls = append(v.urls, p)
	return "https://example.goatcounter.com/count?p=" + url.QueryEscape(p.Path.String), nil
}

func (v *fakeVendor) Filter() (null.String, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter, v.err
}

func (v *fakeVendor) BindEvents() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bound++
	return v.err
}

func (v *fakeVendor) GetQuery(name string) (null.String, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return null.String{}, v.err
	}
	q, ok := v.query[name]
	return null.NewString(q, ok), nil
}

func (v *fakeVendor) countedPaths() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	paths := make([]string, len(v.counted))
	for i, p := range v.counted {
		paths[i] = p.Path.String
	}
	return paths
}
