package bridge

import (
	"net/url"

	"gopkg.in/guregu/null.v3"
)

// Window is the page a Bridge injects into.
type Window interface {
	Document() Document
	// Vendor returns the vendor global, if the page has one.
	Vendor() (Vendor, bool)
	// Location is the current page URL. It can change between calls.
	Location() *url.URL
}

// Document creates and inserts script elements.
type Document interface {
	CreateScript() ScriptElement
	AppendToHead(el ScriptElement) error
}

// ScriptElement is a <script> element that has not necessarily been
// inserted yet.
type ScriptElement interface {
	SetAttribute(name, value string)
	Attribute(name string) (string, bool)
	// AddLoadListener registers fn to be called once the script has loaded.
	AddLoadListener(fn func())
}

// Vendor is the global object the vendor script defines once it has run.
// Implementations are owned by the page, not by the Bridge.
type Vendor interface {
	Count(p Params) error
	URL(p Params) (string, error)
	// Filter returns the reason the request would be filtered, or an
	// invalid string if it wouldn't be.
	Filter() (null.String, error)
	BindEvents() error
	// GetQuery returns a query parameter of the current page, or an invalid
	// string if it is absent.
	GetQuery(name string) (null.String, error)
}

// Params are the data parameters of Count and URL. Unset fields are not sent.
type Params struct {
	Path     null.String `json:"path"`
	Title    null.String `json:"title"`
	Referrer null.String `json:"referrer"`
	Event    null.Bool   `json:"event"`
}

// Map returns the set fields keyed by their vendor names.
func (p Params) Map() map[string]interface{} {
	m := make(map[string]interface{}, 4)
	if p.Path.Valid {
		m["path"] = p.Path.String
	}
	if p.Title.Valid {
		m["title"] = p.Title.String
	}
	if p.Referrer.Valid {
		m["referrer"] = p.Referrer.String
	}
	if p.Event.Valid {
		m["event"] = p.Event.Bool
	}
	return m
}

// PagePath returns the path, query and fragment of u the way the page
// location reports them: "/a/b?x=1#y".
func PagePath(u *url.URL) string {
	if u == nil {
		return ""
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		p += "#" + u.EscapedFragment()
	}
	return p
}
