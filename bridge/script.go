package bridge

import (
	"encoding/json"

	"github.com/liuxd6825/gcbridge/lib"
	"github.com/liuxd6825/gcbridge/lib/consts"
)

// VersionTable resolves the integrity hash of a script version.
type VersionTable interface {
	Lookup(version string) (string, bool)
}

// Attribute is one attribute of the injected script element.
type Attribute struct {
	Name  string
	Value string
}

// Source is where the script is loaded from.
type Source struct {
	URL string
	// Integrity is empty for the unpinned script.
	Integrity string
}

// Pinned reports whether the source is checked against an integrity hash.
func (s Source) Pinned() bool {
	return s.Integrity != ""
}

// ScriptSource picks the script URL for cfg. The versioned (or overridden)
// URL is only used when an integrity hash for it is known, either from cfg
// or from versions; anything else falls back to the unpinned default.
func ScriptSource(cfg lib.Config, versions VersionTable) Source {
	if !cfg.Version.Valid && !cfg.Src.Valid {
		return Source{URL: consts.DefaultScriptURL}
	}

	integrity := cfg.Integrity.ValueOrZero()
	if integrity == "" && cfg.Version.Valid && versions != nil {
		integrity, _ = versions.Lookup(cfg.Version.ValueOrZero())
	}
	if integrity == "" {
		return Source{URL: consts.DefaultScriptURL}
	}

	src := cfg.Src.ValueOrZero()
	if src == "" {
		if !cfg.Version.Valid {
			return Source{URL: consts.DefaultScriptURL}
		}
		src = consts.VersionedScript(cfg.Version.ValueOrZero())
	}
	return Source{URL: src, Integrity: integrity}
}

// ScriptAttributes returns the attributes of the script element for cfg in
// the order they are set.
func ScriptAttributes(cfg lib.Config, versions VersionTable) ([]Attribute, error) {
	settings, err := json.Marshal(cfg.Settings)
	if err != nil {
		return nil, err
	}

	attrs := []Attribute{
		{consts.AttrAsync, ""},
		{consts.AttrEndpoint, cfg.Endpoint.ValueOrZero()},
		{consts.AttrSettings, string(settings)},
	}

	source := ScriptSource(cfg, versions)
	attrs = append(attrs, Attribute{consts.AttrSrc, source.URL})
	if source.Pinned() {
		attrs = append(attrs,
			Attribute{consts.AttrCrossOrigin, "anonymous"},
			Attribute{consts.AttrIntegrity, source.Integrity},
		)
	}
	return attrs, nil
}
