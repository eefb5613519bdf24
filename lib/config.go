/*
 *
 * k6 - a next-generation load testing tool
 * Copyright (C) 2016 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package lib

import (
	"bytes"
	"encoding/json"
	"strconv"

	"gopkg.in/guregu/null.v3"
)

// Settings are passed verbatim to the vendor script through the
// data-goatcounter-settings attribute.
type Settings struct {
	// Don't count the pageview when the script loads.
	NoOnload null.Bool `json:"no_onload" envconfig:"no_onload"`
	// Don't bind click events automatically.
	NoEvents null.Bool `json:"no_events" envconfig:"no_events"`
	// Send requests from localhost and private networks too.
	AllowLocal null.Bool `json:"allow_local" envconfig:"allow_local"`
	// Count pageviews inside iframes too.
	AllowFrame null.Bool `json:"allow_frame" envconfig:"allow_frame"`
	// Custom endpoint path, takes precedence over data-goatcounter.
	Endpoint null.String `json:"endpoint" envconfig:"endpoint"`
}

// Apply returns a copy of s with every field that is set in o overwritten.
func (s Settings) Apply(o Settings) Settings {
	if o.NoOnload.Valid {
		s.NoOnload = o.NoOnload
	}
	if o.NoEvents.Valid {
		s.NoEvents = o.NoEvents
	}
	if o.AllowLocal.Valid {
		s.AllowLocal = o.AllowLocal
	}
	if o.AllowFrame.Valid {
		s.AllowFrame = o.AllowFrame
	}
	if o.Endpoint.Valid {
		s.Endpoint = o.Endpoint
	}
	return s
}

type compactSettings struct {
	NoOnload   *bool   `json:"no_onload,omitempty"`
	NoEvents   *bool   `json:"no_events,omitempty"`
	AllowLocal *bool   `json:"allow_local,omitempty"`
	AllowFrame *bool   `json:"allow_frame,omitempty"`
	Endpoint   *string `json:"endpoint,omitempty"`
}

// MarshalJSON encodes only the fields that are set, so the vendor script
// applies its own defaults for the rest. An empty record encodes as {}.
func (s Settings) MarshalJSON() ([]byte, error) {
	return json.Marshal(compactSettings{
		NoOnload:   s.NoOnload.Ptr(),
		NoEvents:   s.NoEvents.Ptr(),
		AllowLocal: s.AllowLocal.Ptr(),
		AllowFrame: s.AllowFrame.Ptr(),
		Endpoint:   s.Endpoint.Ptr(),
	})
}

// NullVersion is a script version identifier. In JSON it can be written as a
// string or as a number; numbers are kept in their textual form.
type NullVersion struct {
	null.String
}

// NewNullVersion creates a NullVersion.
func NewNullVersion(v string, valid bool) NullVersion {
	return NullVersion{null.NewString(v, valid)}
}

// NullVersionFrom creates a valid NullVersion.
func NullVersionFrom(v string) NullVersion {
	return NewNullVersion(v, true)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *NullVersion) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == '"' || bytes.Equal(data, []byte("null")) {
		return v.String.UnmarshalJSON(data)
	}
	// numbers are versions as written in a JSON file, so 4.0 is version 4
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = NullVersionFrom(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// Config is the configuration of a script bridge. Every field is optional;
// see Apply for how partial configs combine.
type Config struct {
	// Script source URL; only used when an integrity hash is known.
	Src null.String `json:"src" envconfig:"src"`
	// Integrity hash, overrides the version table lookup.
	Integrity null.String `json:"integrity" envconfig:"integrity"`
	// Script version, used to build the pinned URL and look up its hash.
	Version NullVersion `json:"version" envconfig:"version"`
	// Value of data-goatcounter.
	Endpoint null.String `json:"endpoint" envconfig:"endpoint"`

	Settings Settings `json:"settings" envconfig:"settings"`
}

// Apply returns a copy of c where every field set in cfg wins. Settings are
// merged field by field the same way.
func (c Config) Apply(cfg Config) Config {
	if cfg.Src.Valid {
		c.Src = cfg.Src
	}
	if cfg.Integrity.Valid {
		c.Integrity = cfg.Integrity
	}
	if cfg.Version.Valid {
		c.Version = cfg.Version
	}
	if cfg.Endpoint.Valid {
		c.Endpoint = cfg.Endpoint
	}
	c.Settings = c.Settings.Apply(cfg.Settings)
	return c
}
