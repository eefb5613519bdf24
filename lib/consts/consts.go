// Package consts houses some constants needed across gcbridge
package consts

import (
	"fmt"
	"runtime"
)

// Version contains the current semantic version of gcbridge.
const Version = "0.3.0"

// BinaryName is the name the command reports for itself.
const BinaryName = "gcbridge"

// Vendor script locations.
const (
	// DefaultScriptURL is the unpinned script, loaded without integrity checks.
	DefaultScriptURL = "https://gc.zgo.at/count.js"
	// VersionedScriptURL is formatted with a version identifier.
	VersionedScriptURL = "https://gc.zgo.at/count.v%s.js"
)

// Attributes of the injected script element that the vendor script reads.
const (
	AttrAsync       = "async"
	AttrEndpoint    = "data-goatcounter"
	AttrSettings    = "data-goatcounter-settings"
	AttrSrc         = "src"
	AttrCrossOrigin = "crossorigin"
	AttrIntegrity   = "integrity"
)

// VendorGlobal is the name of the global the vendor script defines.
const VendorGlobal = "goatcounter"

// FullVersion returns the maximally full version and build information for
// the currently running binary.
func FullVersion() string {
	return fmt.Sprintf("%s (%s, %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// VersionDetails returns the version details as a map.
func VersionDetails() map[string]string {
	return map[string]string{
		"version":    Version,
		"go_version": runtime.Version(),
		"go_os":      runtime.GOOS,
		"go_arch":    runtime.GOARCH,
	}
}

// VersionedScript returns the pinned script URL for the given version.
func VersionedScript(version string) string {
	return fmt.Sprintf(VersionedScriptURL, version)
}
