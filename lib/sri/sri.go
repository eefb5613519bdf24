// Package sri maps script versions to subresource integrity hashes and
// computes and verifies those hashes.
package sri

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

//go:embed versions.json
var defaultTable []byte

// ErrMismatch is returned by Verify when no hash matches the content.
var ErrMismatch = errors.New("integrity hash does not match content")

// Table maps a version identifier to the integrity hash of that version of
// the script.
type Table map[string]string

// Default returns the table of known script versions bundled with gcbridge.
func Default() Table {
	t := Table{}
	if err := json.Unmarshal(defaultTable, &t); err != nil {
		panic(fmt.Sprintf("corrupt embedded version table: %s", err))
	}
	return t
}

// Load reads a table from a JSON or YAML file, chosen by extension.
func Load(fs afero.Fs, path string) (Table, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read version table: %w", err)
	}
	t := Table{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &t)
	default:
		err = json.Unmarshal(data, &t)
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't parse version table %s: %w", path, err)
	}
	return t, nil
}

// Merge returns a new table with the entries of o added to (and overriding)
// those of t.
func (t Table) Merge(o Table) Table {
	res := make(Table, len(t)+len(o))
	for k, v := range t {
		res[k] = v
	}
	for k, v := range o {
		res[k] = v
	}
	return res
}

// Lookup returns the integrity hash of version, if known.
func (t Table) Lookup(version string) (string, bool) {
	h, ok := t[version]
	if !ok || h == "" {
		return "", false
	}
	return h, true
}

// Versions returns the known versions in sorted order.
func (t Table) Versions() []string {
	res := make([]string, 0, len(t))
	for k := range t {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

var algorithms = []struct {
	name string
	new  func() hash.Hash
}{
	// ordered from weakest to strongest
	{"sha256", sha256.New},
	{"sha384", sha512.New384},
	{"sha512", sha512.New},
}

// Compute returns the sha384 integrity hash of data, in the same form as an
// integrity attribute.
func Compute(data []byte) string {
	return digest("sha384", sha512.New384, data)
}

func digest(name string, newHash func() hash.Hash, data []byte) string {
	h := newHash()
	_, _ = h.Write(data)
	return name + "-" + base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Verify checks data against an integrity attribute value. The attribute may
// hold several whitespace separated hashes; only the ones using the strongest
// algorithm present are considered and any of them matching is enough. An
// attribute without any supported hash does not restrict the content.
func Verify(integrity string, data []byte) error {
	tokens := make(map[string][]string)
	for _, token := range strings.Fields(integrity) {
		alg, value, ok := strings.Cut(token, "-")
		if !ok {
			continue
		}
		value, _, _ = strings.Cut(value, "?")
		tokens[alg] = append(tokens[alg], value)
	}

	for i := len(algorithms) - 1; i >= 0; i-- {
		alg := algorithms[i]
		expected, ok := tokens[alg.name]
		if !ok {
			continue
		}
		actual := strings.TrimPrefix(digest(alg.name, alg.new, data), alg.name+"-")
		for _, e := range expected {
			if subtle.ConstantTimeCompare([]byte(e), []byte(actual)) == 1 {
				return nil
			}
		}
		return fmt.Errorf("%w: expected %s-%s", ErrMismatch, alg.name, strings.Join(expected, " "))
	}
	return nil
}
