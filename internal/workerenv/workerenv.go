// Package workerenv derives the worker's environment from the host's.
package workerenv

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/text/unicode/norm"

	"harmonix/internal/resolver"
)

// Variables the worker reads.
const (
	VarBinDir         = "SOUNDCONVERTER_BIN_DIR"
	VarFFmpegBinary   = "FFMPEG_BINARY"
	VarPythonHome     = "PYTHONHOME"
	VarUnbuffered     = "PYTHONUNBUFFERED"
	VarDontWriteCache = "PYTHONDONTWRITEBYTECODE"
	VarPath           = "PATH"
)

type options struct {
	goos string
}

// Option customizes Build.
type Option func(*options)

// WithGOOS selects the PATH conventions of another platform.
func WithGOOS(goos string) Option {
	return func(o *options) {
		if goos != "" {
			o.goos = goos
		}
	}
}

// Build returns the worker environment: base plus the variables derived from
// env. base is never modified. Entries in base that Build overrides are
// replaced in place so the result holds each key once.
func Build(base []string, env *resolver.Environment, opts ...Option) []string {
	o := options{goos: runtime.GOOS}
	for _, opt := range opts {
		opt(&o)
	}

	vars := newEnvList(base, o.goos == "windows")

	// A located aux tool's directory wins over the bin root.
	switch {
	case env.AuxToolPath != "":
		vars.set(VarBinDir, filepath.Dir(env.AuxToolPath))
	case env.AuxBinDir != "":
		vars.set(VarBinDir, env.AuxBinDir)
	}
	if env.AuxToolPath != "" {
		vars.set(VarFFmpegBinary, env.AuxToolPath)
	}
	if env.UsesBundledRuntime && env.RuntimeHome != "" {
		vars.set(VarPythonHome, env.RuntimeHome)
	}
	vars.set(VarUnbuffered, "1")
	vars.set(VarDontWriteCache, "1")

	var prepend []string
	if env.AuxToolPath != "" {
		prepend = append(prepend, filepath.Dir(env.AuxToolPath))
	}
	if env.AuxBinDir != "" {
		prepend = append(prepend, env.AuxBinDir)
	}
	if len(prepend) > 0 {
		existing, _ := vars.get(VarPath)
		vars.set(VarPath, MergePath(prepend, existing, o.goos))
	}
	return vars.entries
}

// MergePath puts the prepend entries that are not already on PATH ahead of
// existing, which is kept verbatim: its order, duplicates and empty entries
// survive. Membership is tested after cleaning and NFC normalization, and
// case-insensitively on Windows.
func MergePath(prepend []string, existing string, goos string) string {
	sep := string(os.PathListSeparator)
	if goos == "windows" {
		sep = ";"
	} else if goos != "" {
		sep = ":"
	}
	foldCase := goos == "windows"

	seen := make(map[string]struct{})
	if existing != "" {
		for _, entry := range strings.Split(existing, sep) {
			if entry != "" {
				seen[pathKey(entry, foldCase)] = struct{}{}
			}
		}
	}
	var added []string
	for _, entry := range prepend {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		key := pathKey(entry, foldCase)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		added = append(added, entry)
	}
	if len(added) == 0 {
		return existing
	}
	if existing == "" {
		return strings.Join(added, sep)
	}
	return strings.Join(added, sep) + sep + existing
}

func pathKey(entry string, foldCase bool) string {
	key := norm.NFC.String(filepath.Clean(entry))
	key = strings.TrimRight(key, `/\`)
	if key == "" {
		key = "/"
	}
	if foldCase {
		key = strings.ToLower(key)
	}
	return key
}

// Lookup returns the value of key in an environment list.
func Lookup(environ []string, key string) (string, bool) {
	return newEnvList(environ, runtime.GOOS == "windows").get(key)
}

// envList is a KEY=value slice with keyed replace.
type envList struct {
	entries  []string
	foldCase bool
}

func newEnvList(base []string, foldCase bool) *envList {
	entries := make([]string, len(base))
	copy(entries, base)
	return &envList{entries: entries, foldCase: foldCase}
}

func (l *envList) index(key string) int {
	for i, entry := range l.entries {
		name, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if name == key || (l.foldCase && strings.EqualFold(name, key)) {
			return i
		}
	}
	return -1
}

func (l *envList) get(key string) (string, bool) {
	if i := l.index(key); i >= 0 {
		_, value, _ := strings.Cut(l.entries[i], "=")
		return value, true
	}
	return "", false
}

func (l *envList) set(key, value string) {
	entry := key + "=" + value
	if i := l.index(key); i >= 0 {
		l.entries[i] = entry
		return
	}
	l.entries = append(l.entries, entry)
}
