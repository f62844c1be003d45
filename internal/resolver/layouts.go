package resolver

import "path/filepath"

// Relative locations inside a resources root.
const (
	unifiedBinariesRoot = "binaries"
	devResourceRoot     = "src-tauri"
	binaryDirName       = "bin"
	systemInterpreter   = "python3"
	downloadStep        = "scripts/download-binaries.sh"
)

// bundledTargets lists the target triples a bundled runtime may be built for.
// Order is priority order.
var bundledTargets = []string{
	"aarch64-apple-darwin",
	"x86_64-apple-darwin",
	"x86_64-pc-windows-msvc",
	"aarch64-unknown-linux-gnu",
	"x86_64-unknown-linux-gnu",
}

// runtimeLayout describes one family of interpreter locations below the
// resources root: every dir in dirs is joined with every subPath, under the
// first root in roots that exists. Layouts with requireRoot contribute no
// candidates when none of their roots exist; they also double as the aux
// binary directory.
type runtimeLayout struct {
	name        string
	roots       []string
	dirs        []string
	subPaths    []string
	requireRoot bool
}

// runtimeLayouts is checked in order: the unified binaries root first, then
// the legacy bin roots kept for older bundles.
var runtimeLayouts = []runtimeLayout{
	{
		name:     "binaries",
		roots:    []string{unifiedBinariesRoot},
		dirs:     targetDirs("python-", bundledTargets),
		subPaths: []string{"bin/python3", "bin/python", "python.exe", "python3.exe"},
	},
	{
		name:        "legacy",
		roots:       []string{"bin", "src-tauri/bin"},
		dirs:        []string{"python"},
		subPaths:    []string{"python.exe", "python", "python3", "bin/python3", "bin/python"},
		requireRoot: true,
	},
}

func targetDirs(prefix string, targets []string) []string {
	dirs := make([]string, 0, len(targets))
	for _, target := range targets {
		dirs = append(dirs, prefix+target)
	}
	return dirs
}

// auxTool maps a (GOOS, GOARCH) pair to the bundled codec binary name.
type auxTool struct {
	goos   string
	goarch string
	binary string
}

// ffmpegBinaries carries exactly one entry per supported platform pair.
var ffmpegBinaries = []auxTool{
	{goos: "windows", goarch: "amd64", binary: "ffmpeg-x86_64-pc-windows-msvc.exe"},
	{goos: "darwin", goarch: "arm64", binary: "ffmpeg-aarch64-apple-darwin"},
	{goos: "darwin", goarch: "amd64", binary: "ffmpeg-x86_64-apple-darwin"},
	{goos: "linux", goarch: "arm64", binary: "ffmpeg-aarch64-unknown-linux-gnu"},
	{goos: "linux", goarch: "amd64", binary: "ffmpeg-x86_64-unknown-linux-gnu"},
}

// genericFFmpeg is used for unrecognised platforms. Nothing is bundled under
// that name, so lookup simply comes back empty.
const genericFFmpeg = "ffmpeg"

// AuxToolName returns the bundled ffmpeg binary name for a platform pair.
func AuxToolName(goos, goarch string) string {
	for _, tool := range ffmpegBinaries {
		if tool.goos == goos && tool.goarch == goarch {
			return tool.binary
		}
	}
	return genericFFmpeg
}

// DeriveRuntimeHome returns the interpreter's home directory: the grandparent
// when the interpreter sits in a "bin" directory, otherwise its parent.
func DeriveRuntimeHome(interpreter string) string {
	if interpreter == "" {
		return ""
	}
	parent := filepath.Dir(interpreter)
	if parent == "." || parent == "" {
		return ""
	}
	if filepath.Base(parent) == binaryDirName {
		return filepath.Dir(parent)
	}
	return parent
}
