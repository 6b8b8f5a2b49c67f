package backend

import (
	"runtime"

	apperrors "github.com/trybeacon/bridge/internal/errors"
)

// BinaryPrefix is the file name prefix of every bundled backend binary.
const BinaryPrefix = "beacon-backend"

// Platform identifies which bundled binary to run.
type Platform struct {
	OS   string
	Arch string
}

var (
	supportedOS   = map[string]bool{"linux": true, "darwin": true, "windows": true}
	supportedArch = map[string]bool{"amd64": true, "arm64": true}
)

// ResolvePlatform maps a GOOS/GOARCH pair to a supported platform.
func ResolvePlatform(goos, goarch string) (Platform, error) {
	if !supportedOS[goos] || !supportedArch[goarch] {
		return Platform{}, apperrors.UnsupportedPlatform(goos, goarch)
	}
	return Platform{OS: goos, Arch: goarch}, nil
}

// CurrentPlatform resolves the platform this process runs on.
func CurrentPlatform() (Platform, error) {
	return ResolvePlatform(runtime.GOOS, runtime.GOARCH)
}

// BinaryName is the bundled and staged file name, e.g.
// "beacon-backend-linux-amd64" or "beacon-backend-windows-amd64.exe".
func (p Platform) BinaryName() string {
	name := BinaryPrefix + "-" + p.OS + "-" + p.Arch
	if p.OS == "windows" {
		name += ".exe"
	}
	return name
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}
