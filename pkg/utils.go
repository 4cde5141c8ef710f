package pkg

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// rootMarkers are checked in order in every directory while searching for the project root
var rootMarkers = []string{
	"build.star",
	filepath.Join("third_party", "skia"),
	".git",
}

// GetProjectRoot walks up from start until it finds a directory containing one of the root markers
func GetProjectRoot(start string) (string, error) {
	mypath, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to resolve %s", start)
	}

	for {
		for _, marker := range rootMarkers {
			_, err := os.Stat(filepath.Join(mypath, marker))
			if err == nil {
				return mypath, nil
			}

			if !eris.Is(err, os.ErrNotExist) {
				return "", eris.Wrap(err, "Error ocurred while searching for project root")
			}
		}

		nextPath := filepath.Dir(mypath)
		if mypath == nextPath {
			break
		}
		mypath = nextPath
	}

	return "", eris.Errorf("Project root not found (looked for build.star, third_party/skia or .git above %s)", start)
}

// HostArch returns the processor name of the host the way uname -p reports it
func HostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "i686"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}

func PrintTask(msg string) {
	colorstring.Printf("[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Printf("[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(msg string) {
	colorstring.Printf("[red][bold]  ->[reset] %s\n", msg)
}
