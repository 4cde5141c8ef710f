package buildsys

import (
	_ "embed"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// ScriptName is the file name of a project's build script
const ScriptName = "build.star"

// DefaultTask is run when the tool is called without a task name
const DefaultTask = "package"

//go:embed default.star
var DefaultScript []byte

// FindScript returns the path and contents of the build script for the given project. If the project doesn't
// provide a build.star, the embedded default script is returned with a path inside the project root so that
// relative paths resolve the same way.
func FindScript(projectRoot string) (string, []byte, error) {
	scriptPath := filepath.Join(projectRoot, ScriptName)
	_, err := os.Stat(scriptPath)
	if err == nil {
		// RunScript reads the file itself
		return scriptPath, nil, nil
	}

	if !eris.Is(err, os.ErrNotExist) {
		return "", nil, eris.Wrapf(err, "Failed to check %s", scriptPath)
	}

	return scriptPath, DefaultScript, nil
}
