package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// ConsoleWriter turns zerolog's JSON events into short colored lines
type ConsoleWriter struct {
	out    io.Writer
	buffer strings.Builder
	lock   sync.Mutex
	color  bool
}

func NewConsoleWriter(out io.Writer, color bool) *ConsoleWriter {
	return &ConsoleWriter{out: out, color: color}
}

// simplifyPath replaces path in msg with its location relative to the working directory
func simplifyPath(msg, path string) string {
	wd, err := os.Getwd()
	if err != nil || !filepath.IsAbs(path) {
		return msg
	}

	relPath, err := filepath.Rel(wd, path)
	if err != nil || relPath == "." || strings.HasPrefix(relPath, "..") {
		return msg
	}

	return strings.ReplaceAll(msg, path, relPath)
}

func debugEnabled() bool {
	return os.Getenv("BUILDSYS_DEBUG") != ""
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal", "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug", "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	if task, ok := evt["task"].(string); ok {
		w.buffer.WriteString(task + ": ")
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	if isCmd, ok := evt["command"].(bool); ok && isCmd {
		w.buffer.WriteString("[reset]$ ")
	}

	msg, _ := evt["message"].(string)
	if path, ok := evt["path"].(string); ok {
		msg = simplifyPath(msg, path)
	}

	w.buffer.WriteString(msg)

	if errorDetails, ok := evt["error"]; ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(fmt.Sprint(errorDetails))
	}

	if debugEnabled() {
		w.buffer.WriteString("\n")
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	w.buffer.WriteString("[reset]\n")

	colorize := colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: !w.color,
		Reset:   true,
	}
	_, err = fmt.Fprint(w.out, colorize.Color(w.buffer.String()))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, debugEnabled())
	}
}
