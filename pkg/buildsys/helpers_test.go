package buildsys

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testOutput struct {
	log    bytes.Buffer
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// events decodes the JSON lines written to the test logger
func (o *testOutput) events(t *testing.T) []map[string]interface{} {
	t.Helper()
	result := []map[string]interface{}{}
	scanner := bufio.NewScanner(bytes.NewReader(o.log.Bytes()))
	for scanner.Scan() {
		evt := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &evt))
		result = append(result, evt)
	}
	return result
}

// commands returns the logged shell commands as "task: command"
func (o *testOutput) commands(t *testing.T) []string {
	t.Helper()
	result := []string{}
	for _, evt := range o.events(t) {
		if isCmd, _ := evt["command"].(bool); isCmd {
			result = append(result, evt["task"].(string)+": "+evt["message"].(string))
		}
	}
	return result
}

func testContext(t *testing.T) (context.Context, *testOutput) {
	t.Helper()
	out := &testOutput{}
	logger := zerolog.New(&out.log).Level(zerolog.DebugLevel)

	ctx := WithLogger(context.Background(), &logger)
	ctx = WithStdio(ctx, &out.stdout, &out.stderr)
	return ctx, out
}

func loadTasks(t *testing.T, ctx context.Context, root, script string, explicit map[string]string) TaskList {
	t.Helper()
	tasks, err := Parse(ctx, filepath.Join(root, ScriptName), []byte(script), root, nil, explicit)
	require.NoError(t, err)
	return tasks
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestNormalizePath(t *testing.T) {
	root := filepath.FromSlash("/project")
	ctx := &parserCtx{
		filepath:    filepath.Join(root, "tools", ScriptName),
		projectRoot: root,
	}

	require.Equal(t, filepath.Join(root, "tools", "gen"), normalizePath(ctx, "gen"))
	require.Equal(t, filepath.Join(root, "third_party", "skia"), normalizePath(ctx, "//third_party/skia"))
	require.Equal(t, filepath.Join(root, "third_party", "skia", "include"), normalizePath(ctx, "//third_party/skia", "include"))
	require.Equal(t, root, normalizePath(ctx, "//"))
	require.Equal(t, "//third_party/skia", simplifyPath(ctx, filepath.Join(root, "third_party", "skia")))
}

func TestMergeEnv(t *testing.T) {
	require.NoError(t, os.Setenv("SKIABUILD_TEST_VAR", "outer"))
	defer os.Unsetenv("SKIABUILD_TEST_VAR")

	env := mergeEnv(map[string]string{"SKIABUILD_TEST_VAR": "first"}, map[string]string{"SKIABUILD_TEST_VAR": "second"})

	found := []string{}
	for _, item := range env {
		if strings.HasPrefix(item, "SKIABUILD_TEST_VAR=") {
			found = append(found, item)
		}
	}
	require.Equal(t, []string{"SKIABUILD_TEST_VAR=second"}, found)
}

func splitOutput(output string) []string {
	return strings.Split(strings.TrimRight(output, "\n"), "\n")
}
