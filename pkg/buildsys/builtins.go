package buildsys

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/wiztk/libskia/pkg"
)

func builtins() starlark.StringDict {
	return starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"HOST_ARCH":    starlark.String(pkg.HostArch()),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"setenv":       starlark.NewBuiltin("setenv", setenv),
		"prepend_path": starlark.NewBuiltin("prepend_path", prependPathDir),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"execute":      starlark.NewBuiltin("execute", starExec),
		"task":         starlark.NewBuiltin("task", task),
		"gn_args":      starlark.NewBuiltin("gn_args", starGnArgs),
		"git_revision": starlark.NewBuiltin("git_revision", starGitRevision),
	}
}

func pathArg(fnName string, idx int, value starlark.Value) (string, error) {
	switch value := value.(type) {
	case starlark.String:
		return value.GoString(), nil
	case StarlarkPath:
		return string(value), nil
	default:
		return "", eris.Errorf("%s: for parameter %d: got %s, want path or string", fnName, idx+1, value.Type())
	}
}

func resolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	base := ""
	ctx := getCtx(thread)

	for _, kv := range kwargs {
		key := kv[0].(starlark.String).GoString()
		if key != "base" {
			return nil, eris.Errorf("unexpected keyword argument %s", key)
		}

		value, err := pathArg(fn.Name(), 0, kv[1])
		if err != nil {
			return nil, err
		}
		base = normalizePath(ctx, value)
	}

	if len(args) < 1 {
		return nil, eris.New("expects at least one argument")
	}

	parts := make([]string, len(args))
	for idx, path := range args {
		value, err := pathArg(fn.Name(), idx, path)
		if err != nil {
			return nil, err
		}
		parts[idx] = value
	}

	normPath := normalizePath(ctx, parts...)
	if base != "" {
		var err error
		normPath, err = filepath.Rel(base, normPath)
		if err != nil {
			return nil, err
		}
	}

	return StarlarkPath(normPath), nil
}

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	info(thread, "%s", message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	warn(thread, "%s", message)
	return starlark.None, nil
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key)
	if err != nil {
		return nil, err
	}

	envOverrides := getCtx(thread).envOverrides
	value, ok := envOverrides[key]
	if !ok {
		value = os.Getenv(key)
	}

	return starlark.String(value), nil
}

func setenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value)
	if err != nil {
		return nil, err
	}

	getCtx(thread).envOverrides[key] = value
	return starlark.True, nil
}

// prependPathDir puts a directory in front of PATH for every task declared by the script
func prependPathDir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 1 || len(kwargs) != 0 {
		return nil, eris.Errorf("%s: got %d arguments, want 1", fn.Name(), len(args)+len(kwargs))
	}

	pathDir, err := pathArg(fn.Name(), 0, args[0])
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	path, ok := ctx.envOverrides["PATH"]
	if !ok {
		path = os.Getenv("PATH")
	}

	ctx.envOverrides["PATH"] = normalizePath(ctx, pathDir) + string(os.PathListSeparator) + path
	return starlark.String(ctx.envOverrides["PATH"]), nil
}

func readYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var yamlFile string
	var yamlKey string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &yamlFile, &yamlKey, &defaultValue)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	yamlFile = normalizePath(ctx, yamlFile)

	doc, loaded := ctx.yamlCache[yamlFile]
	if !loaded {
		content, err := ioutil.ReadFile(yamlFile)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to open file %s", yamlFile)
		}

		err = yaml.Unmarshal(content, &doc)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse file %s", yamlFile)
		}
		ctx.yamlCache[yamlFile] = doc
	}

	value := reflect.ValueOf(doc)
	for _, key := range strings.Split(yamlKey, ".") {
		if value.Kind() == reflect.Interface {
			value = value.Elem()
		}

		switch value.Kind() {
		case reflect.Map:
			value = value.MapIndex(reflect.ValueOf(key))
		case reflect.Slice:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= value.Len() {
				return defaultValue, nil
			}
			value = value.Index(idx)
		case reflect.Invalid:
			return defaultValue, nil
		default:
			return nil, eris.Errorf("encountered unexpected value of kind %v in YAML document", value.Kind())
		}
	}

	if !value.IsValid() || ((value.Kind() == reflect.Interface || value.Kind() == reflect.Map || value.Kind() == reflect.Slice) && value.IsNil()) {
		return defaultValue, nil
	}

	switch value := value.Interface().(type) {
	case string:
		return starlark.String(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case bool:
		return starlark.Bool(value), nil
	case float64:
		return starlark.Float(value), nil
	default:
		return nil, eris.Errorf("can't return value %v", value)
	}
}

func starIsdir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dirPath string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &dirPath)
	if err != nil {
		return nil, err
	}

	dirPath = normalizePath(getCtx(thread), dirPath)
	info, err := os.Stat(dirPath)
	return starlark.Bool(err == nil && info.IsDir()), nil
}

func starIsfile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var filePath string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &filePath)
	if err != nil {
		return nil, err
	}

	filePath = normalizePath(getCtx(thread), filePath)
	info, err := os.Stat(filePath)
	return starlark.Bool(err == nil && info.Mode().IsRegular()), nil
}

func starExec(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var command starlark.Value
	var outputFormat string
	var showError bool

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "command", &command, "format?", &outputFormat, "show_error?", &showError)
	if err != nil {
		return nil, err
	}

	if outputFormat == "" {
		outputFormat = "text"
	}

	if outputFormat != "text" && outputFormat != "json" {
		return nil, eris.Errorf("unsupported format %s", outputFormat)
	}

	var shellCmd []syntax.Node
	parser := syntax.NewParser()
	ctx := getCtx(thread)
	base := filepath.Dir(ctx.filepath)

	switch command := command.(type) {
	case starlark.String:
		part := TaskCmdScript{
			TaskName: fn.Name(),
			Content:  command.GoString(),
		}

		stmts, err := part.ToShellStmts(parser)
		if err != nil {
			return nil, err
		}

		shellCmd = make([]syntax.Node, len(stmts))
		for idx, stmt := range stmts {
			shellCmd[idx] = stmt
		}
	case starlark.Tuple:
		expr, err := processCmdParts(command, parser, base)
		if err != nil {
			return nil, err
		}

		shellCmd = []syntax.Node{expr}
	default:
		return nil, eris.Errorf("unexpected type %s for command parameter, only strings and tuples are valid", command.Type())
	}

	outputBuffer := strings.Builder{}
	errOut := ioutil.Discard
	if showError {
		errOut = os.Stderr
	}

	runner, err := interp.New(
		interp.Dir(base),
		interp.Env(expand.ListEnviron(getEnvVars(ctx)...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, &outputBuffer, errOut),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}

	for _, cmd := range shellCmd {
		err := runner.Run(ctx.ctx, cmd)
		if err != nil {
			if showError {
				log(ctx.ctx).Error().Err(err).Msg("shell error")
			}
			return starlark.False, nil
		}
	}

	if outputFormat == "json" {
		var decoded interface{}
		err = json.Unmarshal([]byte(outputBuffer.String()), &decoded)
		if err != nil {
			return nil, eris.Wrap(err, "failed to parse command output")
		}

		return interfaceToStarlark(decoded)
	}

	return starlark.String(outputBuffer.String()), nil
}

var gnStringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`)

// quoteGnString quotes s as a gn string literal. gn only knows the escapes \", \\ and \$.
func quoteGnString(s string) string {
	return `"` + gnStringEscaper.Replace(s) + `"`
}

// FormatGnArg renders a single value in gn's argument syntax
func FormatGnArg(value interface{}) (string, error) {
	switch value := value.(type) {
	case bool:
		if value {
			return "true", nil
		}
		return "false", nil
	case int:
		return strconv.Itoa(value), nil
	case string:
		return quoteGnString(value), nil
	case []string:
		items := make([]string, len(value))
		for idx, item := range value {
			items[idx] = quoteGnString(item)
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	}

	return "", eris.Errorf("unsupported gn value %v", value)
}

func starlarkToGn(value starlark.Value) (string, error) {
	switch value := value.(type) {
	case starlark.Bool:
		return FormatGnArg(bool(value))
	case starlark.Int:
		i, ok := value.Int64()
		if !ok {
			return "", eris.Errorf("integer %s is out of range", value.String())
		}
		return strconv.FormatInt(i, 10), nil
	case starlark.String:
		return FormatGnArg(value.GoString())
	case StarlarkPath:
		return FormatGnArg(filepath.ToSlash(string(value)))
	case *starlark.List:
		items := make([]string, value.Len())
		for idx := range items {
			item, ok := value.Index(idx).(starlark.String)
			if !ok {
				return "", eris.Errorf("gn lists may only contain strings, found %s", value.Index(idx).Type())
			}
			items[idx] = item.GoString()
		}
		return FormatGnArg(items)
	}

	return "", eris.Errorf("unsupported gn value of type %s", value.Type())
}

// starGnArgs renders the passed dict and keyword arguments as a gn --args string. The order of the arguments is kept.
func starGnArgs(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 1 {
		return nil, eris.Errorf("%s: got %d positional arguments, want at most 1", fn.Name(), len(args))
	}

	pairs := make([]starlark.Tuple, 0, len(kwargs))
	if len(args) == 1 {
		dict, ok := args[0].(*starlark.Dict)
		if !ok {
			return nil, eris.Errorf("%s: expected a dict but got %s", fn.Name(), args[0].Type())
		}
		pairs = append(pairs, dict.Items()...)
	}
	pairs = append(pairs, kwargs...)

	parts := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		key, ok := pair[0].(starlark.String)
		if !ok {
			return nil, eris.Errorf("%s: keys must be strings but found %s", fn.Name(), pair[0].Type())
		}

		value, err := starlarkToGn(pair[1])
		if err != nil {
			return nil, eris.Wrapf(err, "%s: invalid value for %s", fn.Name(), key.GoString())
		}

		parts = append(parts, key.GoString()+"="+value)
	}

	return starlark.String(strings.Join(parts, " ")), nil
}

func starGitRevision(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 1 || len(kwargs) != 0 {
		return nil, eris.Errorf("%s: got %d arguments, want 1", fn.Name(), len(args)+len(kwargs))
	}

	dir, err := pathArg(fn.Name(), 0, args[0])
	if err != nil {
		return nil, err
	}

	rev, err := pkg.GitRevision(normalizePath(getCtx(thread), dir))
	if err != nil {
		return nil, err
	}

	return starlark.String(rev), nil
}
