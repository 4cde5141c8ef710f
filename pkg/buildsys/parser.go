package buildsys

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	tasks        []*Task
	inlineTasks  []*Task
	initPhase    bool
}

var assignmentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// * Helpers

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func starlarkIterable2stringSlice(input starlarkIterable, field string) ([]string, error) {
	if value, ok := input.(*starlark.List); ok && value == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		case StarlarkPath:
			result = append(result, string(value))
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	return ioutil.ReadDir(path)
}

// processCmdParts turns a command tuple like ("CC=clang", "ninja", "-C", path) into a shell call expression. Leading
// VAR=value strings become assignments, paths are made relative to base.
func processCmdParts(parts starlark.Tuple, parser *syntax.Parser, base string) (*syntax.CallExpr, error) {
	envVars := make([]string, 0, len(parts))
	for _, part := range parts {
		value, ok := part.(starlark.String)
		if !ok || !assignmentPattern.MatchString(value.GoString()) {
			break
		}
		envVars = append(envVars, value.GoString())
	}

	var cmd *syntax.CallExpr
	if len(envVars) > 0 {
		joinedEnvVars := strings.Join(envVars, " ")
		result, err := parser.Parse(strings.NewReader(joinedEnvVars), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joinedEnvVars)
		}

		if len(result.Stmts) != 1 || result.Stmts[0].Cmd == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}

		var ok bool
		cmd, ok = result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || cmd.Assigns == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}
	} else {
		cmd = new(syntax.CallExpr)
	}

	args := parts[len(envVars):]
	if len(args) == 0 {
		return nil, eris.New("command is empty")
	}

	cmd.Args = make([]*syntax.Word, len(args))
	for a, arg := range args {
		var encodedValue string

		switch value := arg.(type) {
		case starlark.String:
			encodedValue = value.GoString()
		case StarlarkPath:
			encodedValue = string(value)

			if filepath.IsAbs(encodedValue) {
				// absolute paths cause issues on Windows
				relValue, err := filepath.Rel(base, encodedValue)
				if err == nil {
					encodedValue = relValue
				}
			}

			encodedValue = filepath.ToSlash(encodedValue)
		default:
			return nil, eris.Errorf("found argument of type %s but only strings and paths are supported: %s", arg.Type(), arg.String())
		}

		cmd.Args[a] = &syntax.Word{Parts: []syntax.WordPart{quoteWordPart(encodedValue)}}
	}

	return cmd, nil
}

// quoteWordPart wraps values containing shell meta characters in quotes. Single quotes are used unless the value
// contains one itself.
func quoteWordPart(value string) syntax.WordPart {
	if value != "" && !strings.ContainsAny(value, " \t\n$'\"\\*?[]{}()<>|&;#~`") {
		return &syntax.Lit{Value: value}
	}

	if !strings.Contains(value, "'") {
		return &syntax.SglQuoted{Value: value}
	}

	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`").Replace(value)
	return &syntax.DblQuoted{Parts: []syntax.WordPart{&syntax.Lit{Value: escaped}}}
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	filepath := simplifyPath(ctx, ctx.filepath)

	log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", filepath, pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	filepath := simplifyPath(ctx, ctx.filepath)

	log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", filepath, pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// * Builtin functions

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func commandList(fn *starlark.Builtin, cmds *starlark.List, taskName, base string) ([]TaskCmd, error) {
	result := make([]TaskCmd, 0)
	if cmds == nil {
		return result, nil
	}

	strBuffer := strings.Builder{}
	printer := syntax.NewPrinter(syntax.Minify(true))
	parser := syntax.NewParser()
	iter := cmds.Iterate()
	defer iter.Done()

	var item starlark.Value
	idx := 0
	for iter.Next(&item) {
		var parts starlark.Tuple

		switch value := item.(type) {
		case starlark.String:
			result = append(result, TaskCmdScript{TaskName: taskName, Index: idx, Content: value.GoString()})
		case *Task:
			result = append(result, TaskCmdTaskRef{Task: value})
		case starlark.Tuple:
			parts = value
		case *starlark.List:
			parts = make(starlark.Tuple, value.Len())
			for subIdx := 0; subIdx < value.Len(); subIdx++ {
				parts[subIdx] = value.Index(subIdx)
			}
		default:
			return nil, eris.Errorf("%s: unexpected type %s. Only strings, tuples, lists and tasks are valid", fn.Name(), item.Type())
		}

		if parts != nil {
			cmd, err := processCmdParts(parts, parser, base)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			strBuffer.Reset()
			err = printer.Print(&strBuffer, cmd)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			result = append(result, TaskCmdScript{TaskName: taskName, Index: idx, Content: strBuffer.String()})
		}

		idx++
	}

	return result, nil
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps *starlark.List
	var skipIfExists *starlark.List
	var inputs *starlark.List
	var outputs *starlark.List
	var env *starlark.Dict
	var cmds *starlark.List
	var base starlark.Value

	task := new(Task)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short?", &task.Short, "hidden?", &task.Hidden,
		"desc?", &task.Desc, "deps?", &deps, "base?", &base, "skip_if_exists?", &skipIfExists, "inputs?",
		&inputs, "outputs?", &outputs, "env?", &env, "cmds?", &cmds)
	if err != nil {
		return nil, err
	}

	anonymous := task.Short == ""
	if anonymous {
		task.Hidden = true
		task.Short = "auto#" + nanoid.New()
	}

	if task.Short == "configure" {
		return nil, eris.New(`the task name "configure" is reserved, please use a different name`)
	}

	switch value := base.(type) {
	case nil, starlark.NoneType:
		task.Base = "."
	case starlark.String:
		task.Base = value.GoString()
	case StarlarkPath:
		task.Base = string(value)
	default:
		return nil, eris.Errorf("%s: base must be a string or path, got %s", fn.Name(), base.Type())
	}
	task.Base = normalizePath(getCtx(thread), task.Base)

	task.Deps, err = starlarkIterable2stringSlice(deps, "deps")
	if err != nil {
		return nil, err
	}

	task.SkipIfExists, err = starlarkIterable2stringSlice(skipIfExists, "skip_if_exists")
	if err != nil {
		return nil, err
	}

	task.Inputs, err = starlarkIterable2stringSlice(inputs, "inputs")
	if err != nil {
		return nil, err
	}

	task.Outputs, err = starlarkIterable2stringSlice(outputs, "outputs")
	if err != nil {
		return nil, err
	}

	task.Env = map[string]string{}
	if env != nil {
		for _, item := range env.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, eris.Errorf("found key type %s in env map but only strings are supported", item[0].Type())
			}

			switch value := item[1].(type) {
			case starlark.String:
				task.Env[key.GoString()] = value.GoString()
			case StarlarkPath:
				task.Env[key.GoString()] = string(value)
			default:
				return nil, eris.Errorf("found value of type %s for key %s but only strings are supported", item[1].Type(), key.GoString())
			}
		}
	}

	task.Cmds, err = commandList(fn, cmds, task.Short, task.Base)
	if err != nil {
		return nil, err
	}

	if len(task.Inputs) > 0 && len(task.Outputs) == 0 {
		warn(thread, "%s: found inputs but no outputs", fn.Name())
	}

	// anonymous tasks are only reachable through the task referencing them
	ctx := getCtx(thread)
	if anonymous {
		ctx.inlineTasks = append(ctx.inlineTasks, task)
	} else {
		ctx.tasks = append(ctx.tasks, task)
	}
	return task, nil
}

// RunScript executes a build script and returns the declared options. If doConfigure is true, the script's
// configure function is called and the declared tasks are collected and returned. If src is nil, the script is
// read from filename.
func RunScript(ctx context.Context, filename string, src []byte, projectRoot string, options map[string]string, doConfigure bool) (TaskList, map[string]ScriptOption, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, nil, err
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		tasks:        make([]*Task, 0),
		yamlCache:    make(map[string]interface{}),
		initPhase:    true,
	}
	thread.SetLocal("parserCtx", &threadCtx)

	if src == nil {
		src, err = ioutil.ReadFile(filename)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "failed to read file")
		}
	}

	scriptName := simplifyPath(&threadCtx, filename)
	globals, err := starlark.ExecFile(thread, scriptName, src, builtins())
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, nil, eris.Errorf("failed to execute %s:\n%s", scriptName, evalError.Backtrace())
		}
		return nil, nil, eris.Wrap(err, "failed to execute")
	}

	tasks := TaskList{}
	if doConfigure {
		configure, ok := globals["configure"]
		if !ok {
			return nil, nil, eris.Errorf("%s did not declare a configure function", scriptName)
		}

		configureFunc, ok := configure.(starlark.Callable)
		if !ok {
			return nil, nil, eris.Errorf("%s did declare a configure value but it's not a function", scriptName)
		}

		threadCtx.initPhase = false
		_, err = starlark.Call(thread, configureFunc, starlark.Tuple{}, nil)
		if err != nil {
			if evalError, ok := err.(*starlark.EvalError); ok {
				return nil, nil, eris.New(evalError.Backtrace())
			}
			return nil, nil, eris.Wrapf(err, "failed configure call in %s", scriptName)
		}

		for _, task := range threadCtx.tasks {
			if _, dup := tasks[task.Short]; dup {
				return nil, nil, eris.Errorf("%s declared the task %s twice", scriptName, task.Short)
			}
			tasks[task.Short] = task
		}

		for _, list := range [][]*Task{threadCtx.tasks, threadCtx.inlineTasks} {
			for _, task := range list {
				for name, value := range threadCtx.envOverrides {
					if _, present := task.Env[name]; !present {
						task.Env[name] = value
					}
				}
			}
		}

		for _, task := range tasks {
			for _, dep := range task.Deps {
				if _, ok := tasks[dep]; !ok {
					return nil, nil, eris.Errorf("task %s depends on unknown task %s", task.Short, dep)
				}
			}
		}
	}

	return tasks, threadCtx.options, nil
}

// Parse runs the script's configure function and returns the declared tasks. Every option in explicit has to be
// declared by the script while defaults may contain values the script doesn't know about. Explicit values win.
func Parse(ctx context.Context, filename string, src []byte, projectRoot string, defaults, explicit map[string]string) (TaskList, error) {
	values := make(map[string]string, len(defaults)+len(explicit))
	for k, v := range defaults {
		values[k] = v
	}
	for k, v := range explicit {
		values[k] = v
	}

	tasks, options, err := RunScript(ctx, filename, src, projectRoot, values, true)
	if err != nil {
		return nil, err
	}

	for name := range explicit {
		if _, ok := options[name]; !ok {
			return nil, eris.Errorf("unknown option %s", name)
		}
	}

	return tasks, nil
}
