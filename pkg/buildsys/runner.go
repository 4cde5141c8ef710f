package buildsys

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		runTasks    map[string]bool
		projectRoot string
		dryRun      bool
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

func getTaskEnv(task *Task) expand.Environ {
	return expand.ListEnviron(mergeEnv(task.Env)...)
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 && IsInprocCommand(args[0]) {
		return runInprocCommand(ctx, args)
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func resolvePatternLists(ctx context.Context, base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	parserCtx := &parserCtx{
		filepath:    filepath.Join(base, "invalid"),
		projectRoot: getRuntimeCtx(ctx).projectRoot,
	}

	for _, item := range patterns {
		item = normalizePath(parserCtx, item)
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// If a pattern didn't match anything, it's returned as a result. Skip those results.
			if !strings.Contains(match, "*") {
				result = append(result, match)
			}
		}
	}
	return result, nil
}

// RunTask executes the given task after all of its dependencies. The process' working directory is never changed;
// every command runs in its task's base directory.
func RunTask(ctx context.Context, projectRoot, task string, tasks TaskList, dryRun, force bool) error {
	rctx := runtimeCtx{
		projectRoot: projectRoot,
		runTasks:    make(map[string]bool),
		dryRun:      dryRun,
	}

	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)
	taskMeta, found := tasks[task]
	if !found {
		return eris.Errorf("Task %s not found", task)
	}

	return runTaskInternal(ctx, taskMeta, tasks, force, true)
}

func shouldSkip(ctx context.Context, task *Task) (bool, error) {
	skipList, err := resolvePatternLists(ctx, task.Base, task.SkipIfExists)
	if err != nil {
		return false, eris.Wrapf(err, "failed to resolve skip_if_exists list")
	}

	found := 0
	for _, item := range skipList {
		_, err := os.Stat(item)
		if err == nil {
			found++
		} else if !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "Failed to check %s", item)
		}
	}

	if found > 0 && found == len(skipList) {
		log(ctx).Info().
			Str("task", task.Short).
			Msg("skipped because all skip files exist")
		return true, nil
	}

	return false, nil
}

func isUpToDate(ctx context.Context, task *Task) (bool, error) {
	var newestInput time.Time
	inputList, err := resolvePatternLists(ctx, task.Base, task.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := resolvePatternLists(ctx, task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, eris.Wrapf(err, "Failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() || len(outputList) == 0 {
		return false, nil
	}

	var newestOutput time.Time
	oldestOutput := time.Now()

	for _, item := range outputList {
		info, err := os.Stat(item)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				// a missing output always means we have to run
				return false, nil
			}
			return false, eris.Wrapf(err, "Failed to check output %s", item)
		}

		mt := info.ModTime()
		if mt.After(newestOutput) {
			newestOutput = mt
		}

		if mt.Before(oldestOutput) {
			oldestOutput = mt
		}
	}

	if newestOutput.Sub(oldestOutput) > 10*time.Minute {
		log(ctx).Warn().
			Str("task", task.Short).
			Msgf("oldest output is %f minutes older than the newest output", newestOutput.Sub(oldestOutput).Minutes())
	}

	if oldestOutput.After(newestInput) {
		log(ctx).Info().
			Str("task", task.Short).
			Msgf("nothing to do (output is %f seconds newer)", oldestOutput.Sub(newestInput).Seconds())
		return true, nil
	}

	return false, nil
}

func runTaskInternal(ctx context.Context, task *Task, tasks TaskList, force, canSkip bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	status, ok := rctx.runTasks[task.Short]
	if ok {
		if status {
			// this task has already been run
			log(ctx).Debug().Msgf("Task %s already run", task.Short)
			return nil
		}

		return eris.Errorf("Task %s was called recursively", task.Short)
	}

	rctx.runTasks[task.Short] = false

	for _, dep := range task.Deps {
		if !rctx.runTasks[dep] {
			depTask, ok := tasks[dep]
			if !ok {
				return eris.Errorf("Task %s not found", dep)
			}

			err := runTaskInternal(ctx, depTask, tasks, false, true)
			if err != nil {
				return eris.Wrapf(err, "Task %s failed due to its dependency %s", task.Short, dep)
			}
		}
	}

	if canSkip && !force {
		skip, err := shouldSkip(ctx, task)
		if err == nil && !skip {
			skip, err = isUpToDate(ctx, task)
		}
		if err != nil {
			return err
		}

		if skip {
			rctx.runTasks[task.Short] = true
			return nil
		}
	}

	log(ctx).Info().Str("task", task.Short).Msg(task.Desc)

	// With the skip and input/output checks done, we can finally start executing
	var runner *interp.Runner
	if !rctx.dryRun {
		stdout, stderr := getStdio(ctx)

		var err error
		runner, err = interp.New(
			interp.Dir(task.Base),
			interp.Env(getTaskEnv(task)),
			interp.ExecHandler(execHandler),
			interp.OpenHandler(openHandler),
			interp.StdIO(nil, stdout, stderr),
			interp.Params("-e"),
		)
		if err != nil {
			return eris.Wrapf(err, "Failed to initialize runner for task %s", task.Short)
		}
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(
		syntax.Minify(true),
	)
	strBuffer := strings.Builder{}

	for _, item := range task.Cmds {
		stmts, err := item.ToShellStmts(parser)
		if err != nil {
			return eris.Wrap(err, "failed to parse shell script")
		}

		if stmts != nil {
			for _, stm := range stmts {
				strBuffer.Reset()
				err = printer.Print(&strBuffer, stm)
				if err != nil {
					return eris.Wrap(err, "failed to print shell command")
				}

				log(ctx).Info().
					Str("task", task.Short).
					Bool("command", true).
					Str("path", task.Base).
					Msg(strBuffer.String())

				if runner != nil {
					err = runner.Run(ctx, stm)
					if err != nil {
						return eris.Wrapf(err, "Task %s failed running %s", task.Short, strBuffer.String())
					}

					if runner.Exited() {
						rctx.runTasks[task.Short] = true
						return nil
					}
				}
			}
		} else {
			subTask, err := item.ToTask()
			if err != nil {
				return eris.Wrap(err, "failed to retrieve task ref")
			}

			if subTask == nil {
				return eris.Errorf("unexpected task command %+v", item)
			}

			err = runTaskInternal(ctx, subTask, tasks, force, true)
			if err != nil {
				return err
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	rctx.runTasks[task.Short] = true
	return nil
}
