package buildsys

import (
	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ProgramRef names an external program called by a task
type ProgramRef struct {
	Task    *Task
	Program string
}

// shellBuiltins are handled by the interpreter and never looked up in PATH
var shellBuiltins = map[string]bool{
	"true": true, "false": true, "exit": true, "set": true, "shift": true, "unset": true, "echo": true,
	"printf": true, "break": true, "continue": true, "pwd": true, "cd": true, "wait": true, "builtin": true,
	"trap": true, "type": true, "source": true, ".": true, "command": true, "dirs": true, "pushd": true,
	"popd": true, "umask": true, "alias": true, "unalias": true, "fg": true, "bg": true, "getopts": true,
	"eval": true, "test": true, "[": true, "exec": true, "return": true, "read": true, "shopt": true,
}

// Programs returns the external programs the named task and its dependencies call, in execution order.
// Builtins, in-process commands and command names which are only known at runtime are left out.
func (l TaskList) Programs(name string) ([]ProgramRef, error) {
	result := make([]ProgramRef, 0)
	seen := map[string]bool{}
	parser := syntax.NewParser()

	var walk func(task *Task) error
	walk = func(task *Task) error {
		if seen[task.Short] {
			return nil
		}
		seen[task.Short] = true

		for _, dep := range task.Deps {
			depTask, ok := l[dep]
			if !ok {
				return eris.Errorf("Task %s not found", dep)
			}
			if err := walk(depTask); err != nil {
				return err
			}
		}

		known := map[string]bool{}
		for _, item := range task.Cmds {
			ref, err := item.ToTask()
			if err != nil {
				return err
			}
			if ref != nil {
				if err := walk(ref); err != nil {
					return err
				}
				continue
			}

			stmts, err := item.ToShellStmts(parser)
			if err != nil {
				return err
			}

			for _, stmt := range stmts {
				syntax.Walk(stmt, func(node syntax.Node) bool {
					call, ok := node.(*syntax.CallExpr)
					if !ok || len(call.Args) == 0 {
						return true
					}

					prog := call.Args[0].Lit()
					if prog == "" || shellBuiltins[prog] || IsInprocCommand(prog) || known[prog] {
						return true
					}

					known[prog] = true
					result = append(result, ProgramRef{Task: task, Program: prog})
					return true
				})
			}
		}

		return nil
	}

	task, ok := l[name]
	if !ok {
		return nil, eris.Errorf("Task %s not found", name)
	}

	if err := walk(task); err != nil {
		return nil, err
	}
	return result, nil
}

// LookPath resolves program the way the task's shell would: relative to the task's base directory if it contains a
// slash, otherwise through the task's PATH.
func (t *Task) LookPath(program string) (string, error) {
	path, err := interp.LookPathDir(t.Base, getTaskEnv(t), program)
	if err != nil {
		return "", eris.Wrapf(err, "%s not found for task %s", program, t.Short)
	}
	return path, nil
}

