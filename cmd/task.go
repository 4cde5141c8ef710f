package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wiztk/libskia/pkg/buildsys"
)

var taskCmd = &cobra.Command{
	Use:   "task [task...] [key=value...]",
	Short: "Lists or runs single tasks from the build script",
	Long: `Without task names, the available tasks are listed. Otherwise the named tasks and their dependencies
are run in the given order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs, options := splitArgs(args)

		showOptions, err := cmd.Flags().GetBool("options")
		if err != nil {
			return err
		}

		proj, err := loadProject(cmd, options)
		if err != nil {
			return err
		}

		if showOptions {
			defer proj.cancel()
			return listOptions(proj)
		}

		if len(taskArgs) == 0 {
			defer proj.cancel()
			listTasks(proj.tasks, os.Stdout)
			return nil
		}

		return proj.run(cmd, taskArgs...)
	},
}

func init() {
	taskCmd.Flags().Bool("options", false, "list the options declared by the build script and their current values")
	rootCmd.AddCommand(taskCmd)
}

func listTasks(tasks buildsys.TaskList, out io.Writer) {
	fmt.Fprintln(out, "Available tasks:")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, name := range tasks.Names() {
		task := tasks[name]
		if task.Hidden {
			continue
		}

		deps := ""
		if len(task.Deps) > 0 {
			deps = "(after " + strings.Join(task.Deps, ", ") + ")"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", name, task.Desc, deps)
	}
	tw.Flush()
}

func listOptions(proj *project) error {
	scriptPath, src, err := buildsys.FindScript(proj.root)
	if err != nil {
		return err
	}

	values := proj.cfg.Options()
	for k, v := range proj.explicit {
		values[k] = v
	}
	_, options, err := buildsys.RunScript(proj.ctx, scriptPath, src, proj.root, values, false)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Options:")
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, name := range names {
		value, ok := values[name]
		if !ok {
			value = options[name].Default()
		}
		fmt.Fprintf(tw, "  %s\t= %q\t%s\n", name, value, options[name].Help)
	}
	tw.Flush()
	return nil
}
