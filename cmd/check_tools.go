package cmd

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wiztk/libskia/pkg"
	"github.com/wiztk/libskia/pkg/buildsys"
)

var checkToolsCmd = &cobra.Command{
	Use:   "check-tools [task] [key=value...]",
	Short: "Checks that every program a task needs can be found",
	Long: `Resolves the programs called by the given task (default: package) and its dependencies with the same
PATH the task would use, including depot_tools. Nothing is executed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs, options := splitArgs(args)
		if len(taskArgs) > 1 {
			return eris.New("check-tools accepts at most one task")
		}

		name := buildsys.DefaultTask
		if len(taskArgs) == 1 {
			name = taskArgs[0]
		}

		proj, err := loadProject(cmd, options)
		if err != nil {
			return err
		}
		defer proj.cancel()

		programs, err := proj.tasks.Programs(name)
		if err != nil {
			return err
		}

		pkg.PrintTask("Checking tools for " + name)
		missing := 0
		for _, ref := range programs {
			path, err := ref.Task.LookPath(ref.Program)
			if err != nil {
				missing++
				pkg.PrintError(fmt.Sprintf("%s (%s): not found", ref.Program, ref.Task.Short))
				continue
			}

			pkg.PrintSubtask(fmt.Sprintf("%s (%s): %s", ref.Program, ref.Task.Short, path))
		}

		if missing > 0 {
			return eris.Errorf("%d of %d tools are missing, run fetch-deps or install them", missing, len(programs))
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkToolsCmd)
}
