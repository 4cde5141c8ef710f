package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wiztk/libskia/pkg"
	"github.com/wiztk/libskia/pkg/buildsys"
)

var rootCmd = &cobra.Command{
	Use:   "skiabuild [key=value...]",
	Short: "Builds and packages a static Skia library",
	Long: `Without arguments, this command syncs Skia's dependencies, generates the ninja project with gn,
compiles libskia and packages the library and its headers into out/<name>-<version>-<arch>.tar.gz.

Build options (see "skiabuild task --options") can be overridden with key=value arguments, a skiabuild.toml
file in the project root or SKIABUILD_* environment variables.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs, options := splitArgs(args)
		if len(taskArgs) > 0 {
			return eris.Errorf("unexpected argument %s, use \"skiabuild task %s\" to run single tasks", taskArgs[0], taskArgs[0])
		}

		proj, err := loadProject(cmd, options)
		if err != nil {
			return err
		}

		return proj.run(cmd, buildsys.DefaultTask)
	},
}

func init() {
	rootCmd.PersistentFlags().String("root", "", "project root (defaults to the nearest parent containing build.star, third_party/skia or .git)")
	rootCmd.PersistentFlags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	rootCmd.PersistentFlags().BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
}

// Execute runs the CLI and exits with status 1 if anything failed
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		pkg.PrintError(eris.ToString(err, debugEnabled()))
		os.Exit(1)
	}
}

// splitArgs separates key=value options from task names
func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0)
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return taskArgs, options
}

type project struct {
	root  string
	cfg   *pkg.Config
	tasks buildsys.TaskList
	// options passed on the command line
	explicit map[string]string
	ctx      context.Context
	cancel   context.CancelFunc
}

func newLogger(cfg *pkg.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(NewConsoleWriter(os.Stderr, os.Getenv("NO_COLOR") == ""))
	}

	return logger.Level(cfg.LogLevel())
}

func findRoot(cmd *cobra.Command) (string, error) {
	root, err := cmd.Flags().GetString("root")
	if err != nil {
		return "", err
	}

	if root != "" {
		return root, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "Failed to retrieve the current working directory")
	}

	return pkg.GetProjectRoot(wd)
}

// loadProject locates the project, loads its configuration and evaluates the build script
func loadProject(cmd *cobra.Command, options map[string]string) (*project, error) {
	root, err := findRoot(cmd)
	if err != nil {
		return nil, err
	}

	cfg, err := pkg.LoadConfig(root)
	if err != nil {
		return nil, err
	}

	err = cfg.Apply(options)
	if err != nil {
		return nil, eris.Wrap(err, "Invalid build option")
	}

	logger := newLogger(cfg)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	ctx = buildsys.WithLogger(ctx, &logger)

	scriptPath, src, err := buildsys.FindScript(root)
	if err != nil {
		cancel()
		return nil, err
	}

	tasks, err := buildsys.Parse(ctx, scriptPath, src, root, cfg.Options(), options)
	if err != nil {
		cancel()
		return nil, eris.Wrap(err, "Failed to parse tasks")
	}

	return &project{
		root:     root,
		cfg:      cfg,
		tasks:    tasks,
		explicit: options,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (p *project) run(cmd *cobra.Command, names ...string) error {
	defer p.cancel()

	dryRun, err := cmd.Flags().GetBool("dry")
	if err != nil {
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	for _, name := range names {
		pkg.PrintTask(fmt.Sprintf("Running %s", name))
		err = buildsys.RunTask(p.ctx, p.root, name, p.tasks, dryRun, force)
		if err != nil {
			return eris.Wrapf(err, "Failed task %s", name)
		}
	}

	pkg.PrintTask("Done")
	return nil
}
