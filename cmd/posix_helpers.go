package cmd

import (
	"github.com/spf13/cobra"

	"github.com/wiztk/libskia/pkg"
)

// These mirror the in-process commands available to build scripts so that the same behaviour can be used from
// CI scripts on hosts without a POSIX userland.

var mvCmd = &cobra.Command{
	Use:   "mv <source...> <dest>",
	Short: "Cross-platform implementation of the POSIX mv command",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return pkg.Move("", args)
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path...>",
	Short: "A cross-platform implementation of the POSIX rm command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, err := cmd.Flags().GetBool("recursive")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		return pkg.Remove("", args, recursive, force)
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path...>",
	Short: "A cross-platform implementation of the POSIX mkdir command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		makeParents, err := cmd.Flags().GetBool("parents")
		if err != nil {
			return err
		}

		return pkg.MakeDirs("", args, makeParents)
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp <source...> <dest>",
	Short: "A cross-platform implementation of the POSIX cp command",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, err := cmd.Flags().GetBool("recursive")
		if err != nil {
			return err
		}

		return pkg.Copy("", args, recursive)
	},
}

var packCmd = &cobra.Command{
	Use:   "pack <archive> <directory>",
	Short: "Packs a directory into a tarball",
	Long: `Packs the given directory into a tarball with a single top-level folder named after the directory.
The compression is picked based on the archive's extension (.tar.gz, .tar.xz or .tar.br).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg.PrintTask("Packing " + args[0])
		return pkg.PackDirectory(args[0], args[1])
	},
}

func init() {
	rmCmd.Flags().BoolP("recursive", "r", false, "recursively delete directories")
	rmCmd.Flags().BoolP("force", "f", false, "suppresses errors caused by missing files/folders")
	mkdirCmd.Flags().BoolP("parents", "p", false, "create parent directories as needed")
	cpCmd.Flags().BoolP("recursive", "r", false, "copy directories recursively")

	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(cpCmd)
	rootCmd.AddCommand(packCmd)
}
