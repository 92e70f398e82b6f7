package commands

import (
	"github.com/spf13/cobra"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/printer"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/scaffold"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [DIR]",
	Short: "Write a starter mission.yml",
	Long: `Write a starter mission.yml holding every default, ready to edit.

Examples:
  brain init
  brain init missions/pool --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing mission.yml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	path, err := scaffold.Initialize(dir, initForce)
	if err != nil {
		return p.Error("initialization failed", err.Error(), nil)
	}

	p.Success("created %s\n", path)
	p.Info("\nNext steps:\n")
	p.Info("  1. Set links.serial.device to the microcontroller (see 'brain ports')\n")
	p.Info("  2. Check the tree with 'brain validate %s'\n", path)
	p.Info("  3. Run 'brain run --config %s'\n", path)
	return nil
}
