package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/printer"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

var listPorts = comms.ListPorts

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial devices",
	Long: `List the serial devices the microcontroller may be attached to.

Examples:
  brain ports
  brain run --serial /dev/ttyACM0`,
	Args: cobra.NoArgs,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	ports, err := listPorts()
	if err != nil {
		return p.Error(
			"failed to list serial ports",
			fmt.Sprintf("Error: %v", err),
			[]string{"Check that the serial driver is loaded and you can read /dev"},
		)
	}

	p.List("Serial ports:", ports, "none found")
	return nil
}
