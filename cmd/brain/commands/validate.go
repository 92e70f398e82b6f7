package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/config"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/logging"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/mission"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/printer"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/task"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/thread"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a mission file",
	Long: `Load a mission file, apply defaults and resolve its start list and task
tree against the registered tasks. Every problem is reported.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := config.Load(args[0])
	if err != nil {
		return p.Error(
			fmt.Sprintf("%s is not a valid mission file", args[0]),
			fmt.Sprintf("Error: %v", err),
			nil,
		)
	}

	rejected, diags, m := resolveMission(cfg)

	var problems []string
	for _, name := range rejected {
		problems = append(problems, fmt.Sprintf("start task %s is not registered", name))
	}
	for _, d := range diags {
		problems = append(problems, d.String())
	}
	if len(problems) > 0 {
		return p.Error(
			fmt.Sprintf("%s has %d problem(s)", args[0], len(problems)),
			strings.Join(problems, "\n"),
			[]string{"Registered tasks:\n" + indent(m.ListTasksFilter("all"))},
		)
	}

	p.Success("%s is valid\n", args[0])
	p.Info("start: %s\n", strings.Join(m.StartList(), ", "))
	var branches []string
	for _, b := range m.Branches() {
		branches = append(branches, fmt.Sprintf("%s ? %s : %s", b.Root, strings.Join(b.OnSuccess, ","), strings.Join(b.OnFailure, ",")))
	}
	p.List("tree:", branches, "no branches")
	return nil
}

// resolveMission registers the mission's tasks on a throwaway manager and
// resolves cfg's start list and tree against them.
func resolveMission(cfg *config.MissionConfig) ([]string, []task.Diagnostic, *task.Manager) {
	bus := comms.New()
	_ = mission.SetupLinks(bus, nil)
	m := task.NewManager(task.WithManagerLogger(logging.Nop()))
	_ = mission.Register(m, mission.Deps{Supervisor: thread.NewSupervisor(), Bus: bus})

	rejected := m.OnStart(cfg.Start)
	diags := m.ConfigureTree(cfg.Tree)
	return rejected, diags, m
}

func indent(lines string) string {
	lines = strings.TrimRight(lines, "\n")
	return "  " + strings.ReplaceAll(lines, "\n", "\n  ")
}
