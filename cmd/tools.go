package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/SuryaSriramD/CodeAgentTool/internal/analyzer"
)

var toolsOutputFmt string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Show registered analyzers and how they would run",
	Long: `Lists every registered analyzer with its version and whether it can run
from a local binary (bin_dir, then PATH) or through docker.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsOutputFmt, "output", formatTable, "Output format: table|json|yaml")
}

// toolStatus is one row of the tools listing.
type toolStatus struct {
	Name    string `json:"name"    yaml:"name"`
	Binary  string `json:"binary"  yaml:"binary"`
	Version string `json:"version" yaml:"version"`
	Local   bool   `json:"local"   yaml:"local"`
	Docker  bool   `json:"docker"  yaml:"docker"`
	Default bool   `json:"default" yaml:"default"`
}

func runTools(cmd *cobra.Command, args []string) error {
	if err := checkFormat(toolsOutputFmt); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tc := toolchain(cfg)
	statuses := probeTools(ctx, analyzer.NewDefaultRegistry(tc), cfg.Analyzers.Defaults, tc.Available)
	if toolsOutputFmt != formatTable {
		return writeStructured(cmd.OutOrStdout(), toolsOutputFmt, statuses)
	}
	printTools(cmd.OutOrStdout(), statuses)
	return nil
}

// probeTools collects the status of every analyzer in reg. available
// reports local and docker availability for a binary.
func probeTools(ctx context.Context, reg *analyzer.Registry, defaults []string,
	available func(context.Context, string) (bool, bool)) []toolStatus {
	out := make([]toolStatus, 0, len(reg.Names()))
	for _, name := range reg.Names() {
		a, _ := reg.Get(name)
		st := toolStatus{
			Name:    name,
			Version: a.Version(ctx),
			Default: slices.Contains(defaults, name),
		}
		if p, ok := a.(analyzer.Prober); ok {
			st.Binary = p.Binary()
			st.Local, st.Docker = available(ctx, p.Binary())
			if p.DockerImage() == "" {
				st.Docker = false
			}
		} else {
			st.Local = true
		}
		out = append(out, st)
	}
	return out
}

func printTools(w io.Writer, statuses []toolStatus) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Analyzer", "Binary", "Version", "Local", "Docker", "Default"})
	missing := 0
	for _, st := range statuses {
		if !st.Local && !st.Docker {
			missing++
		}
		tw.AppendRow(table.Row{st.Name, st.Binary, st.Version, mark(st.Local), mark(st.Docker), mark(st.Default)})
	}
	tw.Render()
	fmt.Fprintln(w)
	if missing == 0 {
		fmt.Fprintln(w, successStyle.Render("All analyzers can run."))
	} else {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%d analyzer(s) unavailable; they are reported as failed when selected.", missing)))
	}
}

func mark(ok bool) string {
	if ok {
		return successStyle.Render("yes")
	}
	return dimStyle.Render("no")
}
