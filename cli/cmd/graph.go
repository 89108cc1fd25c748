package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/build"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the dependency graph",
	Long: `Graph resolves and transforms every reachable module like build does, then
prints the modules, their imports and the import cycles. Nothing is written.

Examples:
  fluxpack graph              # Modules with rule, size and import count
  fluxpack graph --edges      # Every resolved import
  fluxpack graph -o json      # Modules, edges and cycles as JSON`,
	Args: cobra.NoArgs,
	RunE: runGraph,
}

var graphEdges bool

func init() {
	graphCmd.Flags().BoolVar(&graphEdges, "edges", false, "List edges instead of modules")
}

type graphModule struct {
	Path    string `json:"path" yaml:"path"`
	Rule    string `json:"rule" yaml:"rule"`
	Size    int    `json:"size" yaml:"size"`
	Imports int    `json:"imports" yaml:"imports"`
	Entry   bool   `json:"entry,omitempty" yaml:"entry,omitempty"`
	Cycle   bool   `json:"cycle,omitempty" yaml:"cycle,omitempty"`
}

type graphReport struct {
	Modules []graphModule `json:"modules" yaml:"modules"`
	Edges   []graph.Edge  `json:"edges" yaml:"edges"`
	Cycles  [][]string    `json:"cycles" yaml:"cycles"`
}

// newGraphReport describes g with root-relative paths
func newGraphReport(g *graph.Graph) graphReport {
	report := graphReport{
		Modules: make([]graphModule, 0, len(g.Modules)),
		Edges:   make([]graph.Edge, 0, len(g.Edges)),
		Cycles:  make([][]string, 0, len(g.Cycles)),
	}
	for _, id := range g.IDs() {
		m := g.Modules[id]
		report.Modules = append(report.Modules, graphModule{
			Path:    m.RelPath,
			Rule:    m.Rule,
			Size:    m.Size,
			Imports: len(m.Deps),
			Entry:   m.Entry,
			Cycle:   g.InCycle(id),
		})
	}
	for _, e := range g.Edges {
		report.Edges = append(report.Edges, graph.Edge{
			From:      g.Modules[e.From].RelPath,
			Specifier: e.Specifier,
			To:        g.Modules[e.To].RelPath,
		})
	}
	for _, cycle := range g.Cycles {
		report.Cycles = append(report.Cycles, relPaths(g, cycle))
	}
	return report
}

func runGraph(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	tracer, flush := newTracer(ctx, cfg)
	defer flush()

	g, err := build.Graph(ctx, cfg, build.Options{Version: Version, Tracer: tracer})
	if err != nil {
		return err
	}
	report := newGraphReport(g)

	if formatter.Structured() {
		return formatter.Print(report)
	}

	if graphEdges {
		rows := make([][]string, 0, len(report.Edges))
		for _, e := range report.Edges {
			rows = append(rows, []string{e.From, e.Specifier, e.To})
		}
		formatter.PrintTable(output.TableData{Headers: []string{"FROM", "IMPORT", "TO"}, Rows: rows})
	} else {
		rows := make([][]string, 0, len(report.Modules))
		for _, m := range report.Modules {
			rows = append(rows, []string{
				m.Path,
				m.Rule,
				output.Size(int64(m.Size)),
				strconv.Itoa(m.Imports),
				flag(m.Entry),
				flag(m.Cycle),
			})
		}
		formatter.PrintTable(output.TableData{
			Headers: []string{"MODULE", "RULE", "SIZE", "IMPORTS", "ENTRY", "CYCLE"},
			Rows:    rows,
			Numeric: []int{2, 3},
		})
	}

	if len(report.Cycles) > 0 {
		formatter.PrintInfo(fmt.Sprintf("\n%d import cycle(s):", len(report.Cycles)))
		for _, cycle := range report.Cycles {
			formatter.PrintInfo("  " + strings.Join(cycle, " -> "))
		}
	}
	formatter.PrintSuccess(fmt.Sprintf("\n%d modules, %d edges", len(report.Modules), len(report.Edges)))
	return nil
}

func relPaths(g *graph.Graph, ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.Modules[id].RelPath
	}
	return out
}

func flag(v bool) string {
	if v {
		return "yes"
	}
	return ""
}
