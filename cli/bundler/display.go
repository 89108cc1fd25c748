package bundler

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fluxbase-eu/fluxpack/cli/output"
)

// breakdownLimit is how many inputs an analysis lists without details
const breakdownLimit = 10

// DisplayAnalysis prints one output: its entry and size, then the inputs that
// make up the bundle, largest first
func DisplayAnalysis(f *output.Formatter, result *AnalysisResult, showDetails bool) {
	fmt.Fprintf(f.Writer, "\n%s\n", result.Output)

	fields := []output.Field{{Key: "Size", Value: humanize.IBytes(uint64(result.TotalBytes))}}
	if result.EntryPoint != "" {
		fields = append([]output.Field{{Key: "Entry point", Value: result.EntryPoint}}, fields...)
	}
	f.PrintFields(fields...)

	for _, imp := range result.ExternalImports {
		fmt.Fprintf(f.Writer, "External: %s\n", imp)
	}

	if len(result.InputFiles) > 0 {
		fmt.Fprintln(f.Writer)
		table, hidden := BreakdownTable(result, showDetails)
		f.PrintTable(table)
		if hidden > 0 {
			fmt.Fprintf(f.Writer, "... and %d more files\n", hidden)
		}
	}

	for _, warn := range result.Warnings {
		f.PrintWarning(warn)
	}
}

// BreakdownTable lists the inputs of result. Without showDetails it stops at
// breakdownLimit rows and reports how many were left out.
func BreakdownTable(result *AnalysisResult, showDetails bool) (output.TableData, int) {
	files := result.InputFiles
	hidden := 0
	if !showDetails && len(files) > breakdownLimit {
		hidden = len(files) - breakdownLimit
		files = files[:breakdownLimit]
	}

	rows := make([][]string, 0, len(files))
	for _, file := range files {
		rows = append(rows, []string{
			truncatePath(file.Path, 50),
			humanize.IBytes(uint64(file.BytesInOutput)),
			fmt.Sprintf("%.1f%%", file.Percentage),
		})
	}
	return output.TableData{
		Headers: []string{"INPUT", "SIZE", "SHARE"},
		Rows:    rows,
		Numeric: []int{1, 2},
	}, hidden
}

// SummaryTable lists outputs largest first and closes with a total row.
// results keeps its order.
func SummaryTable(results []*AnalysisResult) output.TableData {
	sorted := append([]*AnalysisResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TotalBytes > sorted[j].TotalBytes
	})

	var total uint64
	rows := make([][]string, 0, len(sorted)+1)
	for _, r := range sorted {
		total += uint64(r.TotalBytes)
		rows = append(rows, []string{
			r.Output,
			humanize.IBytes(uint64(r.TotalBytes)),
			strconv.Itoa(len(r.InputFiles)),
			strconv.Itoa(len(r.ExternalImports)),
		})
	}
	if len(sorted) > 1 {
		rows = append(rows, []string{"TOTAL", humanize.IBytes(total), "", ""})
	}

	return output.TableData{
		Headers: []string{"OUTPUT", "SIZE", "INPUTS", "EXTERNALS"},
		Rows:    rows,
		Numeric: []int{1, 2, 3},
	}
}

// truncatePath keeps the tail of paths longer than maxLen
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}
