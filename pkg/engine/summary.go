package engine

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"
)

// summaryOrder is the row order of the summary table.
var summaryOrder = []string{
	ResourceProject,
	ResourceConnector,
	ResourceSecret,
	ResourceRole,
	ResourceResourceGroup,
	ResourceServiceAccount,
	ResourceUserGroup,
	ResourceEnvironment,
	ResourceInfrastructure,
	ResourceService,
	ResourcePipeline,
}

// RenderSummary writes the phase table, the per-type result table and the
// list of failures to w.
func RenderSummary(w io.Writer, out *Outcome) error {
	title := fmt.Sprintf("Run %s: %s", out.Run.ID, out.Status)
	if out.Run.DryRun {
		title += " (dry run)"
	}
	if _, err := fmt.Fprintln(w, pterm.DefaultSection.Sprint(title)); err != nil {
		return err
	}

	phases := [][]string{{"PHASE", "ATTEMPTED", "SUCCEEDED", "FAILED", "STATE", "DURATION"}}
	for _, p := range out.Phases {
		phases = append(phases, []string{
			p.Name,
			strconv.Itoa(p.Attempted),
			strconv.Itoa(p.Succeeded),
			strconv.Itoa(p.Failed),
			phaseState(p),
			p.Duration.Round(time.Millisecond).String(),
		})
	}
	if err := renderTable(w, phases); err != nil {
		return err
	}

	if out.Run.DryRun {
		return nil
	}

	byType := out.Results.ByType()
	rows := [][]string{{"RESOURCE", "CREATED", "EXISTING", "FAILED", "TOTAL"}}
	for _, t := range summaryOrder {
		s, ok := byType[t]
		if !ok {
			continue
		}
		rows = append(rows, summaryRow(t, s))
	}
	rows = append(rows, summaryRow("total", out.Results.Counts()))
	if err := renderTable(w, rows); err != nil {
		return err
	}

	for _, r := range out.Results.All() {
		if r.Success {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", r.String(), r.Error); err != nil {
			return err
		}
	}
	return nil
}

func summaryRow(name string, s Summary) []string {
	return []string{
		name,
		strconv.Itoa(s.Created),
		strconv.Itoa(s.Existing),
		strconv.Itoa(s.Failed),
		strconv.Itoa(s.Total),
	}
}

func phaseState(p PhaseOutcome) string {
	switch {
	case p.Skipped:
		return "skipped"
	case p.DryRun:
		return "planned"
	case p.OK:
		return "ok"
	default:
		return "failed"
	}
}

func renderTable(w io.Writer, rows [][]string) error {
	table, err := pterm.DefaultTable.WithHasHeader(true).WithData(rows).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, table)
	return err
}
