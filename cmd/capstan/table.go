package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Every command renders through go-pretty's rounded style. The run
// listing right-aligns its numeric ID column; everything else is a
// plain left-aligned grid.

func runListTable(rows []table.Row) string {
	tw := newTable(table.Row{"ID", "Event", "Branch", "Commit", "Status", "Tag", "Created"}, rows)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// pairTable renders key/value detail output (run detail, daemon
// status, config show).
func pairTable(keyHeader string, rows []table.Row) string {
	return newTable(table.Row{keyHeader, "Value"}, rows).Render()
}

// stageTable renders per-stage rows for run detail and health output.
func stageTable(stateHeader string, rows []table.Row) string {
	return newTable(table.Row{"Stage", stateHeader, "Detail"}, rows).Render()
}

func newTable(header table.Row, rows []table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	return tw
}
