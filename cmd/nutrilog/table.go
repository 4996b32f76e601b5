package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column: its header and how cells align.
type column struct {
	title string
	align text.Align
}

func leftCol(title string) column  { return column{title: title, align: text.AlignLeft} }
func rightCol(title string) column { return column{title: title, align: text.AlignRight} }

func newTableWriter() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	return tw
}

// renderTable pads or truncates each row to the column count.
func renderTable(columns []column, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}
	tw := newTableWriter()

	header := make(table.Row, 0, len(columns))
	configs := make([]table.ColumnConfig, 0, len(columns))
	for i, col := range columns {
		header = append(header, col.title)
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: col.align, AlignHeader: text.AlignLeft})
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		cells := make(table.Row, len(columns))
		for i := range cells {
			cells[i] = ""
			if i < len(row) {
				cells[i] = row[i]
			}
		}
		tw.AppendRow(cells)
	}
	return tw.Render() + "\n"
}

// renderKeyValueTable renders label/value pairs without a header row.
func renderKeyValueTable(rows [][]string) string {
	tw := newTableWriter()
	for _, row := range rows {
		if len(row) >= 2 {
			tw.AppendRow(table.Row{row[0], row[1]})
		}
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignLeft, WidthMax: 80},
	})
	return tw.Render() + "\n"
}
