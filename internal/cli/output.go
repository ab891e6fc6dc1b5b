package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
)

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

func yesNo(b bool) string {
	if b {
		return okColor.Sprint("yes")
	}
	return failColor.Sprint("no")
}

func (a *App) success(format string, args ...any) {
	fmt.Fprintln(a.Out, okColor.Sprint("✓ ")+fmt.Sprintf(format, args...))
}

func (a *App) notice(format string, args ...any) {
	fmt.Fprintln(a.Out, warnColor.Sprintf(format, args...))
}

func (a *App) failure(format string, args ...any) {
	fmt.Fprintln(a.Out, failColor.Sprint("✗ ")+fmt.Sprintf(format, args...))
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
