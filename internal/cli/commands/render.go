package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/waytous/waytous/internal/cli/ui"
	"github.com/waytous/waytous/internal/envelope"
	"github.com/waytous/waytous/internal/envelope/keyprovider"
	"github.com/waytous/waytous/internal/metadata"
	"github.com/waytous/waytous/internal/query"
	"github.com/waytous/waytous/internal/store"
)

var recordHeaders = []string{"Name", "Version", "Platform", "Author", "Description"}

func statusColor(s query.Status) *color.Color {
	switch s {
	case query.StatusUndefined:
		return color.New(color.FgYellow)
	case query.StatusCorrupt, query.StatusError:
		return color.New(color.FgRed)
	}
	return nil
}

// renderRecord prints one record as a single-row table
func (e *env) renderRecord(res query.Result) {
	table := ui.NewTable(e.out, recordHeaders, &ui.TableOptions{NoColor: e.noColor})
	if c := statusColor(res.Status); c != nil {
		table.AddColoredRow(c, res.Record.Row()...)
	} else {
		table.AddRow(res.Record.Row()...)
	}
	table.Render()
}

// renderList prints the registry listing with a status column
func (e *env) renderList(results []query.Result) {
	headers := append([]string{"Module"}, recordHeaders...)
	headers = append(headers, "Status")

	table := ui.NewTable(e.out, headers, &ui.TableOptions{NoColor: e.noColor})
	for _, res := range results {
		row := append([]string{res.Module}, res.Record.Row()...)
		row = append(row, string(res.Status))
		if c := statusColor(res.Status); c != nil {
			table.AddColoredRow(c, row...)
		} else {
			table.AddRow(row...)
		}
	}
	table.Render()
}

// renderSummary prints "3 modules: 2 ok, 1 corrupt"
func (e *env) renderSummary(results []query.Result) {
	counts := query.Summary(results)
	parts := make([]string, 0, len(counts))
	for _, s := range []query.Status{query.StatusOK, query.StatusUndefined, query.StatusCorrupt, query.StatusError} {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}

	noun := "modules"
	if len(results) == 1 {
		noun = "module"
	}
	fmt.Fprintf(e.out, "\n%d %s: %s\n", len(results), noun, strings.Join(parts, ", "))
}

// reportFailure prints the formatted error block for a result that could
// not be read and returns an error that Execute will not print again
func (e *env) reportFailure(res query.Result) error {
	err := res.Err
	switch {
	case isKeyError(err):
		fmt.Fprint(e.errOut, ui.KeyError(err.Error(), e.noColor))
	case res.Status == query.StatusCorrupt:
		var cause string
		var se *store.Error
		if errors.As(err, &se) && se.Err != nil {
			cause = se.Err.Error()
		}
		fmt.Fprint(e.errOut, ui.MetadataCorruptError(locationOf(err, res.Module), cause, e.noColor))
	default:
		ui.WriteError(e.errOut, ui.ErrorOptions{
			Level:   ui.ErrorLevelError,
			Context: "METADATA UNAVAILABLE",
			Problem: err.Error(),
			NoColor: e.noColor,
		})
	}
	return reported(err)
}

func isKeyError(err error) bool {
	return errors.Is(err, keyprovider.ErrKeyUnavailable) ||
		errors.Is(err, keyprovider.ErrInvalidKey) ||
		errors.Is(err, keyprovider.ErrInsecurePermissions) ||
		envelope.KindOf(err) == envelope.KindInvalidKey
}

func locationOf(err error, fallback string) string {
	var se *store.Error
	if errors.As(err, &se) && se.Location != "" {
		return se.Location
	}
	return fallback
}

// patchSummary lists the fields a patch sets, e.g. "name, version"
func patchSummary(patch metadata.Record) string {
	fields := patch.SetFields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
