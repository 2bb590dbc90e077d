package batch

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// WriteSummary prints one line per package and a closing total
func WriteSummary(w io.Writer, reports []Report) {
	for _, rep := range reports {
		switch {
		case rep.Err != nil:
			_, _ = fmt.Fprintf(w, "%s %s (%s): %v\n", red("FAIL"), bold(rep.Package), rep.Action, rep.Err)
		case len(rep.Skipped) > 0:
			_, _ = fmt.Fprintf(w, "%s %s (%s)%s, skipped %s\n", yellow("SKIP"), bold(rep.Package), rep.Action, details(rep), joinActions(rep.Skipped))
		default:
			_, _ = fmt.Fprintf(w, "%s %s (%s)%s\n", green("OK"), bold(rep.Package), rep.Action, details(rep))
		}
	}

	failed := Failed(reports)
	total := fmt.Sprintf("%d package(s), %d failed", len(reports), failed)
	if failed > 0 {
		total = red(total)
	} else {
		total = green(total)
	}
	_, _ = fmt.Fprintln(w, total)
}

func details(rep Report) string {
	var parts []string
	if len(rep.Cases) > 0 {
		cases := make([]string, 0, len(rep.Cases))
		for _, c := range rep.Cases {
			cases = append(cases, string(c))
		}
		parts = append(parts, strings.Join(cases, "+"))
	}
	if rep.Version != "" {
		parts = append(parts, rep.Version+"-"+rep.Release)
	}
	if rep.SRPM != "" {
		parts = append(parts, rep.SRPM)
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}

func joinActions(actions []Action) string {
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}
