package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/satyanetra/satyanetra/internal/analysis"
	"github.com/satyanetra/satyanetra/internal/model"
)

// statusKind is the severity a status line is shown with.
type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var statusStyles = map[statusKind]struct{ tag, color string }{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

const (
	subjectWidth = 14
	lineIndent   = "  "
)

var titleCase = cases.Title(language.English)

// renderStatusLine formats "  <subject>: [TAG] message", coloured by kind
// when writing to a terminal.
func renderStatusLine(subject string, kind statusKind, message string, colorize bool) string {
	style, ok := statusStyles[kind]
	if !ok {
		style = statusStyles[statusInfo]
	}
	line := fmt.Sprintf("%s%-*s [%s]", lineIndent, subjectWidth, subject+":", style.tag)
	if message != "" {
		line += " " + message
	}
	if colorize {
		return style.color + line + ansiReset
	}
	return line
}

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// label turns an identifier such as "wait_and_refresh" into "Wait And Refresh".
func label(s string) string {
	return titleCase.String(strings.ReplaceAll(s, "_", " "))
}

// snapshotKind maps a session snapshot to the severity it is shown with.
func snapshotKind(s analysis.Snapshot) statusKind {
	switch s.State {
	case analysis.StateFailed, analysis.StateAbandoned:
		return statusError
	case analysis.StatePolling:
		if s.Message != "" {
			return statusWarn
		}
		return statusInfo
	case analysis.StateResolved:
		if s.Demo || s.Report == nil && s.Message != "" {
			return statusWarn
		}
		return statusOK
	case analysis.StateIdle:
		if s.Message != "" {
			return statusError
		}
	}
	return statusInfo
}

// snapshotSubject names what a snapshot line is about.
func snapshotSubject(s analysis.Snapshot) string {
	switch s.State {
	case analysis.StateSubmitting:
		return "Submit"
	case analysis.StatePolling:
		return "Job " + s.JobID
	case analysis.StateResolved:
		if s.Report == nil && s.Message == "" {
			return "Job " + s.JobID
		}
		return "Report"
	case analysis.StateFailed, analysis.StateAbandoned:
		return label(string(s.State))
	}
	return "Error"
}

// snapshotLine renders one session snapshot as a status line. Idle
// snapshots without a message render as an empty string.
func snapshotLine(s analysis.Snapshot, colorize bool) string {
	var msg string
	switch s.State {
	case analysis.StateIdle:
		if s.Message == "" {
			return ""
		}
		msg = s.Message
	case analysis.StateSubmitting:
		msg = "sending product URL"
	case analysis.StatePolling:
		msg = s.Message
		if msg == "" {
			msg = fmt.Sprintf("%s %d%%", label(string(s.Status)), s.Progress)
			if n := len(s.Logs); n > 0 {
				msg += " - " + s.Logs[n-1]
			}
		}
	case analysis.StateResolved:
		switch {
		case s.Demo || s.Report == nil && s.Message != "":
			msg = s.Message
		case s.Report != nil:
			msg = "loaded"
		default:
			msg = "analysis complete"
		}
	default:
		msg = s.Message
	}
	return renderStatusLine(snapshotSubject(s), snapshotKind(s), msg, colorize)
}

// recoveryHint describes the next step for a fatal snapshot.
func recoveryHint(r analysis.Recovery) string {
	switch r {
	case analysis.RecoveryFixURL:
		return "Check the product URL and try again."
	case analysis.RecoveryRestart:
		return "Start a new analysis with `satyanetra analyze <url>`."
	case analysis.RecoveryRetryConnection:
		return "Check the gateway with `satyanetra probe`, then retry."
	case analysis.RecoveryWaitRefresh:
		return "Wait a moment, then run `satyanetra report <productId>` again."
	case analysis.RecoveryTryDemo:
		return "Try Demo Mode with `satyanetra analyze --demo`."
	}
	return ""
}

// progressPrinter returns an observer writing a line whenever the rendered
// status changes.
func progressPrinter(w io.Writer, colorize bool) analysis.Observer {
	var last string
	return func(s analysis.Snapshot) {
		line := snapshotLine(s, colorize)
		if line == "" || line == last {
			return
		}
		last = line
		fmt.Fprintln(w, line)
	}
}

func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, col := range rightAligned {
		configs = append(configs, table.ColumnConfig{
			Number:      col,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// renderReport formats a trust-score report for the terminal.
func renderReport(r model.ScoreReport, demo bool) string {
	var b strings.Builder

	title := r.ProductDetails.Name
	if title == "" {
		title = r.ProductID
	}
	if demo {
		title += " (demo data)"
	}
	fmt.Fprintf(&b, "%s\n", title)
	fmt.Fprintf(&b, "Trust score: %d/100 (%s trust)\n", r.OverallScore, label(string(r.Band())))
	if r.ProductDetails.URL != "" {
		fmt.Fprintf(&b, "URL:         %s\n", r.ProductDetails.URL)
	}
	if r.ProductDetails.AnalyzedAt != "" {
		fmt.Fprintf(&b, "Analyzed at: %s\n", r.ProductDetails.AnalyzedAt)
	}

	rv, im, sc := r.ReviewAnalysis, r.ImageVerification, r.SellerCredibility
	rows := [][]string{
		{"Reviews", itoa(rv.Score), fmt.Sprintf("%d total, %d fake, %d suspicious patterns", rv.TotalReviews, rv.FakeReviews, rv.SuspiciousPatterns)},
		{"Images", itoa(im.Score), fmt.Sprintf("%d total, %d verified, %d manipulated", im.TotalImages, im.VerifiedImages, im.ManipulatedImages)},
		{"Seller", itoa(sc.Score), sellerDetail(sc)},
	}
	b.WriteString(renderTable([]string{"Signal", "Score", "Detail"}, rows, 2))
	b.WriteString("\n")

	if len(r.Reasons) > 0 {
		b.WriteString("Reasons:\n")
		for _, reason := range r.Reasons {
			fmt.Fprintf(&b, "  - %s\n", reason)
		}
	}
	return b.String()
}

func sellerDetail(s model.SellerCredibility) string {
	var parts []string
	if v, ok := s.Rating.Numeric(); ok {
		parts = append(parts, fmt.Sprintf("rating %.1f", v))
	} else if s.Rating != "" {
		parts = append(parts, "rating "+string(s.Rating))
	}
	if s.VerifiedSeller {
		parts = append(parts, "verified")
	} else {
		parts = append(parts, "unverified")
	}
	if s.AccountAge != "" {
		parts = append(parts, "account age "+s.AccountAge)
	}
	return strings.Join(parts, ", ")
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// writeOutcome prints the final snapshot: the report when there is one,
// otherwise the message and its recovery hint.
func writeOutcome(w io.Writer, s analysis.Snapshot, colorize bool) {
	if s.Report != nil {
		fmt.Fprintln(w)
		fmt.Fprint(w, renderReport(*s.Report, s.Demo))
		return
	}
	if hint := recoveryHint(s.Recovery); hint != "" {
		fmt.Fprintln(w, renderStatusLine("Next", statusInfo, hint, colorize))
	}
}
