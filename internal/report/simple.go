package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// SimpleWriter outputs a plain-text status for the terminal.
type SimpleWriter struct {
	baseWriter

	// verbose adds the recent attempt list.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose adds the recent attempt list to the output.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write renders status as text.
func (w *SimpleWriter) Write(status *Status) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, status)
	w.writeSessions(&sb, status)
	w.writeProxies(&sb, status)
	w.writeRates(&sb, status)
	w.writeHistory(&sb, status)

	return w.output.Write([]byte(sb.String()))
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, status *Status) {
	sb.WriteString(strings.Repeat("=", 60))
	sb.WriteString("\n                    INSTAAPI STATUS\n")
	sb.WriteString(strings.Repeat("=", 60))
	sb.WriteString("\n\n")
	fmt.Fprintf(sb, "Generated:  %s\n", status.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Sessions:   %d active / %d total (%d reactivations left)\n",
		status.ActiveSessions(), len(status.Sessions), status.ReactivationsLeft)
	fmt.Fprintf(sb, "Proxies:    %d active / %d total\n", status.ActiveProxies(), len(status.Proxies))
	if status.Paused > 0 {
		fmt.Fprintf(sb, "Rate limit: PAUSED for %s\n", status.Paused.Round(time.Second))
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeSessions(sb *strings.Builder, status *Status) {
	sb.WriteString("SESSIONS\n")
	if len(status.Sessions) == 0 {
		sb.WriteString("  (none configured)\n\n")
		return
	}
	fmt.Fprintf(sb, "  %-20s %-6s %-7s %9s %7s %6s\n", "ACCOUNT", "VALID", "ACTIVE", "REQUESTS", "ERRORS", "STREAK")
	for _, s := range status.Sessions {
		fmt.Fprintf(sb, "  %-20s %-6s %-7s %9d %7d %6d\n",
			truncateString(s.Account, 20), yesNo(s.Valid), yesNo(s.Active), s.Requests, s.Errors, s.ConsecutiveErrors)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeProxies(sb *strings.Builder, status *Status) {
	if len(status.Proxies) == 0 {
		return
	}
	sb.WriteString("PROXIES\n")
	for _, p := range status.Proxies {
		fmt.Fprintf(sb, "  %-40s %-6s score=%.2f ok=%d fail=%d latency=%s\n",
			truncateString(p.URI, 40), yesNo(p.Active), p.Score, p.Successes, p.Failures, p.AvgLatency.Round(time.Millisecond))
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeRates(sb *strings.Builder, status *Status) {
	if len(status.Categories) == 0 {
		return
	}
	sb.WriteString("RATE HEADROOM\n")
	for _, c := range status.Categories {
		fmt.Fprintf(sb, "  %-24s %d\n", c.Name, c.Remaining)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeHistory(sb *strings.Builder, status *Status) {
	if status.Kinds == nil {
		return
	}
	fmt.Fprintf(sb, "ATTEMPTS (last %s): %d\n", status.Window, status.TotalAttempts())
	for _, k := range status.SortedKinds() {
		fmt.Fprintf(sb, "  %-28s %d\n", k, status.Kinds[k])
	}
	if w.verbose && len(status.Recent) > 0 {
		sb.WriteString("\nRECENT\n")
		for _, a := range status.Recent {
			fmt.Fprintf(sb, "  %s %-16s %-12s %3d %-24s %s\n",
				a.Time.Format("15:04:05"), truncateString(a.Category, 16), truncateString(a.Account, 12),
				a.Status, a.Kind, a.Latency.Round(time.Millisecond))
		}
	}
	sb.WriteString("\n")
}
