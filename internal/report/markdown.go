package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs the status as GitHub-flavored Markdown, for
// pasting into issues or runbooks.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write renders status as Markdown.
func (w *MarkdownWriter) Write(status *Status) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, status)
	w.writeSessions(md, status)
	w.writeProxies(md, status)
	w.writeRates(md, status)
	w.writeHistory(md, status)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, status *Status) {
	md.H1("instaapi status")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Generated", status.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
			{"Active sessions", fmt.Sprintf("%d / %d", status.ActiveSessions(), len(status.Sessions))},
			{"Reactivations left", strconv.Itoa(status.ReactivationsLeft)},
			{"Active proxies", fmt.Sprintf("%d / %d", status.ActiveProxies(), len(status.Proxies))},
		},
	})
	md.PlainText("")

	switch {
	case len(status.Sessions) > 0 && status.ActiveSessions() == 0:
		md.Cautionf("No session is usable. Authenticated calls will fail until a session is refreshed.")
	case status.Paused > 0:
		md.Warningf("Rate limited: all categories paused for %s.", status.Paused.Round(time.Second))
	case len(status.Sessions) == 0:
		md.Note("No accounts configured. Only anonymous lookups are available.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeSessions(md *markdown.Markdown, status *Status) {
	md.H2("Sessions")
	md.PlainText("")
	if len(status.Sessions) == 0 {
		md.PlainText("None configured.")
		md.PlainText("")
		return
	}
	rows := make([][]string, len(status.Sessions))
	for i, s := range status.Sessions {
		rows[i] = []string{
			"`" + s.Account + "`", yesNo(s.Valid), yesNo(s.Active),
			strconv.Itoa(s.Requests), strconv.Itoa(s.Errors), strconv.Itoa(s.ConsecutiveErrors),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Account", "Valid", "Active", "Requests", "Errors", "Error streak"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeProxies(md *markdown.Markdown, status *Status) {
	if len(status.Proxies) == 0 {
		return
	}
	md.H2("Proxies")
	md.PlainText("")
	rows := make([][]string, len(status.Proxies))
	for i, p := range status.Proxies {
		rows[i] = []string{
			"`" + truncateString(p.URI, 50) + "`", yesNo(p.Active),
			strconv.FormatFloat(p.Score, 'f', 2, 64),
			strconv.Itoa(p.Successes), strconv.Itoa(p.Failures),
			p.AvgLatency.Round(time.Millisecond).String(),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Proxy", "Active", "Score", "Successes", "Failures", "Avg latency"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeRates(md *markdown.Markdown, status *Status) {
	if len(status.Categories) == 0 {
		return
	}
	md.H2("Rate headroom")
	md.PlainText("")
	rows := make([][]string, len(status.Categories))
	for i, c := range status.Categories {
		rows[i] = []string{c.Name, strconv.Itoa(c.Remaining)}
	}
	md.Table(markdown.TableSet{Header: []string{"Category", "Remaining"}, Rows: rows})
	md.PlainText("")
}

func (w *MarkdownWriter) writeHistory(md *markdown.Markdown, status *Status) {
	if status.Kinds == nil {
		return
	}
	md.H2("Attempts")
	md.PlainText("")
	md.PlainTextf("Last %s: %d attempts.", status.Window, status.TotalAttempts())
	md.PlainText("")
	if status.TotalAttempts() == 0 {
		return
	}

	kinds := status.SortedKinds()
	rows := make([][]string, len(kinds))
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Outcome breakdown"),
		piechart.WithShowData(true),
	)
	for i, k := range kinds {
		rows[i] = []string{k, strconv.Itoa(status.Kinds[k])}
		chart.LabelAndIntValue(k, uint64(status.Kinds[k])) //nolint:gosec // Counts are non-negative
	}
	md.Table(markdown.TableSet{Header: []string{"Outcome", "Count"}, Rows: rows})
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")

	if len(status.Recent) > 0 {
		recent := make([][]string, len(status.Recent))
		for i, a := range status.Recent {
			recent[i] = []string{
				a.Time.Format("15:04:05"), a.Category, a.Account,
				strconv.Itoa(a.Status), a.Kind, a.Latency.Round(time.Millisecond).String(),
			}
		}
		md.H3("Recent attempts")
		md.PlainText("")
		md.Table(markdown.TableSet{
			Header: []string{"Time", "Category", "Account", "Status", "Outcome", "Latency"},
			Rows:   recent,
		})
		md.PlainText("")
	}
}
