// Package report renders the engine status: session health, proxy scores,
// rate-window headroom and a summary of recent attempts.
//
// Collect gathers a Status from the live components; a Writer renders it:
//   - SimpleWriter: plain text for the terminal
//   - MarkdownWriter: GitHub-flavored Markdown with a failure breakdown chart
//   - JSONWriter: structured output for scripts
//
// Design decision: gathering and rendering are separate so that every
// format renders the same snapshot and tests can build a Status by hand.
package report
