package challenge

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// CodeRequest describes the code being waited for.
type CodeRequest struct {
	Account string
	Channel Channel
	Contact string
	// Since is when resolution began. Codes delivered earlier are stale.
	Since time.Time
}

// CodeProvider supplies verification codes.
type CodeProvider interface {
	Code(ctx context.Context, req CodeRequest) (string, error)
}

// CodeFunc adapts a function to CodeProvider.
type CodeFunc func(ctx context.Context, req CodeRequest) (string, error)

// Code calls f.
func (f CodeFunc) Code(ctx context.Context, req CodeRequest) (string, error) {
	return f(ctx, req)
}

// Message is one message in an inbox.
type Message struct {
	From     string
	Subject  string
	Body     string
	Received time.Time
}

// Inbox lists messages received at or after since.
type Inbox interface {
	Messages(ctx context.Context, since time.Time) ([]Message, error)
}

// InboxPoller polls an Inbox until a fresh message from Sender carries a
// code.
type InboxPoller struct {
	Inbox Inbox
	// Sender is matched case-insensitively as a substring of From. Empty
	// matches any sender.
	Sender string
	// Interval between polls. Default 3s.
	Interval time.Duration
	// Timeout bounds the whole wait. Default 90s.
	Timeout time.Duration
	// Pattern extracts the code; its first group, or the whole match,
	// is used. Default: six digits.
	Pattern *regexp.Regexp
}

var defaultCodePattern = regexp.MustCompile(`\b(\d{6})\b`)

// Code polls until a matching message arrives, the timeout passes or ctx
// ends. Messages received before req.Since are ignored.
func (p *InboxPoller) Code(ctx context.Context, req CodeRequest) (string, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	pattern := p.Pattern
	if pattern == nil {
		pattern = defaultCodePattern
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		msgs, err := p.Inbox.Messages(ctx, req.Since)
		if err == nil {
			if code, ok := p.match(msgs, req.Since, pattern); ok {
				return code, nil
			}
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return "", ErrCodeTimeout
			}
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// match returns the code from the newest fresh message from the sender.
func (p *InboxPoller) match(msgs []Message, since time.Time, pattern *regexp.Regexp) (string, bool) {
	var (
		best   string
		bestAt time.Time
	)
	for _, m := range msgs {
		if m.Received.Before(since) {
			continue
		}
		if p.Sender != "" && !strings.Contains(strings.ToLower(m.From), strings.ToLower(p.Sender)) {
			continue
		}
		sub := pattern.FindStringSubmatch(m.Subject + "\n" + m.Body)
		if sub == nil {
			continue
		}
		code := sub[0]
		if len(sub) > 1 && sub[1] != "" {
			code = sub[1]
		}
		if best == "" || m.Received.After(bestAt) {
			best, bestAt = code, m.Received
		}
	}
	return best, best != ""
}
