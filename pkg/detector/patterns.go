package detector

import (
	"regexp"
	"time"

	"github.com/railwatch/railwatch/pkg/models"
)

// signal is one pattern-lane rule. Threshold-gated rules only fire once
// the pattern has hit at least minHits times within hitWindow.
type signal struct {
	re        *regexp.Regexp
	severity  models.Severity
	action    models.ActionType
	cause     string
	minHits   int
	hitWindow time.Duration
}

var signals = []signal{
	{
		re:       regexp.MustCompile(`(?i)fatal|panic|\boom\b|out of memory|killed by oom`),
		severity: models.SeverityCritical,
		action:   models.ActionTypeScaleMemory,
		cause:    "process crash or out-of-memory kill",
	},
	{
		re:       regexp.MustCompile(`(?i)econnrefused|connection refused|tls handshake failed`),
		severity: models.SeverityHigh,
		action:   models.ActionTypeRestart,
		cause:    "downstream connection failure",
	},
	{
		re:       regexp.MustCompile(`(?i)http 5\d\d|internal server error|exception|traceback|stack ?trace`),
		severity: models.SeverityHigh,
		action:   models.ActionTypeRestart,
		cause:    "unhandled application error",
	},
	{
		re:        regexp.MustCompile(`(?i)timeout|deadline exceeded`),
		severity:  models.SeverityMedium,
		action:    models.ActionTypeRestart,
		cause:     "repeated timeouts",
		minHits:   3,
		hitWindow: 60 * time.Second,
	},
}

// patternMatch is the pattern lane's verdict for one event.
type patternMatch struct {
	Severity models.Severity
	Action   models.ActionType
	Cause    string
	Matched  bool
}

// evaluatePatterns runs the pattern lane over the newest event, consulting
// the window for the threshold-gated rules. Warn-level events never
// escalate on level alone, only through an explicit pattern hit.
func evaluatePatterns(ev models.LogEvent, win *window) patternMatch {
	best := patternMatch{}
	for i := range signals {
		sig := &signals[i]
		if !sig.re.MatchString(ev.Message) {
			continue
		}
		if sig.minHits > 1 {
			hits := win.countMatches(sig.re, ev.Timestamp.Add(-sig.hitWindow))
			if hits < sig.minHits {
				continue
			}
		}
		if !best.Matched || sig.severity.Rank() > best.Severity.Rank() {
			best = patternMatch{
				Severity: sig.severity,
				Action:   sig.action,
				Cause:    sig.cause,
				Matched:  true,
			}
		}
	}
	return best
}
