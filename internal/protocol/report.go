package protocol

import (
	"sync"

	"github.com/danmuck/cdpwire/internal/observability"
	"github.com/rs/zerolog/log"
)

// Reporter receives malformed or unroutable incoming messages. Errors are for
// messages that cannot be routed at all; warnings for messages addressed to a
// known domain but an unregistered event.
type Reporter interface {
	ProtocolError(reason string, msg *Message)
	ProtocolWarning(reason string, msg *Message)
}

// LogReporter logs through zerolog and counts reports.
type LogReporter struct{}

func (LogReporter) ProtocolError(reason string, msg *Message) {
	observability.RecordProtocolReport("error")
	withMessage(log.Error(), msg).Msg(reason)
}

func (LogReporter) ProtocolWarning(reason string, msg *Message) {
	observability.RecordProtocolReport("warning")
	withMessage(log.Warn(), msg).Msg(reason)
}

// Report is one captured report.
type Report struct {
	Warning bool
	Reason  string
	Message *Message
}

// RecordingReporter keeps reports in memory.
type RecordingReporter struct {
	mu      sync.Mutex
	reports []Report
}

func (r *RecordingReporter) ProtocolError(reason string, msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{Reason: reason, Message: msg})
}

func (r *RecordingReporter) ProtocolWarning(reason string, msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{Warning: true, Reason: reason, Message: msg})
}

// Errors returns captured error reports.
func (r *RecordingReporter) Errors() []Report {
	return r.filter(false)
}

// Warnings returns captured warning reports.
func (r *RecordingReporter) Warnings() []Report {
	return r.filter(true)
}

func (r *RecordingReporter) filter(warning bool) []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, 0, len(r.reports))
	for _, rep := range r.reports {
		if rep.Warning == warning {
			out = append(out, rep)
		}
	}
	return out
}
