// Package reporter surfaces transfer failures and progress to the operator.
package reporter

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("reporter")

// Kind classifies a reported condition
type Kind int

const (
	KindAuth Kind = iota
	KindRejected
	KindFatal
	KindDisconnected
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRejected:
		return "rejected"
	case KindFatal:
		return "fatal"
	case KindDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ErrorReporter is a fire-and-forget sink for transfer failures
type ErrorReporter interface {
	Report(kind Kind, developerMessage, userMessage string)
}

// LogReporter writes reports to the structured log
type LogReporter struct{}

func NewLogReporter() *LogReporter {
	return &LogReporter{}
}

func (r *LogReporter) Report(kind Kind, developerMessage, userMessage string) {
	switch kind {
	case KindFatal:
		log.Errorw(userMessage, "kind", kind.String(), "detail", developerMessage)
	default:
		log.Warnw(userMessage, "kind", kind.String(), "detail", developerMessage)
	}
}

// Report is one recorded call to a Recorder
type Report struct {
	Kind             Kind
	DeveloperMessage string
	UserMessage      string
}

// Recorder keeps every report in memory
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *Recorder) Report(kind Kind, developerMessage, userMessage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{Kind: kind, DeveloperMessage: developerMessage, UserMessage: userMessage})
}

// Reports returns a copy of everything recorded so far
func (r *Recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}
