package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// requestMetrics collects per-request timings and outcome fields and emits
// them as one structured log line when the handler returns.
type requestMetrics struct {
	logger        *log.Logger
	route         string
	start         time.Time
	authDuration  time.Duration
	applyDuration time.Duration
	fetchDuration time.Duration
	listsReturned int
	revision      int64
	duplicate     bool
	errorStage    string
}

func newRequestMetrics(logger *log.Logger, route string) *requestMetrics {
	return &requestMetrics{
		logger: logger,
		route:  route,
		start:  time.Now(),
	}
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *requestMetrics) ObserveApply(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.applyDuration = duration
}

func (m *requestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *requestMetrics) SetListsReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.listsReturned = count
}

func (m *requestMetrics) SetRevision(revision int64) {
	m.revision = revision
}

func (m *requestMetrics) SetDuplicate(duplicate bool) {
	m.duplicate = duplicate
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":    m.route,
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
	}

	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.applyDuration > 0 {
		fields["apply_ms"] = durationToMillis(m.applyDuration)
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.listsReturned > 0 {
		fields["lists_returned"] = m.listsReturned
	}
	if m.revision > 0 {
		fields["revision"] = m.revision
	}
	if m.duplicate {
		fields["duplicate"] = true
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("board.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
