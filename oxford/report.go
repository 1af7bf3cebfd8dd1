package oxford

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Progress is one progress report of a supervised ramp
type Progress struct {
	Start    float64 `json:"start"`
	Current  float64 `json:"current"`
	Target   float64 `json:"target"`
	Fraction float64 `json:"fraction"`
}

// Stabilizing is true once the field has nominally reached the target but the
// supply has not yet left TO SET
func (p Progress) Stabilizing() bool {
	return p.Fraction >= 1
}

func (p Progress) String() string {
	if p.Stabilizing() {
		return "waiting for field stabilization"
	}
	return fmt.Sprintf("ramp %.1f%% done", p.Fraction*100)
}

// Reporter receives ramp progress.  Reports are advisory; implementations
// must not block for long, and cannot fail the ramp.
type Reporter interface {
	Report(Progress)
}

// Finisher is optionally implemented by a Reporter that wants the outcome of
// every supervised ramp, err is nil when the ramp completed
type Finisher interface {
	Finish(RampResult, error)
}

// ReporterFunc adapts a function to a Reporter
type ReporterFunc func(Progress)

// Report calls f(p)
func (f ReporterFunc) Report(p Progress) { f(p) }

// MultiReporter fans a report out to several reporters in order
type MultiReporter []Reporter

// Report satisfies Reporter
func (mr MultiReporter) Report(p Progress) {
	for _, r := range mr {
		if r != nil {
			r.Report(p)
		}
	}
}

// Finish hands the outcome to every reporter that is also a Finisher
func (mr MultiReporter) Finish(res RampResult, err error) {
	for _, r := range mr {
		if f, ok := r.(Finisher); ok {
			f.Finish(res, err)
		}
	}
}

// LogReporter writes progress to a logger at Info level
type LogReporter struct {
	Log logrus.FieldLogger
}

// Report satisfies Reporter
func (lr LogReporter) Report(p Progress) {
	lr.Log.WithFields(logrus.Fields{
		"field":  p.Current,
		"target": p.Target,
	}).Info(p.String())
}
