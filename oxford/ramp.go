package oxford

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// RampPhase is the state of a supervised ramp
type RampPhase int

const (
	// Idle is before a ramp was requested
	Idle RampPhase = iota

	// PreconditionCheck is while the switch heater is being checked
	PreconditionCheck

	// Ramping is while the supply is in TO SET and being polled
	Ramping

	// Completed means the supply left TO SET on its own
	Completed

	// Failed means the ramp was refused or aborted
	Failed
)

func (p RampPhase) String() string {
	switch p {
	case Idle:
		return "idle"
	case PreconditionCheck:
		return "precondition check"
	case Ramping:
		return "ramping"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// MarshalText makes phases readable in JSON
func (p RampPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText is the inverse of MarshalText
func (p *RampPhase) UnmarshalText(b []byte) error {
	for q := Idle; q <= Failed; q++ {
		if q.String() == string(b) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("unknown ramp phase %q", b)
}

// RampState is the run-time state of one supervised ramp
type RampState struct {
	Phase            RampPhase
	Start            float64
	Target           float64
	Current          float64
	Mode             RampMode
	TemperatureLimit float64
	Iterations       int
}

// RampResult summarizes a finished supervised ramp
type RampResult struct {
	Start      float64       `json:"start"`
	Target     float64       `json:"target"`
	Final      float64       `json:"final"`
	Phase      RampPhase     `json:"phase"`
	Iterations int           `json:"iterations"`
	Elapsed    time.Duration `json:"elapsed"`
}

// ProgressFraction is |start-current| / |start-target|.  A ramp whose start is
// its target is complete, so the fraction is 1.
func ProgressFraction(start, current, target float64) float64 {
	if start == target {
		return 1
	}
	return math.Abs((start - current) / (start - target))
}

// RampToTarget unconditionally sets the supply ramping to its current
// target.  CLAMP is released to HOLD first, since the supply does not accept
// CLAMP => TO SET.  No precondition is checked.
func (m *MercuryIPS) RampToTarget() error {
	mode, err := m.RampStatus()
	if err != nil {
		return err
	}
	if mode == Clamp {
		if err := m.SetRampStatus(Hold); err != nil {
			return err
		}
	}
	return m.SetRampStatus(ToSet)
}

// RampFieldTo changes the field to target and blocks until the supply leaves
// TO SET.
//
// The ramp is refused with a HeaterOffError if the persistent switch heater
// is off, and with ErrRampInProgress if another ramp is running.  While
// ramping, the magnet temperature is checked against TemperatureLimit on every
// poll; if it is exceeded the supply is put in HOLD and a
// TemperatureExceededError is returned.  If ctx is done the supply is put in
// HOLD and ErrRampCancelled is returned.
//
// The result is valid whether or not err is nil.
func (m *MercuryIPS) RampFieldTo(ctx context.Context, target float64) (RampResult, error) {
	if !m.ramp.TryLock() {
		res := RampResult{Target: target, Phase: Failed}
		m.finish(res, ErrRampInProgress)
		return res, ErrRampInProgress
	}
	defer m.ramp.Unlock()

	begin := time.Now()
	st := RampState{Phase: PreconditionCheck, Target: target}
	log := m.Log.WithField("target", target)
	finish := func(err error) (RampResult, error) {
		if err != nil {
			st.Phase = Failed
			log.WithError(err).WithField("iterations", st.Iterations).Warn("field ramp failed")
		} else {
			st.Phase = Completed
			log.WithFields(logrus.Fields{"field": st.Current, "iterations": st.Iterations}).Info("field ramp completed")
		}
		res := RampResult{
			Start:      st.Start,
			Target:     st.Target,
			Final:      st.Current,
			Phase:      st.Phase,
			Iterations: st.Iterations,
			Elapsed:    time.Since(begin),
		}
		m.finish(res, err)
		return res, err
	}

	if err := fieldRange(target); err != nil {
		return finish(err)
	}
	on, err := m.SwitchHeater()
	if err != nil {
		return finish(err)
	}
	if !on {
		return finish(&HeaterOffError{State: "OFF"})
	}
	st.Start, err = m.Field()
	if err != nil {
		return finish(err)
	}
	st.Current = st.Start
	if err := m.SetFieldTarget(target); err != nil {
		return finish(err)
	}
	if err := m.RampToTarget(); err != nil {
		return finish(err)
	}
	st.Phase = Ramping
	log.WithField("start", st.Start).Info("field ramp started")

	for {
		if err := ctx.Err(); err != nil {
			return finish(m.abort(fmt.Errorf("%w: %w", ErrRampCancelled, err)))
		}
		st.Mode, err = m.RampStatus()
		if err != nil {
			return finish(err)
		}
		if st.Mode != ToSet {
			if f, err := m.Field(); err == nil {
				st.Current = f
			}
			return finish(nil)
		}
		temp, err := m.Temperature()
		if err != nil {
			return finish(err)
		}
		st.TemperatureLimit = m.TemperatureLimit()
		if Check(temp, st.TemperatureLimit) == Trip {
			return finish(m.abort(&TemperatureExceededError{Limit: st.TemperatureLimit, Reached: temp}))
		}
		if err := sleep(ctx, m.PollInterval); err != nil {
			return finish(m.abort(fmt.Errorf("%w: %w", ErrRampCancelled, err)))
		}
		st.Current, err = m.Field()
		if err != nil {
			return finish(err)
		}
		st.Iterations++
		m.report(Progress{
			Start:    st.Start,
			Current:  st.Current,
			Target:   st.Target,
			Fraction: ProgressFraction(st.Start, st.Current, st.Target),
		})
	}
}

// abort puts the supply in HOLD and returns cause, joined with the error
// from the HOLD command if that failed too
func (m *MercuryIPS) abort(cause error) error {
	if err := m.SetRampStatus(Hold); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// report hands p to the Reporter; a misbehaving reporter must not end the ramp
func (m *MercuryIPS) report(p Progress) {
	if m.Reporter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.Log.WithField("panic", r).Error("progress reporter panicked")
		}
	}()
	m.Reporter.Report(p)
}

func (m *MercuryIPS) finish(res RampResult, err error) {
	f, ok := m.Reporter.(Finisher)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.Log.WithField("panic", r).Error("progress reporter panicked")
		}
	}()
	f.Finish(res, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
