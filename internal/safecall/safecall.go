// Package safecall invokes externally supplied callbacks so that a panic or
// error in one participant never escapes into the caller's loop.
package safecall

import (
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/pacer/internal/errors"
	"github.com/Iron-Ham/pacer/internal/logging"
)

// Site identifies the call site for error attribution.
type Site struct {
	Component string
	Key       string
}

// Call runs fn and converts a returned error or recovered panic into a
// CallbackFailure. It returns nil when fn completes normally.
func Call(site Site, fn func() error) error {
	if fn == nil {
		return errors.NewSchedulerError(errors.KindInvalidInput, "nil callback", nil).
			WithComponent(site.Component).
			WithKey(site.Key)
	}

	var (
		pc     panics.Catcher
		result error
	)
	pc.Try(func() { result = fn() })

	if r := pc.Recovered(); r != nil {
		return errors.NewSchedulerError(errors.KindCallbackFailure, "callback panicked", r.AsError()).
			WithComponent(site.Component).
			WithKey(site.Key)
	}
	if result != nil {
		return errors.NewSchedulerError(errors.KindCallbackFailure, "callback returned error", result).
			WithComponent(site.Component).
			WithKey(site.Key)
	}
	return nil
}

// Run is Call for callbacks that do not return an error.
func Run(site Site, fn func()) error {
	if fn == nil {
		return Call(site, nil)
	}
	return Call(site, func() error {
		fn()
		return nil
	})
}

// Invoke runs fn, logs any failure at the Critical tier, and reports how long
// the callback took according to now. now may be nil, in which case the
// duration is zero.
func Invoke(logger *logging.Logger, site Site, now func() time.Time, fn func()) (time.Duration, error) {
	var start time.Time
	if now != nil {
		start = now()
	}

	err := Run(site, fn)

	var took time.Duration
	if now != nil {
		took = now().Sub(start)
	}
	if err != nil {
		logging.OrNop(logger).Critical("callback failed",
			"component", site.Component,
			"key", site.Key,
			"error", err.Error(),
		)
	}
	return took, err
}

// String renders the site for log messages.
func (s Site) String() string {
	if s.Key == "" {
		return s.Component
	}
	return fmt.Sprintf("%s/%s", s.Component, s.Key)
}
