package dirty

import (
	"fmt"
	"reflect"

	"github.com/Iron-Ham/pacer/internal/safecall"
)

// A target must implement one of AllUpdater, Updater or Owner. The first
// capability found, in that order, is the one invoked.

// AllUpdater refreshes everything it displays.
type AllUpdater interface {
	UpdateAll()
}

// Updater refreshes itself.
type Updater interface {
	Update()
}

// Element is a component owned by a target that knows how to refresh it.
type Element interface {
	Update(owner any)
}

// Owner exposes the element that performs its update.
type Owner interface {
	Element() Element
}

// Liveness lets a target report that it was destroyed. Targets that report
// false are dropped without being updated.
type Liveness interface {
	Alive() bool
}

// Named targets use their own name in stats and events. Other targets are
// named after their type and identity, so two unnamed targets of one type
// never share a name.
type Named interface {
	Name() string
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// trackable reports whether target can be used as a map key and exposes an
// update capability. It never calls into the target.
func trackable(target any) bool {
	if isNil(target) || !reflect.TypeOf(target).Comparable() {
		return false
	}
	switch target.(type) {
	case AllUpdater, Updater, Owner:
		return true
	}
	return false
}

func nameOf(target any) string {
	if n, ok := target.(Named); ok {
		var name string
		if err := safecall.Run(safecall.Site{Component: "dirty"}, func() { name = n.Name() }); err == nil && name != "" {
			return name
		}
	}
	if reflect.TypeOf(target).Kind() == reflect.Pointer {
		return fmt.Sprintf("%T@%p", target, target)
	}
	return fmt.Sprintf("%T(%v)", target, target)
}

// resolve validates target and returns its update function. A target is
// invalid when it reports it is not alive, when the liveness probe fails, or
// when it exposes no usable update capability.
func resolve(target any) (func(), bool) {
	if isNil(target) {
		return nil, false
	}
	if l, ok := target.(Liveness); ok {
		alive := false
		if err := safecall.Run(safecall.Site{Component: "dirty"}, func() { alive = l.Alive() }); err != nil || !alive {
			return nil, false
		}
	}

	switch t := target.(type) {
	case AllUpdater:
		return t.UpdateAll, true
	case Updater:
		return t.Update, true
	case Owner:
		var el Element
		if err := safecall.Run(safecall.Site{Component: "dirty"}, func() { el = t.Element() }); err != nil || isNil(el) {
			return nil, false
		}
		return func() { el.Update(t) }, true
	}
	return nil, false
}
