package core

import (
	"reflect"

	"github.com/encodeous/reflex/state"
)

func Get[T state.RxModule](s *state.State) T {
	t := reflect.TypeFor[T]()
	return s.Modules[t.String()].(T)
}
