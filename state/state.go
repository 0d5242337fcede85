package state

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type RxModule interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access must be done only on the controller Goroutine
type State struct {
	*Env
	Modules  map[string]RxModule
	Started  atomic.Bool
	Stopping atomic.Bool
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan<- func(s *State) error
	CentralCfg
	Topo    *Topology
	Context context.Context
	Cancel  context.CancelCauseFunc
	Log     *slog.Logger
}
