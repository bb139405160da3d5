package hooks

import (
	"context"

	"github.com/looplab/fsm"
)

// States a single fire moves through.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateFailed    = "failed"
	StateHooksDone = "hooks_done"
	StateComplete  = "complete"
)

const (
	eventStart     = "start"
	eventFail      = "fail"
	eventHooksDone = "hooks_done"
	eventComplete  = "complete"
)

var fireTransitions = fsm.Events{
	{Name: eventStart, Src: []string{StatePending}, Dst: StateRunning},
	{Name: eventFail, Src: []string{StateRunning}, Dst: StateFailed},
	{Name: eventHooksDone, Src: []string{StateRunning}, Dst: StateHooksDone},
	{Name: eventComplete, Src: []string{StateHooksDone}, Dst: StateComplete},
}

func (p *Pipeline) newMachine(collection, event string) *fsm.FSM {
	callbacks := fsm.Callbacks{}
	if p.observer != nil {
		observer := p.observer
		callbacks["enter_state"] = func(_ context.Context, e *fsm.Event) {
			observer(collection, event, e.Dst)
		}
	}
	return fsm.NewFSM(StatePending, fireTransitions, callbacks)
}

func (p *Pipeline) transition(ctx context.Context, m *fsm.FSM, name string) {
	if err := m.Event(ctx, name); err != nil {
		p.logger.Errorf("hook pipeline: transition %s from %s failed: %v", name, m.Current(), err)
	}
}
