package lifecycle

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/enclave/internal/resolver"
)

// runHooks invokes the entry points of n in declaration order. Failures are
// logged and observed; the remaining entry points still run.
func (m *Manager) runHooks(ctx context.Context, logger logr.Logger, n *resolver.Node, phase Phase) {
	for _, id := range n.Configuration().EntryPoints {
		ep, ok := m.registry.Lookup(id)
		if !ok {
			logger.V(1).Info("entry point not registered", "node", n.String(), "entryPoint", id, "phase", phase)
			continue
		}
		err := m.invoke(ctx, n, id, ep, phase)
		if err != nil {
			err = &HookError{Component: n.String(), EntryPoint: id, Phase: phase, Err: err}
			logger.Error(err, "entry point failed", "node", n.String(), "entryPoint", id, "phase", phase)
		}
		if m.observer != nil {
			m.observer(Event{Phase: phase, Component: n.String(), EntryPoint: id, Err: err})
		}
	}
}

func (m *Manager) invoke(ctx context.Context, n *resolver.Node, id string, ep EntryPoint, phase Phase) (err error) {
	ctx, _, leave := m.system.Enter(ctx, n.String()+"/"+id)
	defer leave()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if phase == PhaseStart {
		return ep.Start(ctx)
	}
	return ep.Stop(ctx)
}
