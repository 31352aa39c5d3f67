package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/log"

	enclavev1alpha1 "github.com/anvil-platform/enclave/api/v1alpha1"
	"github.com/anvil-platform/enclave/internal/compiler"
	"github.com/anvil-platform/enclave/internal/component"
	"github.com/anvil-platform/enclave/internal/graph"
	"github.com/anvil-platform/enclave/internal/lifecycle"
)

// ErrGraphNotFound is returned by Apply when the manifest's graph is missing.
var ErrGraphNotFound = errors.New("artifact graph not found")

type appliedManifest struct {
	id  lifecycle.ID
	key component.Key
}

type appliedSet struct {
	mu sync.Mutex
	m  map[types.NamespacedName]appliedManifest
}

func newAppliedSet() *appliedSet {
	return &appliedSet{m: map[types.NamespacedName]appliedManifest{}}
}

func (s *appliedSet) get(n types.NamespacedName) (appliedManifest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.m[n]
	return a, ok
}

func (s *appliedSet) set(n types.NamespacedName, a appliedManifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[n] = a
}

func (s *appliedSet) delete(n types.NamespacedName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, n)
}

func (s *appliedSet) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = map[types.NamespacedName]appliedManifest{}
}

// Applied returns the attachment backing the manifest named n.
func (k *Kernel) Applied(n types.NamespacedName) (lifecycle.ID, bool) {
	a, ok := k.applied.get(n)
	return a.id, ok
}

// Apply brings the manifest to its declared state: compiled from ag,
// attached and, unless suspended, started. m.Status records the outcome
// through the Compiled, Attached and Started conditions. Re-applying an
// unchanged manifest keeps its attachment; a manifest whose configuration
// changed is attached and started anew before the previous attachment is
// detached, so nodes both share keep running.
func (k *Kernel) Apply(ctx context.Context, ag *enclavev1alpha1.ArtifactGraph, m *enclavev1alpha1.ComponentManifest) error {
	name := types.NamespacedName{Namespace: m.Namespace, Name: m.Name}
	logger := log.FromContext(ctx).WithValues("manifest", name.String(), "root", m.Spec.Root)
	ctx = log.IntoContext(ctx, logger)

	cfg, err := k.compileManifest(ctx, ag, m)
	if err != nil {
		m.Status.Phase = enclavev1alpha1.PhaseFailed
		return err
	}
	m.Status.Key = string(cfg.Key)
	setManifestCondition(m, condition(enclavev1alpha1.ConditionCompiled, true, ReasonCompiled, compiledMessage(cfg.String(), len(cfg.Members))))

	prev, hadPrev := k.applied.get(name)
	id := prev.id
	if !hadPrev || prev.key != cfg.Key {
		id, err = k.Attach(ctx, cfg)
		if err != nil {
			setManifestCondition(m, condition(enclavev1alpha1.ConditionAttached, false, ReasonAttachFailed, err.Error()))
			m.Status.Phase = enclavev1alpha1.PhaseFailed
			return err
		}
	}
	attachment := int32(id)
	m.Status.Attachment = &attachment
	setManifestCondition(m, condition(enclavev1alpha1.ConditionAttached, true, ReasonAttached, fmt.Sprintf("Attached as %d", id)))

	if m.Spec.Suspend {
		err = k.Stop(ctx, id)
		setManifestCondition(m, condition(enclavev1alpha1.ConditionStarted, false, ReasonSuspended, "Suspended"))
		m.Status.Phase = enclavev1alpha1.PhaseAttached
	} else {
		err = k.Start(ctx, id)
		if err != nil {
			setManifestCondition(m, condition(enclavev1alpha1.ConditionStarted, false, ReasonStartFailed, err.Error()))
			m.Status.Phase = enclavev1alpha1.PhaseFailed
		} else {
			setManifestCondition(m, condition(enclavev1alpha1.ConditionStarted, true, ReasonStarted, "Entry points ran"))
			m.Status.Phase = enclavev1alpha1.PhaseRunning
		}
	}
	k.applied.set(name, appliedManifest{id: id, key: cfg.Key})

	if hadPrev && prev.key != cfg.Key {
		if derr := k.Detach(ctx, prev.id); derr != nil {
			logger.Error(derr, "detach previous attachment", "attachment", prev.id)
		}
	}
	if err != nil {
		return err
	}
	logger.Info("manifest applied", "attachment", id, "key", cfg.Key.Short(), "phase", m.Status.Phase)
	return nil
}

func (k *Kernel) compileManifest(ctx context.Context, ag *enclavev1alpha1.ArtifactGraph, m *enclavev1alpha1.ComponentManifest) (*component.Configuration, error) {
	if ag == nil {
		err := fmt.Errorf("%s: %w", m.Spec.GraphRef.Name, ErrGraphNotFound)
		setManifestCondition(m, condition(enclavev1alpha1.ConditionCompiled, false, ReasonGraphNotFound, err.Error()))
		return nil, err
	}

	fail := func(err error) (*component.Configuration, error) {
		setManifestCondition(m, condition(enclavev1alpha1.ConditionCompiled, false, ReasonCompileFailed, err.Error()))
		return nil, err
	}
	opts, policy, err := compileOptions(m.Spec)
	if err != nil {
		return fail(err)
	}
	g, err := BuildGraph(ag, m.Spec.Root)
	if err != nil {
		return fail(err)
	}
	cfg, err := k.Compile(ctx, g, policy, opts...)
	if err != nil {
		return fail(err)
	}
	return cfg, nil
}

func compileOptions(spec enclavev1alpha1.ComponentManifestSpec) ([]compiler.CompileOption, graph.MergePolicy, error) {
	var opts []compiler.CompileOption
	if spec.Scope != "" {
		scope, err := component.ParseScope(string(spec.Scope))
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, compiler.WithScope(scope))
	}
	if spec.Installation != "" {
		opts = append(opts, compiler.WithInstallation(spec.Installation))
	}
	if spec.Mode != "" {
		mode, err := compiler.ParseMode(string(spec.Mode))
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, compiler.WithMode(mode))
	}

	switch spec.CyclePolicy {
	case "", enclavev1alpha1.CyclePolicyCollapse:
		return opts, graph.CollapseCycles, nil
	case enclavev1alpha1.CyclePolicyReject:
		return opts, graph.RejectCycles, nil
	default:
		return nil, nil, fmt.Errorf("unknown cycle policy %q", spec.CyclePolicy)
	}
}

// Remove detaches the attachment backing the manifest named n.
func (k *Kernel) Remove(ctx context.Context, n types.NamespacedName) error {
	a, ok := k.applied.get(n)
	if !ok {
		return nil
	}
	if err := k.Detach(ctx, a.id); err != nil && !errors.Is(err, lifecycle.ErrUnknownAttachment) {
		return err
	}
	k.applied.delete(n)
	return nil
}
