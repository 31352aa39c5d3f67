package main

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/enclave/internal/environment"
	"github.com/anvil-platform/enclave/internal/lifecycle"
)

// Built in entry points, usable from any artifact graph.
const (
	entryPointAnnounce = "enclave.announce"
	entryPointEnv      = "enclave.env"
)

func registerBuiltins(r *lifecycle.Registry) {
	r.MustRegister(entryPointAnnounce, lifecycle.EntryPointFuncs{
		StartFunc: func(ctx context.Context) error {
			f := environment.Current(ctx)
			log.FromContext(ctx).Info("component started", "frame", f.String())
			_, err := environment.Printf(ctx, "started %s\n", f.Name())
			return err
		},
		StopFunc: func(ctx context.Context) error {
			f := environment.Current(ctx)
			log.FromContext(ctx).Info("component stopped", "frame", f.String())
			_, err := environment.Printf(ctx, "stopped %s\n", f.Name())
			return err
		},
	})
	// enclave.env checks the component sees an environment; it fails start
	// when ENCLAVE_REQUIRED names a property that is unset.
	r.MustRegister(entryPointEnv, lifecycle.EntryPointFuncs{
		StartFunc: func(ctx context.Context) error {
			key, ok := environment.LookupEnv(ctx, "ENCLAVE_REQUIRED")
			if !ok || key == "" {
				return nil
			}
			if _, ok := environment.LookupEnv(ctx, key); !ok {
				return fmt.Errorf("required property %s is not set", key)
			}
			return nil
		},
	})
}
