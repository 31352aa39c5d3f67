package kernel

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	enclavev1alpha1 "github.com/anvil-platform/enclave/api/v1alpha1"
)

const (
	ReasonCompiled          = "Compiled"
	ReasonCompileFailed     = "CompileFailed"
	ReasonGraphNotFound     = "GraphNotFound"
	ReasonAttached          = "Attached"
	ReasonAttachFailed      = "AttachFailed"
	ReasonStarted           = "Started"
	ReasonStartFailed       = "StartFailed"
	ReasonSuspended         = "Suspended"
	ReasonDependencyPending = "DependencyPending"
)

func setManifestCondition(m *enclavev1alpha1.ComponentManifest, condition metav1.Condition) {
	if m == nil {
		return
	}
	condition.ObservedGeneration = m.Generation
	meta.SetStatusCondition(&m.Status.Conditions, condition)
}

func condition(t string, ok bool, reason, message string) metav1.Condition {
	status := metav1.ConditionFalse
	if ok {
		status = metav1.ConditionTrue
	}
	return metav1.Condition{Type: t, Status: status, Reason: reason, Message: message}
}

func compiledMessage(name string, members int) string {
	if members <= 1 {
		return fmt.Sprintf("Compiled into %s", name)
	}
	return fmt.Sprintf("Compiled into %s merging %d artifacts", name, members)
}
