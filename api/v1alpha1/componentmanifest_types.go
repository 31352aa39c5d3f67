package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	ConditionCompiled = "Compiled"
	ConditionAttached = "Attached"
	ConditionStarted  = "Started"

	PhasePending  = "Pending"
	PhaseAttached = "Attached"
	PhaseRunning  = "Running"
	PhaseFailed   = "Failed"
)

// ComponentManifest asks the host to compile a root artifact out of an
// ArtifactGraph, attach it and start it.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced,shortName=cm
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Root",type=string,JSONPath=`.spec.root`
// +kubebuilder:printcolumn:name="Key",type=string,JSONPath=`.status.key`
type ComponentManifest struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ComponentManifestSpec   `json:"spec"`
	Status ComponentManifestStatus `json:"status,omitempty"`
}

type ComponentManifestSpec struct {
	GraphRef ObjectRef `json:"graphRef"`
	// Root is the "group:name:version" of the artifact to attach.
	Root         string      `json:"root"`
	Scope        Scope       `json:"scope,omitempty"`
	Installation string      `json:"installation,omitempty"`
	Mode         ResolveMode `json:"mode,omitempty"`
	CyclePolicy  CyclePolicy `json:"cyclePolicy,omitempty"`
	// Suspend attaches without starting.
	Suspend bool `json:"suspend,omitempty"`
}

type ComponentManifestStatus struct {
	Phase      string             `json:"phase,omitempty"`
	Key        string             `json:"key,omitempty"`
	Attachment *int32             `json:"attachment,omitempty"`
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
type ComponentManifestList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ComponentManifest `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ComponentManifest{}, &ComponentManifestList{})
}
