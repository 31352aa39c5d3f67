package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ArtifactGraph is a catalogue of artifacts, their locations and the edges
// between them. Manifests pick a root out of it.
//
// +kubebuilder:object:root=true
// +kubebuilder:resource:scope=Namespaced,shortName=ag
type ArtifactGraph struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec ArtifactGraphSpec `json:"spec"`
}

type ArtifactGraphSpec struct {
	Artifacts []ArtifactSpec `json:"artifacts"`
	// Modifiers patch dependency edges before compilation.
	Modifiers *GraphModifiers `json:"modifiers,omitempty"`
	// Pins constrain version mediation, keyed by "group:name".
	Pins map[string]string `json:"pins,omitempty"`
	// Mediate collapses every "group:name" to a single version.
	Mediate bool `json:"mediate,omitempty"`
}

type ArtifactSpec struct {
	// ID is "group:name:version".
	ID string `json:"id"`
	// Locations are directory or archive references, see location.Open.
	Locations    []string         `json:"locations,omitempty"`
	Dependencies []DependencySpec `json:"dependencies,omitempty"`
	EntryPoints  []string         `json:"entryPoints,omitempty"`
}

type GraphModifiers struct {
	Add     []AddDependencies   `json:"add,omitempty"`
	Replace []ReplaceDependency `json:"replace,omitempty"`
}

type AddDependencies struct {
	// Parent is a "group:name" key.
	Parent       string   `json:"parent"`
	Dependencies []string `json:"dependencies"`
}

type ReplaceDependency struct {
	Target string   `json:"target"`
	With   []string `json:"with"`
	Except []string `json:"except,omitempty"`
}

// +kubebuilder:object:root=true
type ArtifactGraphList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ArtifactGraph `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ArtifactGraph{}, &ArtifactGraphList{})
}
