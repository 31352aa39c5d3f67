package v1alpha1

type Scope string

type ResolveMode string

type CyclePolicy string

const (
	ScopePlatform     Scope = "platform"
	ScopeAttachment   Scope = "attachment"
	ScopeInstallation Scope = "installation"

	ResolveModeFixed     ResolveMode = "fixed"
	ResolveModeClasspath ResolveMode = "classpath"

	CyclePolicyCollapse CyclePolicy = "Collapse"
	CyclePolicyReject   CyclePolicy = "Reject"
)

type ObjectRef struct {
	Name string `json:"name"`
}

// DependencySpec is an edge to another artifact of the same graph.
type DependencySpec struct {
	ID       string `json:"id"`
	Optional bool   `json:"optional,omitempty"`
}
