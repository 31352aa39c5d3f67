package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *ArtifactSpec) DeepCopyInto(out *ArtifactSpec) {
	*out = *in
	if in.Locations != nil {
		out.Locations = append([]string(nil), in.Locations...)
	}
	if in.Dependencies != nil {
		out.Dependencies = append([]DependencySpec(nil), in.Dependencies...)
	}
	if in.EntryPoints != nil {
		out.EntryPoints = append([]string(nil), in.EntryPoints...)
	}
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *GraphModifiers) DeepCopyInto(out *GraphModifiers) {
	*out = *in
	if in.Add != nil {
		out.Add = make([]AddDependencies, len(in.Add))
		for i, a := range in.Add {
			out.Add[i] = AddDependencies{Parent: a.Parent, Dependencies: append([]string(nil), a.Dependencies...)}
		}
	}
	if in.Replace != nil {
		out.Replace = make([]ReplaceDependency, len(in.Replace))
		for i, r := range in.Replace {
			out.Replace[i] = ReplaceDependency{
				Target: r.Target,
				With:   append([]string(nil), r.With...),
				Except: append([]string(nil), r.Except...),
			}
		}
	}
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *ArtifactGraphSpec) DeepCopyInto(out *ArtifactGraphSpec) {
	*out = *in
	if in.Artifacts != nil {
		out.Artifacts = make([]ArtifactSpec, len(in.Artifacts))
		for i := range in.Artifacts {
			in.Artifacts[i].DeepCopyInto(&out.Artifacts[i])
		}
	}
	if in.Modifiers != nil {
		out.Modifiers = new(GraphModifiers)
		in.Modifiers.DeepCopyInto(out.Modifiers)
	}
	if in.Pins != nil {
		out.Pins = make(map[string]string, len(in.Pins))
		for k, v := range in.Pins {
			out.Pins[k] = v
		}
	}
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *ArtifactGraph) DeepCopyInto(out *ArtifactGraph) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
}

// DeepCopy copies the receiver, creating a new ArtifactGraph.
func (in *ArtifactGraph) DeepCopy() *ArtifactGraph {
	if in == nil {
		return nil
	}
	out := new(ArtifactGraph)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *ArtifactGraph) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *ArtifactGraphList) DeepCopyInto(out *ArtifactGraphList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]ArtifactGraph, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

// DeepCopy copies the receiver, creating a new ArtifactGraphList.
func (in *ArtifactGraphList) DeepCopy() *ArtifactGraphList {
	if in == nil {
		return nil
	}
	out := new(ArtifactGraphList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *ArtifactGraphList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *ComponentManifestStatus) DeepCopyInto(out *ComponentManifestStatus) {
	*out = *in
	if in.Attachment != nil {
		out.Attachment = new(int32)
		*out.Attachment = *in.Attachment
	}
	if in.Conditions != nil {
		out.Conditions = make([]metav1.Condition, len(in.Conditions))
		for i := range in.Conditions {
			in.Conditions[i].DeepCopyInto(&out.Conditions[i])
		}
	}
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *ComponentManifest) DeepCopyInto(out *ComponentManifest) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	out.Spec = in.Spec
	in.Status.DeepCopyInto(&out.Status)
}

// DeepCopy copies the receiver, creating a new ComponentManifest.
func (in *ComponentManifest) DeepCopy() *ComponentManifest {
	if in == nil {
		return nil
	}
	out := new(ComponentManifest)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *ComponentManifest) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *ComponentManifestList) DeepCopyInto(out *ComponentManifestList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]ComponentManifest, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

// DeepCopy copies the receiver, creating a new ComponentManifestList.
func (in *ComponentManifestList) DeepCopy() *ComponentManifestList {
	if in == nil {
		return nil
	}
	out := new(ComponentManifestList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *ComponentManifestList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}
