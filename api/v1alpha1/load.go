package v1alpha1

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
)

// Documents are the objects read from one or more YAML streams.
type Documents struct {
	Graphs    []ArtifactGraph
	Manifests []ComponentManifest
}

// Graph returns the graph named name.
func (d *Documents) Graph(name string) (*ArtifactGraph, bool) {
	for i := range d.Graphs {
		if d.Graphs[i].Name == name {
			return &d.Graphs[i], true
		}
	}
	return nil, false
}

var decodeScheme = func() *runtime.Scheme {
	s := runtime.NewScheme()
	if err := AddToScheme(s); err != nil {
		panic(err)
	}
	return s
}()

// LoadFiles reads every path into one Documents. Errors are aggregated per
// file.
func LoadFiles(paths ...string) (*Documents, error) {
	docs := &Documents{}
	var errs []error
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := docs.Decode(f); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
		f.Close()
	}
	return docs, utilerrors.NewAggregate(errs)
}

// Decode appends the objects of a multi document YAML stream. Documents
// with an apiVersion other than GroupVersion, or an unregistered kind, are
// errors; empty documents are skipped.
func (d *Documents) Decode(r io.Reader) error {
	reader := utilyaml.NewYAMLReader(bufio.NewReader(r))
	for i := 0; ; i++ {
		raw, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
		var tm metav1.TypeMeta
		if err := yaml.Unmarshal(raw, &tm); err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
		if tm.Kind == "" && tm.APIVersion == "" {
			continue
		}
		if tm.APIVersion != GroupVersion.String() {
			return fmt.Errorf("document %d: unsupported apiVersion %q", i, tm.APIVersion)
		}
		obj, err := decodeScheme.New(GroupVersion.WithKind(tm.Kind))
		if err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
		if err := yaml.UnmarshalStrict(raw, obj); err != nil {
			return fmt.Errorf("document %d (%s): %w", i, tm.Kind, err)
		}
		switch o := obj.(type) {
		case *ArtifactGraph:
			d.Graphs = append(d.Graphs, *o)
		case *ArtifactGraphList:
			d.Graphs = append(d.Graphs, o.Items...)
		case *ComponentManifest:
			d.Manifests = append(d.Manifests, *o)
		case *ComponentManifestList:
			d.Manifests = append(d.Manifests, o.Items...)
		}
	}
}
