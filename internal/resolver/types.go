package resolver

import (
	"io"

	"github.com/anvil-platform/enclave/internal/location"
)

// Kind distinguishes class lookups from plain resource lookups.
type Kind string

const (
	KindClass    Kind = "class"
	KindResource Kind = "resource"
)

// Unit is a resolved symbol: the resource that holds it and the node whose
// local locations it was found in.
type Unit struct {
	Name     string
	Kind     Kind
	Resource location.Resource
	Node     *Node
}

// Open returns the unit content.
func (u Unit) Open() (io.ReadCloser, error) {
	return u.Resource.Open()
}

// URL identifies where the unit was loaded from.
func (u Unit) URL() string {
	return u.Resource.URL()
}

// Diagnostics is a point in time description of a node, suitable for logs
// and status messages.
type Diagnostics struct {
	Key         string
	Name        string
	Attachments int
	Locations   []string
	// Delegates lists, per path list, the names of the nodes searched. An
	// empty name marks a delegate that was never realized.
	Delegates [][]string
}
