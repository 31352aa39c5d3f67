package resolver

// Resolver looks up symbols on behalf of a running component. Lookups never
// fall back to anything outside the attached node tree.
type Resolver interface {
	// LoadSymbol resolves a class name such as "com.acme.Widget".
	LoadSymbol(name string) (Unit, error)
	// Resource resolves a slash separated resource name, first hit wins.
	Resource(name string) (Unit, error)
	// Resources returns every visible copy of a resource, in search order.
	Resources(name string) ([]Unit, error)
}

var _ Resolver = (*Node)(nil)
