package environment

// properties is a frame's view of environment properties: its own
// overrides layered over defaults flattened from the parent at fork time.
// A nil override is a tombstone left by Unsetenv.
//
// defaults and flat are never mutated once published, so children may share
// them freely.
type properties struct {
	defaults map[string]string
	own      map[string]*string
	flat     map[string]string
}

func newProperties(defaults map[string]string) *properties {
	return &properties{defaults: defaults}
}

func (p *properties) lookup(key string) (string, bool) {
	if v, ok := p.own[key]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	v, ok := p.defaults[key]
	return v, ok
}

func (p *properties) set(key, value string) {
	if p.own == nil {
		p.own = map[string]*string{}
	}
	p.own[key] = &value
	p.flat = nil
}

func (p *properties) unset(key string) {
	if p.own == nil {
		p.own = map[string]*string{}
	}
	p.own[key] = nil
	p.flat = nil
}

// flatten returns the effective map. The result is cached until the next
// write and must be treated as read only.
func (p *properties) flatten() map[string]string {
	if p.flat != nil {
		return p.flat
	}
	if len(p.own) == 0 && p.defaults != nil {
		p.flat = p.defaults
		return p.flat
	}
	flat := make(map[string]string, len(p.defaults)+len(p.own))
	for k, v := range p.defaults {
		flat[k] = v
	}
	for k, v := range p.own {
		if v == nil {
			delete(flat, k)
			continue
		}
		flat[k] = *v
	}
	p.flat = flat
	return flat
}
