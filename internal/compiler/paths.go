package compiler

import (
	"sort"
	"strconv"
	"strings"

	"github.com/anvil-platform/enclave/internal/component"
)

// pathTable accumulates, for every resource name, the ordered list of path
// steps to search, and interns the steps themselves. A configuration reached
// through several steps is searched once, at its first position.
type pathTable struct {
	steps     []component.PathStep
	stepIndex map[component.PathStep]int
	byName    map[string][]int
	reached   map[string][]*component.Configuration
}

func newPathTable() *pathTable {
	return &pathTable{
		stepIndex: map[component.PathStep]int{},
		byName:    map[string][]int{},
		reached:   map[string][]*component.Configuration{},
	}
}

// addLocal routes names to the configuration's own locations. A nil entry
// in reached stands for the configuration being built.
func (t *pathTable) addLocal(names []string) {
	for _, n := range names {
		if _, ok := t.byName[n]; !ok {
			t.byName[n] = []int{component.Local}
			t.reached[n] = []*component.Configuration{nil}
		}
	}
}

func (t *pathTable) addStep(dependency, next int) int {
	step := component.PathStep{Dependency: dependency, Next: next}
	if idx, ok := t.stepIndex[step]; ok {
		return idx
	}
	idx := len(t.steps)
	t.steps = append(t.steps, step)
	t.stepIndex[step] = idx
	return idx
}

// mergeDependency appends, for every name the dependency routes, one step
// per entry of the dependency's own path list for that name.
func (t *pathTable) mergeDependency(pos int, dep *compiled) {
	for _, name := range sortedNames(dep.names) {
		list := t.byName[name]
		for _, p := range dep.cfg.PathIDs[dep.names[name]] {
			target := dep.cfg.Follow(p)
			if t.hasReached(name, target) {
				continue
			}
			t.reached[name] = append(t.reached[name], target)
			list = append(list, t.addStep(pos, p))
		}
		t.byName[name] = list
	}
}

func (t *pathTable) hasReached(name string, target *component.Configuration) bool {
	for _, r := range t.reached[name] {
		if r == target {
			return true
		}
	}
	return false
}

// compact assigns small ids to distinct path lists. Names are visited in
// sorted order and a list gets its id the first time it is seen, so the
// result does not depend on map iteration order.
func (t *pathTable) compact() ([]component.PathStep, [][]int, map[string]int) {
	names := make([]string, 0, len(t.byName))
	for n := range t.byName {
		names = append(names, n)
	}
	sort.Strings(names)

	ids := map[string]int{}
	var pathIDs [][]int
	table := make(map[string]int, len(names))
	for _, n := range names {
		list := t.byName[n]
		k := listKey(list)
		id, ok := ids[k]
		if !ok {
			id = len(pathIDs)
			ids[k] = id
			pathIDs = append(pathIDs, list)
		}
		table[n] = id
	}
	return t.steps, pathIDs, table
}

func listKey(list []int) string {
	var b strings.Builder
	for i, v := range list {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}
