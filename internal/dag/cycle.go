package dag

import "sort"

// detectCycles checks the graph for dependency cycles using depth-first
// search with a recursion-stack marker. On failure it returns a *CycleError
// carrying one witness cycle path, deterministically chosen by visiting
// stages in lexicographic order.
func (g *Graph) detectCycles() error {
	const (
		white = iota // unvisited
		gray         // on the current recursion stack
		black        // fully explored, known safe
	)

	color := make(map[string]int, len(g.stages))
	var path []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		path = append(path, name)

		for _, dep := range g.Dependents(name) {
			switch color[dep] {
			case gray:
				// Back-edge: slice the current path from dep onward and
				// close the loop.
				for i, n := range path {
					if n == dep {
						cycle = append(cycle, path[i:]...)
						cycle = append(cycle, dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		color[name] = black
		return false
	}

	names := make([]string, 0, len(g.stages))
	for name := range g.stages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if color[name] == white {
			if visit(name) {
				return &CycleError{Stages: cycle}
			}
		}
	}
	return nil
}
