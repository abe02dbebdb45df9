package engine

// RouteEnd is the reserved routing target that finishes the run early.
const RouteEnd = "end"

// RouteFunc inspects the accumulated state after a node's stage and names
// the node to execute next, or RouteEnd to complete the run.
type RouteFunc[S any] func(state S) string

// RouteTable attaches a conditional edge to a node. After the stage
// containing At completes and its deltas are merged, Route is evaluated
// and execution jumps to the stage of the returned target. Returning a
// target outside Targets is a structural error that aborts the run.
type RouteTable[S any] struct {
	At      string
	Route   RouteFunc[S]
	Targets []string
}

func (rt RouteTable[S]) allows(target string) bool {
	for _, t := range rt.Targets {
		if t == target {
			return true
		}
	}
	return false
}
