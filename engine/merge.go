// Package engine provides the workflow orchestration core: node registry,
// execution planner, graph compiler, approval gates, and the checkpoint
// driven run/resume protocol.
package engine

// Reducer merges a partial state update (delta) into the accumulated state
// and returns the result.
//
// The reducer defines the per-field merge policy for the whole workflow:
//   - overwrite: non-zero delta fields replace the previous value
//   - append-unique: sequences concatenate, dropping elements whose key
//     already exists on the left (use AppendUniqueBy)
//   - dict-union: maps shallow-merge, right-hand keys winning (use UnionMaps)
//
// Concurrent stage execution relies on the reducer being associative and
// commutative for append-unique and dict-union fields, so that sibling
// deltas can merge in any completion order without divergence. Reducers must
// treat the zero value of S as a neutral delta.
type Reducer[S any] func(prev, delta S) S

// AppendUniqueBy concatenates right onto left, dropping any element of
// right whose key already occurs in left (or earlier in right). The inputs
// are never mutated.
//
// The operation is idempotent and, for disjoint inputs, commutative up to
// ordering: merging the same fragment twice equals merging it once, which
// is what makes retried or re-delivered stage outputs safe.
func AppendUniqueBy[T any, K comparable](left, right []T, key func(T) K) []T {
	if len(right) == 0 {
		return left
	}

	seen := make(map[K]struct{}, len(left)+len(right))
	out := make([]T, 0, len(left)+len(right))
	for _, item := range left {
		k := key(item)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, item)
	}
	for _, item := range right {
		k := key(item)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, item)
	}
	return out
}

// UnionMaps shallow-merges right into left, right-hand keys winning on
// conflict. The inputs are never mutated; a nil result is only returned
// when both inputs are nil.
func UnionMaps[K comparable, V any](left, right map[K]V) map[K]V {
	if left == nil && right == nil {
		return nil
	}

	out := make(map[K]V, len(left)+len(right))
	for k, v := range left {
		out[k] = v
	}
	for k, v := range right {
		out[k] = v
	}
	return out
}
