package reco

// AssociationIndex maps a V0 index to the cascades that reference it as
// parent, so the per-V0 loop enumerates only relevant cascades. Built once
// per event, read-only afterwards. Bucket order follows the event's
// cascade input order, so iteration is deterministic.
type AssociationIndex struct {
	buckets map[int][]int
}

// BuildAssociationIndex indexes every cascade triplet under its V0.
func BuildAssociationIndex(cascades []CascadeTriplet) AssociationIndex {
	buckets := make(map[int][]int, len(cascades))
	for i, trip := range cascades {
		buckets[trip.V0] = append(buckets[trip.V0], i)
	}
	return AssociationIndex{buckets: buckets}
}

// Cascades returns the cascade indices referencing v0, in input order.
// A V0 with no cascades yields an empty bucket.
func (ai AssociationIndex) Cascades(v0 int) []int {
	return ai.buckets[v0]
}
