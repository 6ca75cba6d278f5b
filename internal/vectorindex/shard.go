package vectorindex

// NewLeafShardIndex picks the flat or approximate branch of LeafShardIndex
// (C6) based on shard size, per spec §4.6's adaptive construction rule.
func NewLeafShardIndex(estimatedSize, dimensions int) Index {
	if estimatedSize < IVFPQThreshold {
		return NewFlatIndex(dimensions)
	}
	return NewApproxIndex(dimensions)
}
