// Package shard provides deterministic document→shard assignment, per
// spec §4.4 (C4 ShardRouter). The routing function must be bit-identical
// across platforms; it uses the standard library's FNV-1a32 (hash/fnv),
// whose output is fixed by the algorithm.
package shard

import "hash/fnv"

// Count is SHARD_COUNT from spec §3/§4.4.
const Count = 128

// For returns the shard assignment for docUri: FNV1a32(utf8(docUri)) mod Count.
func For(docURI string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(docURI))
	return h.Sum32() % Count
}
