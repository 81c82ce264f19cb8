package bus

import "hash/fnv"

// Partition maps a producer key to one of n partitions by FNV-1a hash, so
// that the same source-address always lands on the same partition and a
// point's samples are never reordered relative to each other (§4.B).
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
