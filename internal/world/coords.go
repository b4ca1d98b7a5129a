package world

// ChunkPos and RegionPos follow §3's floor-correct shift math: chunk =
// block>>4, region = chunk>>5 (Euclidean, so negatives floor correctly
// because Go's >> on signed integers is an arithmetic shift).

type ChunkPos struct {
	X, Z int32
}

type RegionPos struct {
	X, Z int32
}

// RegionOf returns the region a chunk belongs to.
func (c ChunkPos) RegionOf() RegionPos {
	return RegionPos{X: c.X >> 5, Z: c.Z >> 5}
}

// BlockToChunk converts a block coordinate to its containing chunk
// coordinate.
func BlockToChunk(block int64) int32 {
	return int32(block >> 4)
}
