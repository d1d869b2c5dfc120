package generator

// BiomeSource decides the biome at a position in the world. Structures consult it to find out if they may
// start in a chunk. Implementations must be deterministic for a given world seed.
type BiomeSource interface {
	// Biome returns the identifier of the biome at the block position passed, such as minecraft:desert.
	Biome(x, y, z int) string
}

// FixedBiome is a BiomeSource that has the same biome at every position.
type FixedBiome string

// Biome ...
func (b FixedBiome) Biome(int, int, int) string {
	return string(b)
}

// BiomeFunc is a BiomeSource implemented by a function.
type BiomeFunc func(x, y, z int) string

// Biome ...
func (f BiomeFunc) Biome(x, y, z int) string {
	return f(x, y, z)
}
