package mcdb

const (
	// keyVersion holds the data version of a chunk as a little endian int32.
	keyVersion = ','
	// keyStructures holds the structure section of a chunk: a compound with the Starts and References of
	// the chunk.
	keyStructures = 's'
	// keyLegacy holds the full record of a chunk written before structure data was split off into its own
	// key. It is removed as soon as the chunk is written again.
	keyLegacy = 'L'
)
