package voxmesh

// Option configures a Context during creation.
//
// Example:
//
//	// Default heap and staging sizes
//	ctx, err := voxmesh.NewContext(device, queue)
//
//	// Custom sizing for large worlds
//	ctx, err := voxmesh.NewContext(device, queue,
//	    voxmesh.WithHeapBytes(64<<20),
//	    voxmesh.WithStagingBytes(4<<20))
type Option func(*contextOptions)

// contextOptions holds optional configuration for Context creation.
type contextOptions struct {
	heapBytes    uint32
	stagingBytes uint32
	chunkSize    int
}

// defaultOptions returns the default context options. Zero sizes defer to
// the heap's own defaults.
func defaultOptions() contextOptions {
	return contextOptions{
		chunkSize: DefaultChunkSize,
	}
}

// WithHeapBytes sets the device heap size each world allocates its chunk
// regions from. Zero selects the default.
func WithHeapBytes(n uint32) Option {
	return func(o *contextOptions) {
		o.heapBytes = n
	}
}

// WithStagingBytes sets the size of each world's host-visible staging ring.
// Zero selects the default. Uploads larger than the ring fail outright, so
// size it for the largest single chunk payload.
func WithStagingBytes(n uint32) Option {
	return func(o *contextOptions) {
		o.stagingBytes = n
	}
}

// WithChunkSize sets the edge length of chunks created by worlds on this
// context. Must be in [1, 256]; NewContext rejects values outside that range.
func WithChunkSize(size int) Option {
	return func(o *contextOptions) {
		o.chunkSize = size
	}
}
