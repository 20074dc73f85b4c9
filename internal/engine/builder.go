package engine

// Builder compiles a portable model file into a serialized, hardware-specific
// execution plan. Build either returns the complete plan or an error; it never
// caches.
type Builder interface {
	Build(modelPath string, opts BuildOptions) ([]byte, error)
	// Target identifies the runtime version and device the plans are specialized for.
	Target() string
}
