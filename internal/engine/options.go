package engine

// DefaultWorkspaceBytes is the builder workspace ceiling used when none is configured.
const DefaultWorkspaceBytes uint64 = 1 << 30

// BuildOptions tune compiled-engine builds.
type BuildOptions struct {
	// WorkspaceBytes caps the scratch memory the builder may use for tactic selection.
	WorkspaceBytes uint64
	// FastMath enables reduced-precision kernels where the device supports them.
	FastMath bool
}

// DefaultBuildOptions returns a 1 GiB workspace with fast math enabled.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		WorkspaceBytes: DefaultWorkspaceBytes,
		FastMath:       true,
	}
}
