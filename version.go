package svcgroup

// Version is the current version of the svcgroup library
const Version = "1.0.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// Backends lists the dispatch backends compiled in
	Backends []string
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version: Version,
		Backends: []string{
			BackendSystemctl.String(),
			BackendDBus.String(),
			BackendRunit.String(),
			BackendDaemontools.String(),
			BackendS6.String(),
		},
	}
}
