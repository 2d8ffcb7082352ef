package permission

// AccessLevel is the direction of a filesystem grant.
type AccessLevel string

// Filesystem access levels.
const (
	AccessRead      AccessLevel = "read"
	AccessWrite     AccessLevel = "write"
	AccessReadWrite AccessLevel = "readwrite"
)

// Valid reports whether the level is one of the three known values.
func (a AccessLevel) Valid() bool {
	switch a {
	case AccessRead, AccessWrite, AccessReadWrite:
		return true
	}
	return false
}

// Allows reports whether the level covers the requested direction.
func (a AccessLevel) Allows(want AccessLevel) bool {
	return a == AccessReadWrite || a == want
}

// FileSystemPermission grants access to paths matching a glob pattern.
type FileSystemPermission struct {
	// Path is a glob-style pattern (e.g. "/data/plugins/**").
	Path string `json:"path"`

	// Access is read, write, or readwrite.
	Access AccessLevel `json:"access"`
}

// NetworkPermission grants access to a host, optionally narrowed to
// specific ports and protocols.
type NetworkPermission struct {
	// Host is an exact hostname or a "*."-prefixed wildcard.
	Host string `json:"host"`

	// Ports optionally restricts reachable ports; empty means any.
	Ports []int `json:"ports,omitempty"`

	// Protocols optionally restricts schemes (http, https, ws, wss).
	Protocols []string `json:"protocols,omitempty"`
}

// PermissionSet is the capability grant for one plugin. Entry order is
// irrelevant: an action is allowed when any entry grants it.
type PermissionSet struct {
	FileSystem []FileSystemPermission `json:"filesystem"`
	Network    []NetworkPermission    `json:"network"`
	Tools      []string               `json:"tools"`
	MCPServers []string               `json:"mcpServers,omitempty"`
}

// Empty reports whether the set grants nothing.
func (ps PermissionSet) Empty() bool {
	return len(ps.FileSystem) == 0 && len(ps.Network) == 0 &&
		len(ps.Tools) == 0 && len(ps.MCPServers) == 0
}

// Clone returns a deep copy so callers can hold a set beyond the life of
// the manifest it came from.
func (ps PermissionSet) Clone() PermissionSet {
	out := PermissionSet{
		FileSystem: make([]FileSystemPermission, len(ps.FileSystem)),
		Network:    make([]NetworkPermission, len(ps.Network)),
		Tools:      make([]string, len(ps.Tools)),
		MCPServers: make([]string, len(ps.MCPServers)),
	}
	copy(out.FileSystem, ps.FileSystem)
	copy(out.Tools, ps.Tools)
	copy(out.MCPServers, ps.MCPServers)
	for i, np := range ps.Network {
		cp := np
		cp.Ports = append([]int(nil), np.Ports...)
		cp.Protocols = append([]string(nil), np.Protocols...)
		out.Network[i] = cp
	}
	return out
}
