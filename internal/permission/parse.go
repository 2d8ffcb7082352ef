package permission

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Parse extracts the optional "permissions" block from raw manifest JSON
// into a typed PermissionSet. The mapping is lossless and tolerant: an
// absent block, absent fields, or wrong-typed entries yield empty lists,
// never an error. Unknown access levels default to read.
func Parse(manifestJSON []byte) PermissionSet {
	ps := PermissionSet{
		FileSystem: []FileSystemPermission{},
		Network:    []NetworkPermission{},
		Tools:      []string{},
		MCPServers: []string{},
	}

	block := gjson.GetBytes(manifestJSON, "permissions")
	if !block.Exists() {
		return ps
	}

	block.Get("filesystem").ForEach(func(_, entry gjson.Result) bool {
		path := entry.Get("path").String()
		if path == "" {
			return true
		}
		access := AccessLevel(entry.Get("access").String())
		if !access.Valid() {
			access = AccessRead
		}
		ps.FileSystem = append(ps.FileSystem, FileSystemPermission{
			Path:   path,
			Access: access,
		})
		return true
	})

	block.Get("network").ForEach(func(_, entry gjson.Result) bool {
		host := entry.Get("host").String()
		if host == "" {
			// Bare string entries are accepted as host-only grants.
			if entry.Type == gjson.String {
				host = entry.String()
			}
			if host == "" {
				return true
			}
		}
		np := NetworkPermission{Host: host}
		entry.Get("ports").ForEach(func(_, p gjson.Result) bool {
			np.Ports = append(np.Ports, int(p.Int()))
			return true
		})
		entry.Get("protocols").ForEach(func(_, p gjson.Result) bool {
			np.Protocols = append(np.Protocols, p.String())
			return true
		})
		ps.Network = append(ps.Network, np)
		return true
	})

	block.Get("tools").ForEach(func(_, entry gjson.Result) bool {
		if name := entry.String(); name != "" {
			ps.Tools = append(ps.Tools, name)
		}
		return true
	})

	block.Get("mcpServers").ForEach(func(_, entry gjson.Result) bool {
		if name := entry.String(); name != "" {
			ps.MCPServers = append(ps.MCPServers, name)
		}
		return true
	})

	return ps
}

// StampApproved writes the approved grant set back into manifest JSON
// under "permissions.approved", for the installer to persist alongside
// the plugin.
func StampApproved(manifestJSON []byte, approved PermissionSet) ([]byte, error) {
	out, err := sjson.SetBytes(manifestJSON, "permissions.approved", approved)
	if err != nil {
		return nil, fmt.Errorf("stamp approved permissions: %w", err)
	}
	return out, nil
}
