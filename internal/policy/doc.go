// Package policy defines the security policy model for the plugin sandbox.
//
// A SecurityPolicy is pure configuration: permission quotas, banned code
// patterns, secret detection patterns, module allow/deny lists, and trusted
// domains. Policies have no behavior of their own beyond lookup and merge;
// validation and enforcement happen in the components that consume them
// (the scanner, the permission validator, and the sandbox runtime).
//
// Four named presets are provided: default, strict, permissive, and
// development. Presets are value instances, not subtypes. Custom policies
// are built by merging an Overlay onto a preset with Merge, or loaded from
// a YAML file with LoadFile.
package policy
