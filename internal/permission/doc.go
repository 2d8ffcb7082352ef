// Package permission models plugin capability grants and decides whether
// actions may proceed.
//
// A PermissionSet is the typed capability request parsed from a plugin
// manifest. The Validator answers two questions about it: at install time,
// Validate checks the requested set against a security policy and splits
// it into approved and denied entries; at run time, Check answers live
// "may this action proceed" queries against the approved set.
//
// Every Check call appends exactly one entry to the validator's bounded
// audit log, whether the action was allowed or denied. Durable persistence
// of audit entries is a collaborator concern; the log here is an in-memory
// ring queryable through GetAuditLog.
package permission
