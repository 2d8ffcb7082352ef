// Package sandbox owns live plugin execution contexts and runs untrusted
// code under enforced restrictions.
//
// A Runtime holds a table of Contexts, each bound to one plugin, one
// approved permission set, and one set of resource limits. Execute runs a
// code unit inside a context: banned patterns abort before any user code
// runs, the code sees only a fixed restricted namespace, execution races
// a CPU-time budget, and every capability-gated primitive consults the
// permission validator and the context's resource counters. Policy
// breaches are recorded as violations on the returned ExecutionResult;
// Execute itself never panics and never propagates an error to its caller.
//
// The mechanism that actually evaluates code is injected behind the
// Evaluator interface. LuaEvaluator is the provided implementation; tests
// exercise the runtime with stub evaluators.
package sandbox
