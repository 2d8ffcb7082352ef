// Package scanner performs static, side-effect-free analysis of plugin
// source code before installation.
//
// A scan runs three independent passes over the same input: a dangerous
// pattern pass, a secret detection pass, and an import classification pass.
// Findings are combined into a 0-100 security score. The scanner never
// executes code, never touches the filesystem, and never fails on
// malformed input; all outcomes are reported as data.
package scanner
