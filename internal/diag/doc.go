// Package diag defines the diagnostic model produced by compile attempts.
//
// A Diagnostic always belongs to one document path and carries both the raw
// byte span reported by the compiler and the editor Range derived from the
// exact text that was compiled. Diagnostics have no lifecycle of their own:
// every compile of a project root replaces the whole set for each member
// document.
//
// Bag collects diagnostics with a per-path limit and provides deterministic
// Sort and Dedup passes.
package diag
