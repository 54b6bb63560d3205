// Package ir provides canonical intermediate representation types for COPF.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This ensures IR remains the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Timestamp is display-only; ordering is by the internal Seq field
//   - All JSON tags use snake_case
//   - Logical clocks (seq) only, never wall-clock timestamps for ordering
package ir
