// Package planner handles the planning phase of overlay operations.
//
// The planner turns a glob pattern and a destination directory into an
// ordered list of filesystem operations without touching the destination.
// Executing the plan in order produces the overlay merge: directories are
// created where absent (never replaced), and every leaf entry that collides
// with an existing non-directory entry is removed before it is placed.
//
// Key responsibilities:
//   - Resolve the top-level pattern and walk matched directories top-down
//   - Cover hidden entries in a separate pass when requested
//   - Track destination directories already ensured within one plan
//   - Detect file-vs-directory type conflicts before anything is written
//   - Compute symlink targets (absolute, as given, or relative)
package planner
