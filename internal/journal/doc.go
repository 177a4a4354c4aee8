// Package journal records board runs on disk.
//
// One JSON record per board lives in the records directory of the bspstage
// state dir. The record is rewritten after every pipeline step, so an aborted
// run leaves a record naming the step that failed. A successful run stores
// the digest of the staged board tree, which Verify compares against the
// tree as it is now (drift detection).
//
// Key concepts:
//   - Record: one board run (status, timing, steps, tree digest)
//   - StepRecord: one pipeline step within a run
//   - RecordStore: interface for persisting and loading records
//   - Clock: time source, faked in tests
package journal
