// Package coverage merges per-job line coverage into a single report.
//
// Reports are read from a JSON interchange format, either
// {"files": {"path": {"line": hits}}} or the bare file map, or from LCOV
// tracefiles, and written back in either format. Merging sums hit counts
// over the union of files and lines. Missing inputs never abort a merge;
// they mark the result incomplete.
package coverage
