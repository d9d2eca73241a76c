// Package metrics provides lock-free counters and latency histograms.
//
// Counters are cache-line-padded uint64 slots incremented with atomic adds.
// Histograms use [BucketCount] fixed buckets (<=5ms ... +Inf). Neither allocates on
// the write path.
//
// # What this package must NOT do
//
//   - Perform I/O or network calls.
//   - Import stayAuth or any sibling package.
//   - Expose global metric registries.
package metrics
