// Package publish runs one publish cycle: take the next phrase of a source
// and deliver it to every active channel, one audit row per attempt.
//
// A phrase is consumed before delivery starts, so a cycle that fails on
// every channel does not retry the same phrase later. Per-channel failures
// are isolated: they are recorded and logged, never returned.
package publish
