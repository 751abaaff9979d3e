// Package scheduler keeps the daily publish triggers of every phrase source.
//
// The registry only decides when a source is due. Each trigger is turned into
// an engine task; the publish body itself is supplied by the caller.
package scheduler
