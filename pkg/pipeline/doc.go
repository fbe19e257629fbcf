// Package pipeline runs harness jobs as a chain of typed stages connected by
// channels.
//
// A job starts with one or more sources (serial ports to probe, benchmark tasks,
// source files to scrape), flows through stages that may run several workers
// concurrently, and ends in sinks that collect results into reports. Stages can be
// merged with AddFanIn or duplicated with AddFanOut.
//
// The pipeline stops on the first error. Every stage selects on the pipeline
// context around each send, so a failing probe or a timed out command cancels the
// remaining work instead of leaving goroutines blocked.
//
// Hooks from the measure and drawer packages observe stage timings and render the
// stage graph once the run completes.
package pipeline
