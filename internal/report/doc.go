// Package report turns CI artifacts (JUnit XML, lcov traces, cucumber JSON and
// the HIL tool reports) into the JSON summaries published by the pipeline.
package report
