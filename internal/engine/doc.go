// Package engine implements the event pipeline runtime: flows assembled from
// stages, the failure strategies that keep processing total, and the
// notification, statistics and reply plumbing around them.
//
// The package is internal; the public surface is re-exported by the root
// stageflow package.
package engine
