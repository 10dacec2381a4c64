// Package storage archives terminal task results for audit.
//
// The archive is write-mostly: the daemon appends one record per finished
// task and the debug endpoint reads the most recent ones back. It is never
// used to restore engine state.
package storage
