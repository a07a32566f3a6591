// Package store owns the on-disk layout of the asset cache. Files live under
// two roots:
//
//	<RootDirectoryName>/cache/<identifier>        # temporary, prunable
//	<RootDirectoryName>/permanent/<identifier>    # exempt from pruning
//
// Writes go through a temp file + rename so readers never observe a partially
// written asset. The store keeps an in-memory ledger (size, last access time)
// for the pruning policy; the ledger is rebuilt from disk on construction so
// caches survive restarts. Pruning evicts unlocked temporary entries oldest
// access first and deliberately leaves the limit exceeded rather than delete
// a file a live consumer still holds.
package store
