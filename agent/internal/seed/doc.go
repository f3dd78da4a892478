// Package seed reads seed files and derives cache writes from them.
//
// A seed file is a JSON object; each member is one cache entry, optionally
// renamed with the source's key prefix. Read compacts every value so that
// reformatting the file produces no writes.
//
// Engine keeps the last contents per source. Process returns only what
// changed since the previous read: puts for new or modified keys, and, for
// sources with prune enabled, deletes for keys that disappeared. The first
// read of a source is a full load.
package seed
