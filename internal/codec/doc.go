// Package codec converts identifiers and tag pairings to and from the
// fixed-width big-endian records the perftags engine exchanges on disk.
//
// Every identifier is an unsigned 64-bit integer written as 8 bytes,
// most significant byte first. A pairing record is
//
//	[tag:8][count:8][count × taggable:8]
//
// and a pairing payload is a concatenation of such records. Record
// boundaries are self-describing through the embedded counts.
package codec
