// Package objcodec implements the on-repository object wire format:
// tree/inode/blob payloads framed as a type byte followed by a sequence of
// self-describing tag records, with a canonical (deterministic) byte
// ordering so that identical semantic content always produces identical
// bytes and therefore identical OIDs.
package objcodec

import "dagback/internal/core"

// Type bytes for the framed object format (spec §4.3).
const (
	TypeTree  byte = 0x74 // 't'
	TypeInode byte = 0x69 // 'i'
	TypeBlob  byte = 0x62 // 'b'
)

// TreeEntry is one (name, child-OID) pair in a Tree's entry list.
type TreeEntry struct {
	Name     string
	ChildOID core.OID
}

// Tree is the metadata and entry list for a directory.
type Tree struct {
	UID     uint32
	GID     uint32
	Mode    uint32
	Entries []TreeEntry // EncodeTree sorts these by Name (unsigned byte order); input order does not matter
}

// DataChunk is one (offset, blob-OID) pair in an Inode's chunk list.
type DataChunk struct {
	Offset  int64
	BlobOID core.OID
}

// Inode is the metadata and chunk list for a regular file.
type Inode struct {
	Size    int64
	InodeNo uint64
	UID     uint32
	GID     uint32
	Mode    uint32
	CtimeNs int64
	MtimeNs int64
	Chunks  []DataChunk // EncodeInode sorts these ascending by Offset; input order does not matter
}

// Blob is an opaque byte range: one chunk of a file's contents.
type Blob struct {
	Data []byte
}
