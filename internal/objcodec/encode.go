package objcodec

import (
	"bytes"
	"encoding/binary"
	"sort"

	"dagback/internal/core"
)

// recordWriter appends self-describing tag records: a one-byte tag
// length, the tag bytes, a varint value length, and the value bytes. This
// is the "compact schema-free encoding" spec §4.3 calls for: any canonical
// binary form suffices provided the same input always produces the same
// bytes, which a length-prefixed TLV stream guarantees.
type recordWriter struct {
	buf bytes.Buffer
}

func (w *recordWriter) record(tag string, value []byte) {
	w.buf.WriteByte(byte(len(tag)))
	w.buf.WriteString(tag)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(value)))
	w.buf.Write(lenBuf[:n])
	w.buf.Write(value)
}

func (w *recordWriter) uintRecord(tag string, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.record(tag, b[:])
}

func (w *recordWriter) intRecord(tag string, v int64) {
	w.uintRecord(tag, uint64(v))
}

// EncodeTree returns the canonical plaintext payload for a directory
// object: type byte 't', then u/g/m metadata records in schema order,
// then one 'e' record per entry sorted by name as an unsigned byte
// sequence.
func EncodeTree(t *Tree) []byte {
	entries := make([]TreeEntry, len(t.Entries))
	copy(entries, t.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	w := &recordWriter{}
	w.uintRecord("u", uint64(t.UID))
	w.uintRecord("g", uint64(t.GID))
	w.uintRecord("m", uint64(t.Mode))
	for _, e := range entries {
		var v bytes.Buffer
		var lenBuf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(lenBuf[:], uint64(len(e.Name)))
		v.Write(lenBuf[:n])
		v.WriteString(e.Name)
		v.Write(e.ChildOID[:])
		w.record("e", v.Bytes())
	}

	out := make([]byte, 0, w.buf.Len()+1)
	out = append(out, TypeTree)
	out = append(out, w.buf.Bytes()...)
	return out
}

// EncodeInode returns the canonical plaintext payload for a regular
// file's metadata object: type byte 'i', then s/i/u/g/m/ct/mt records in
// schema order, then one 'd' record per data chunk sorted by offset.
func EncodeInode(i *Inode) []byte {
	chunks := make([]DataChunk, len(i.Chunks))
	copy(chunks, i.Chunks)
	sort.Slice(chunks, func(a, b int) bool { return chunks[a].Offset < chunks[b].Offset })

	w := &recordWriter{}
	w.intRecord("s", i.Size)
	w.uintRecord("i", i.InodeNo)
	w.uintRecord("u", uint64(i.UID))
	w.uintRecord("g", uint64(i.GID))
	w.uintRecord("m", uint64(i.Mode))
	w.intRecord("ct", i.CtimeNs)
	w.intRecord("mt", i.MtimeNs)
	for _, c := range chunks {
		var v bytes.Buffer
		var off [8]byte
		binary.BigEndian.PutUint64(off[:], uint64(c.Offset))
		v.Write(off[:])
		v.Write(c.BlobOID[:])
		w.record("d", v.Bytes())
	}

	out := make([]byte, 0, w.buf.Len()+1)
	out = append(out, TypeInode)
	out = append(out, w.buf.Bytes()...)
	return out
}

// EncodeBlob returns the canonical plaintext payload for a blob object:
// type byte 'b' followed by a single 'd' record carrying the raw bytes.
func EncodeBlob(b *Blob) []byte {
	w := &recordWriter{}
	w.record("d", b.Data)

	out := make([]byte, 0, w.buf.Len()+1)
	out = append(out, TypeBlob)
	out = append(out, w.buf.Bytes()...)
	return out
}

// OIDOf computes the object identifier of an already-encoded canonical
// payload using the given MAC function.
func OIDOf(mac func([]byte) core.OID, payload []byte) core.OID {
	return mac(payload)
}
