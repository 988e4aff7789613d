package objcodec

import (
	"encoding/binary"
	"fmt"

	"dagback/internal/core"
)

type rawRecord struct {
	tag   string
	value []byte
}

func readRecords(data []byte) ([]rawRecord, error) {
	var records []rawRecord
	for len(data) > 0 {
		if len(data) < 1 {
			return nil, fmt.Errorf("objcodec: truncated tag length")
		}
		tagLen := int(data[0])
		data = data[1:]
		if len(data) < tagLen {
			return nil, fmt.Errorf("objcodec: truncated tag")
		}
		tag := string(data[:tagLen])
		data = data[tagLen:]

		valLen, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, fmt.Errorf("objcodec: invalid value length varint")
		}
		data = data[n:]
		if uint64(len(data)) < valLen {
			return nil, fmt.Errorf("objcodec: truncated value")
		}
		value := data[:valLen]
		data = data[valLen:]

		records = append(records, rawRecord{tag: tag, value: value})
	}
	return records, nil
}

// Decode parses a canonical plaintext payload and returns the object kind
// and the strongly-typed payload (*Tree, *Inode, or *Blob).
func Decode(data []byte) (core.ObjectKind, any, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("objcodec: empty payload")
	}
	typeByte, body := data[0], data[1:]

	switch typeByte {
	case TypeTree:
		t, err := decodeTree(body)
		return core.KindTree, t, err
	case TypeInode:
		i, err := decodeInode(body)
		return core.KindInode, i, err
	case TypeBlob:
		b, err := decodeBlob(body)
		return core.KindBlob, b, err
	default:
		return 0, nil, fmt.Errorf("objcodec: unknown type byte 0x%02x", typeByte)
	}
}

func decodeTree(body []byte) (*Tree, error) {
	records, err := readRecords(body)
	if err != nil {
		return nil, err
	}
	t := &Tree{}
	for _, r := range records {
		switch r.tag {
		case "u":
			t.UID = uint32(binary.BigEndian.Uint64(r.value))
		case "g":
			t.GID = uint32(binary.BigEndian.Uint64(r.value))
		case "m":
			t.Mode = uint32(binary.BigEndian.Uint64(r.value))
		case "e":
			entry, err := decodeTreeEntry(r.value)
			if err != nil {
				return nil, err
			}
			t.Entries = append(t.Entries, entry)
		default:
			return nil, fmt.Errorf("objcodec: unknown tree tag %q", r.tag)
		}
	}
	return t, nil
}

func decodeTreeEntry(value []byte) (TreeEntry, error) {
	nameLen, n := binary.Uvarint(value)
	if n <= 0 {
		return TreeEntry{}, fmt.Errorf("objcodec: invalid entry name length")
	}
	value = value[n:]
	if uint64(len(value)) < nameLen+32 {
		return TreeEntry{}, fmt.Errorf("objcodec: truncated tree entry")
	}
	name := string(value[:nameLen])
	var oid core.OID
	copy(oid[:], value[nameLen:nameLen+32])
	return TreeEntry{Name: name, ChildOID: oid}, nil
}

func decodeInode(body []byte) (*Inode, error) {
	records, err := readRecords(body)
	if err != nil {
		return nil, err
	}
	i := &Inode{}
	for _, r := range records {
		switch r.tag {
		case "s":
			i.Size = int64(binary.BigEndian.Uint64(r.value))
		case "i":
			i.InodeNo = binary.BigEndian.Uint64(r.value)
		case "u":
			i.UID = uint32(binary.BigEndian.Uint64(r.value))
		case "g":
			i.GID = uint32(binary.BigEndian.Uint64(r.value))
		case "m":
			i.Mode = uint32(binary.BigEndian.Uint64(r.value))
		case "ct":
			i.CtimeNs = int64(binary.BigEndian.Uint64(r.value))
		case "mt":
			i.MtimeNs = int64(binary.BigEndian.Uint64(r.value))
		case "d":
			if len(r.value) != 8+32 {
				return nil, fmt.Errorf("objcodec: malformed data chunk record")
			}
			offset := int64(binary.BigEndian.Uint64(r.value[:8]))
			var oid core.OID
			copy(oid[:], r.value[8:])
			i.Chunks = append(i.Chunks, DataChunk{Offset: offset, BlobOID: oid})
		default:
			return nil, fmt.Errorf("objcodec: unknown inode tag %q", r.tag)
		}
	}
	return i, nil
}

func decodeBlob(body []byte) (*Blob, error) {
	records, err := readRecords(body)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.tag == "d" {
			return &Blob{Data: r.value}, nil
		}
	}
	return &Blob{Data: nil}, nil
}
