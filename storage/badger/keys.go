package badger

import (
	"encoding/binary"

	"github.com/poiesic/folio/core"
)

// Key prefixes for different data types
const (
	collectionPrefix = "col:"
	recordPrefix     = "rec:"
)

// makeCollectionKey generates the key holding a collection's parameters.
func makeCollectionKey(name string) []byte {
	return []byte(collectionPrefix + name)
}

// makeRecordPrefix generates the prefix shared by all records of a collection.
// Format: prefix:name\x00
func makeRecordPrefix(collection string) []byte {
	buf := make([]byte, 0, len(recordPrefix)+len(collection)+1)
	buf = append(buf, recordPrefix...)
	buf = append(buf, collection...)
	return append(buf, 0)
}

// makeRecordKey generates a composite key for a record.
// Format: prefix:name\x00id
func makeRecordKey(collection string, id core.ID) []byte {
	prefix := makeRecordPrefix(collection)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// BigEndian keeps records of a collection in id order
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}
