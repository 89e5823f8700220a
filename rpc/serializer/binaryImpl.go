package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dbRPC/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout (big endian):
//
//	1 byte  MsgType
//	1 byte  Status
//	2 bytes presence flags
//	then, in this order and only if present:
//	DB, Txn, Cursor, Handle (8 bytes each), Flags (4 bytes),
//	Name, Key, Value, Err (4 bytes length + data each)
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasDB     uint16 = 1 << 0
	hasTxn    uint16 = 1 << 1
	hasCursor uint16 = 1 << 2
	hasHandle uint16 = 1 << 3
	hasFlags  uint16 = 1 << 4
	hasName   uint16 = 1 << 5
	hasKey    uint16 = 1 << 6
	hasValue  uint16 = 1 << 7
	hasErr    uint16 = 1 << 8

	headerSize = 4
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	result := make([]byte, b.sizeBytes(msg))

	result[0] = byte(msg.MsgType)
	result[1] = byte(msg.Status)

	var flags uint16
	pos := headerSize

	putUint64 := func(flag uint16, v uint64) {
		if v == 0 {
			return
		}
		flags |= flag
		binary.BigEndian.PutUint64(result[pos:pos+8], v)
		pos += 8
	}
	putBytes := func(flag uint16, data []byte, present bool) {
		if !present {
			return
		}
		flags |= flag
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(data)))
		pos += 4
		pos += copy(result[pos:], data)
	}

	putUint64(hasDB, msg.DB)
	putUint64(hasTxn, msg.Txn)
	putUint64(hasCursor, msg.Cursor)
	putUint64(hasHandle, msg.Handle)

	if msg.Flags != 0 {
		flags |= hasFlags
		binary.BigEndian.PutUint32(result[pos:pos+4], msg.Flags)
		pos += 4
	}

	putBytes(hasName, []byte(msg.Name), msg.Name != "")
	putBytes(hasKey, msg.Key, msg.Key != nil)
	putBytes(hasValue, msg.Value, msg.Value != nil)
	putBytes(hasErr, []byte(msg.Err), msg.Err != "")

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[2:4], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + Status + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{
		MsgType: common.MessageType(data[0]),
		Status:  common.Status(data[1]),
	}
	flags := binary.BigEndian.Uint16(data[2:4])
	pos := headerSize

	readUint64 := func(flag uint16, name string, dst *uint64) error {
		if flags&flag == 0 {
			return nil
		}
		if len(data)-pos < 8 {
			return fmt.Errorf("data too short for %s", name)
		}
		*dst = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
		return nil
	}
	readBytes := func(flag uint16, name string) ([]byte, error) {
		if flags&flag == 0 {
			return nil, nil
		}
		if len(data)-pos < 4 {
			return nil, fmt.Errorf("data too short for %s length", name)
		}
		n := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
		if uint64(len(data)-pos) < uint64(n) {
			return nil, fmt.Errorf("data too short for %s data", name)
		}
		// create an empty slice (not nil) if length is 0
		out := make([]byte, n)
		copy(out, data[pos:pos+int(n)])
		pos += int(n)
		return out, nil
	}

	if err := readUint64(hasDB, "DB", &msg.DB); err != nil {
		return err
	}
	if err := readUint64(hasTxn, "Txn", &msg.Txn); err != nil {
		return err
	}
	if err := readUint64(hasCursor, "Cursor", &msg.Cursor); err != nil {
		return err
	}
	if err := readUint64(hasHandle, "Handle", &msg.Handle); err != nil {
		return err
	}

	if flags&hasFlags != 0 {
		if len(data)-pos < 4 {
			return fmt.Errorf("data too short for Flags")
		}
		msg.Flags = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	name, err := readBytes(hasName, "name")
	if err != nil {
		return err
	}
	msg.Name = string(name)

	if msg.Key, err = readBytes(hasKey, "key"); err != nil {
		return err
	}
	if msg.Value, err = readBytes(hasValue, "value"); err != nil {
		return err
	}

	errBytes, err := readBytes(hasErr, "error")
	if err != nil {
		return err
	}
	msg.Err = string(errBytes)

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	for _, v := range []uint64{msg.DB, msg.Txn, msg.Cursor, msg.Handle} {
		if v != 0 {
			size += 8
		}
	}
	if msg.Flags != 0 {
		size += 4
	}

	// 4 bytes for length + data
	if msg.Name != "" {
		size += 4 + len(msg.Name)
	}
	if msg.Key != nil {
		size += 4 + len(msg.Key)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}

	return size
}
