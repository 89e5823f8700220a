package grpc

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	serviceName = "dbrpc.Transport"
	streamName  = "Stream"
	streamPath  = "/" + serviceName + "/" + streamName

	frameHeaderSize = 16
)

// frame is the message exchanged on the stream:
// 8 bytes shardID | 8 bytes requestID | payload (big endian)
type frame struct {
	shardID   uint64
	requestID uint64
	payload   []byte
}

// frameCodec sends frames as raw bytes, so no generated protobuf code is needed
type frameCodec struct{}

func (frameCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, errors.Errorf("cannot marshal %T", v)
	}

	data := make([]byte, frameHeaderSize+len(f.payload))
	binary.BigEndian.PutUint64(data[:8], f.shardID)
	binary.BigEndian.PutUint64(data[8:16], f.requestID)
	copy(data[frameHeaderSize:], f.payload)
	return data, nil
}

func (frameCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*frame)
	if !ok {
		return errors.Errorf("cannot unmarshal into %T", v)
	}
	if len(data) < frameHeaderSize {
		return errors.Errorf("frame too short: %d bytes", len(data))
	}

	f.shardID = binary.BigEndian.Uint64(data[:8])
	f.requestID = binary.BigEndian.Uint64(data[8:16])
	// data is owned by grpc and reused
	f.payload = append([]byte(nil), data[frameHeaderSize:]...)
	return nil
}

func (frameCodec) Name() string {
	return "dbrpc-frame"
}
