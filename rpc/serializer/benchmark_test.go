package serializer

import (
	"testing"

	"github.com/ValentinKolb/dbRPC/rpc/common"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages() map[string]common.Message {
	return map[string]common.Message{
		"Empty": {
			MsgType: common.MsgTDisconnect,
		},
		"HandleOnly": {
			MsgType: common.MsgTTxnCommit,
			Txn:     42,
		},
		"SmallKeyOnly":   *common.NewDBGetRequest(1, 0, []byte("k")),
		"LargeKeyOnly":   *common.NewDBGetRequest(1, 2, []byte("this-is-a-very-large-key-that-could-be-used-for-storing-data-or-as-a-document-id-in-some-cases")),
		"SmallValue":     *common.NewDBPutRequest(1, 2, []byte("key"), []byte("v"), 0),
		"MediumValue":    *common.NewDBPutRequest(1, 2, []byte("key"), []byte("medium length value for testing serialization"), 0),
		"LargeValue":     *common.NewDBPutRequest(1, 2, []byte("key"), make([]byte, 1024), 0),    // 1KB of data
		"VeryLargeValue": *common.NewDBPutRequest(1, 2, []byte("key"), make([]byte, 1024*16), 0), // 16KB of data
		"CursorResponse": {
			MsgType: common.MsgTCursorGet,
			Key:     []byte("cursor-key"),
			Value:   []byte("cursor-value-data"),
		},
		"ErrorMessage": {
			MsgType: common.MsgTDBGet,
			Status:  common.StatusInternalError,
			Err:     "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.",
		},
	}
}

// BenchmarkSerialize measures encoding, the encoded size is reported as bytes/msg
func BenchmarkSerialize(b *testing.B) {
	for name, factory := range testSerializers {
		for msgName, msg := range benchmarkMessages() {
			b.Run(name+"/"+msgName, func(b *testing.B) {
				s := factory()
				var size int
				for i := 0; i < b.N; i++ {
					data, err := s.Serialize(msg)
					if err != nil {
						b.Fatalf("Serialize() error = %v", err)
					}
					size = len(data)
				}
				b.ReportMetric(float64(size), "bytes/msg")
			})
		}
	}
}

// BenchmarkDeserialize measures decoding into a reused message, as the server does
func BenchmarkDeserialize(b *testing.B) {
	for name, factory := range testSerializers {
		for msgName, msg := range benchmarkMessages() {
			b.Run(name+"/"+msgName, func(b *testing.B) {
				s := factory()
				data, err := s.Serialize(msg)
				if err != nil {
					b.Fatalf("Serialize() error = %v", err)
				}

				var out common.Message
				b.SetBytes(int64(len(data)))
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if err := s.Deserialize(data, &out); err != nil {
						b.Fatalf("Deserialize() error = %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkRoundTrip measures one request and its response as seen by a client
func BenchmarkRoundTrip(b *testing.B) {
	req := *common.NewDBPutRequest(1, 2, []byte("key"), make([]byte, 256), 0)
	resp := common.Message{MsgType: common.MsgTDBPut, Status: common.StatusSuccess}

	for name, factory := range testSerializers {
		b.Run(name, func(b *testing.B) {
			s := factory()
			var decoded common.Message
			for i := 0; i < b.N; i++ {
				for _, msg := range [...]common.Message{req, resp} {
					data, err := s.Serialize(msg)
					if err != nil {
						b.Fatal(err)
					}
					if err := s.Deserialize(data, &decoded); err != nil {
						b.Fatal(err)
					}
				}
			}
		})
	}
}
