// Package serializer converts common.Message values to bytes and back.
//
// Three implementations of IRPCSerializer are provided:
//
//   - NewBinarySerializer: the wire format. A fixed header holds the message
//     type, the status and a bit set of the fields that follow. Only present
//     fields are written: handles as 8 byte integers, flags as a 4 byte
//     integer, names, keys, values and error texts as length-prefixed byte
//     strings. All integers are big endian. Truncated or inconsistent input
//     is rejected with an error.
//
//   - NewJSONSerializer: human readable, message types and statuses are
//     written as their names. Useful with the http transport and curl.
//
//   - NewGOBSerializer: Go's gob encoding, larger and slower than binary.
//
// Client and server must use the same serializer. All implementations are
// stateless and safe for concurrent use. See benchmark_test.go for a
// comparison of sizes and speed.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewDBGetRequest(db, txn, key))
//	// ... send data ...
//	var resp common.Message
//	err = s.Deserialize(received, &resp)
package serializer
