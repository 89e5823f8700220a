package serializer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/dbRPC/rpc/common"
)

// IRPCSerializer converts Messages to their wire representation and back.
// Implementations are stateless and safe for concurrent use.
type IRPCSerializer interface {
	// Serialize encodes msg. Zero handles and absent byte fields may be omitted.
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg, overwriting every field of msg.
	// Malformed input yields an error, never a panic.
	Deserialize(b []byte, msg *common.Message) error
}

// factories maps the names accepted by ByName to their constructors
var factories = map[string]func() IRPCSerializer{
	"binary": NewBinarySerializer,
	"json":   NewJSONSerializer,
	"gob":    NewGOBSerializer,
}

// ByName returns the serializer registered under name ("binary", "json" or "gob")
func ByName(name string) (IRPCSerializer, error) {
	factory, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown serializer %q, expected one of %s", name, strings.Join(Names(), ", "))
	}
	return factory(), nil
}

// Names returns the names accepted by ByName in sorted order
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
