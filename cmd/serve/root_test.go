package serve

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/dbRPC/rpc/common"
)

func TestParseShards(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []common.ServerShard
		wantErr bool
	}{
		{
			name:  "single memory shard",
			input: "100=mem",
			want:  []common.ServerShard{{ShardID: 100, Type: common.ShardTypeMemory}},
		},
		{
			name:  "mixed with spaces",
			input: "100=mem, 200 = disk",
			want: []common.ServerShard{
				{ShardID: 100, Type: common.ShardTypeMemory},
				{ShardID: 200, Type: common.ShardTypeDisk},
			},
		},
		{name: "missing type", input: "100", wantErr: true},
		{name: "bad id", input: "abc=mem", wantErr: true},
		{name: "unknown type", input: "100=lstore", wantErr: true},
		{name: "duplicate id", input: "100=mem,100=disk", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseShards(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseShards(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseShards(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}
