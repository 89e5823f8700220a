package client

import (
	"fmt"

	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/serializer"
	"github.com/ValentinKolb/dbRPC/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter stores all data needed to send requests to one shard.
// Env, Database, Cursor and Txn share it with composition.
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest sends req to the shard and returns the decoded response.
// A non-success status becomes a *StatusError, a response of another type than
// the request is an error as well.
func (a *rpcClientAdapter) invokeRPCRequest(req *common.Message) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", req.MsgType, err)
	}

	respBytes, err := a.transport.Send(a.shardId, reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("failed to deserialize response to %s: %w", req.MsgType, err)
	}
	if err := checkResponse(req.MsgType, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// checkResponse validates the response to a request of type op
func checkResponse(op common.MessageType, resp *common.Message) error {
	switch {
	case resp.MsgType == common.MsgTError:
		// the server could not dispatch the request at all
		status := resp.Status
		if status == common.StatusSuccess {
			status = common.StatusProtocolError
		}
		return &StatusError{Op: op, Status: status, Msg: resp.Err}
	case resp.Status != common.StatusSuccess:
		return &StatusError{Op: op, Status: resp.Status, Msg: resp.Err}
	case resp.MsgType != op:
		return fmt.Errorf("unexpected message type: %s, expected %s", resp.MsgType, op)
	}
	return nil
}
