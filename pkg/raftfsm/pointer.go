package raftfsm

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/lumapart/raftengine/pkg/logpos"
)

func encodePosition(pos logpos.Position) ([]byte, error) {
	return msgpack.Marshal(pos)
}

func decodePosition(raw []byte, pos *logpos.Position) error {
	return msgpack.Unmarshal(raw, pos)
}
