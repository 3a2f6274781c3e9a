// Package command defines the committed log record shape and the tagged
// command sum type the apply engine dispatches, along with their msgpack
// wire encoding.
package command

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind tags which variant of Command is populated. Only the fields for the
// active Kind are meaningful; the engine never inspects the others.
type Kind uint8

const (
	// Noop advances position and yields a backend-defined reply.
	Noop Kind = iota
	// Config persists cluster configuration under the reserved metadata
	// key "config" at the position it is applied.
	Config
	// Execute invokes a registered host function with (handle, position,
	// table, args).
	Execute
	// User is forwarded verbatim to the backend's Apply.
	User
)

func (k Kind) String() string {
	switch k {
	case Noop:
		return "Noop"
	case Config:
		return "Config"
	case Execute:
		return "Execute"
	case User:
		return "User"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ExecuteSpec names the host function to invoke and the arguments to pass.
type ExecuteSpec struct {
	Table    string `msgpack:"table"`
	Module   string `msgpack:"module"`
	Function string `msgpack:"function"`
	Args     []byte `msgpack:"args"`
}

// Command is the tagged sum type committed at each log index.
type Command struct {
	Kind Kind `msgpack:"kind"`

	// Populated when Kind == Config.
	ConfigValue []byte `msgpack:"config_value,omitempty"`
	// Populated when Kind == Execute.
	ExecuteSpec *ExecuteSpec `msgpack:"execute,omitempty"`
	// Populated when Kind == User; opaque to the engine.
	UserData []byte `msgpack:"user_data,omitempty"`
}

// NoopCommand builds a Noop command.
func NoopCommand() Command { return Command{Kind: Noop} }

// ConfigCommand builds a Config command carrying the given opaque value.
func ConfigCommand(value []byte) Command {
	return Command{Kind: Config, ConfigValue: value}
}

// ExecuteCommand builds an Execute command.
func ExecuteCommand(table, module, function string, args []byte) Command {
	return Command{
		Kind:        Execute,
		ExecuteSpec: &ExecuteSpec{Table: table, Module: module, Function: function, Args: args},
	}
}

// UserCommand builds a command forwarded verbatim to the backend.
func UserCommand(data []byte) Command {
	return Command{Kind: User, UserData: data}
}

// Record is a committed log entry: an index paired with the term at which
// it was committed, an opaque client-correlation ref, and the command.
type Record struct {
	Index   uint64    `msgpack:"index"`
	Term    uint64    `msgpack:"term"`
	Ref     uuid.UUID `msgpack:"ref"`
	Command Command   `msgpack:"command"`
}

// Reply is either an opaque success payload or a captured error, never
// both. The engine never inspects the payload of a User/Execute reply.
type Reply struct {
	Value []byte `msgpack:"value,omitempty"`
	Err   string `msgpack:"err,omitempty"`
}

// IsError reports whether the reply carries a captured error.
func (r Reply) IsError() bool { return r.Err != "" }

// OK builds a successful reply.
func OK(value []byte) Reply { return Reply{Value: value} }

// Errorf builds an error reply.
func Errorf(format string, args ...any) Reply {
	return Reply{Err: fmt.Sprintf(format, args...)}
}

// Encode serializes a Record to its msgpack wire form.
func Encode(r Record) ([]byte, error) {
	return msgpack.Marshal(r)
}

// Decode deserializes a Record from its msgpack wire form.
func Decode(b []byte) (Record, error) {
	var r Record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}
