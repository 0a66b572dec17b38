// Package sync implements spec.md §4.7's bidirectional sync protocol:
// length-prefixed, JSON-encoded SyncMessage frames exchanged between an
// Importer and an Exporter, with Get/Put multiplexed over one transport
// the way go-git's own pktline framing multiplexes multiple logical
// streams over one pack-protocol connection — reimplemented narrowly here
// for tangram's one wire shape instead of reusing a generic pkt-line
// decoder (see DESIGN.md).
package sync

import (
	"github.com/tangramhq/tangram/internal/id"
)

// MessageKind discriminates the four top-level SyncMessage shapes.
type MessageKind string

const (
	MessageGet      MessageKind = "get"
	MessagePut      MessageKind = "put"
	MessageProgress MessageKind = "progress"
	MessageEnd      MessageKind = "end"
)

// SyncMessage is spec.md §4.7's wire envelope: exactly one of Get/Put/
// Progress is set, or Kind is "end" and all three are nil.
type SyncMessage struct {
	Kind     MessageKind      `json:"kind"`
	Get      *GetMessage      `json:"get,omitempty"`
	Put      *PutMessage      `json:"put,omitempty"`
	Progress *ProgressMessage `json:"progress,omitempty"`
}

// GetItemKind discriminates what a GetMessage is asking for.
type GetItemKind string

const (
	GetItem     GetItemKind = "item"
	GetComplete GetItemKind = "complete"
)

// GetMessage requests an item, or hints that a subgraph can be pruned.
type GetMessage struct {
	Kind GetItemKind `json:"kind"`

	// GetItem
	Process *ProcessGet `json:"process,omitempty"`
	Object  *ObjectGet  `json:"object,omitempty"`

	// GetComplete
	CompleteProcess *ProcessComplete `json:"completeProcess,omitempty"`
	CompleteObject  *id.Id           `json:"completeObject,omitempty"`
}

// ProcessGet requests a process record, eager overriding any prior
// Complete hint for the same id (spec.md §4.7's "eager = true ... even if
// you think I have it").
type ProcessGet struct {
	Id    id.Id `json:"id"`
	Eager bool  `json:"eager"`
}

// ObjectGet requests an object's bytes.
type ObjectGet struct {
	Id    id.Id `json:"id"`
	Eager bool  `json:"eager"`
}

// ProcessComplete is a hint for which parts of a process record the
// receiver may prune (command, output, and/or the child tree), spec.md
// §4.7's Complete(Process{...}).
type ProcessComplete struct {
	Id               id.Id `json:"id"`
	Children         bool  `json:"children"`
	Command          bool  `json:"command"`
	Output           bool  `json:"output"`
	ChildrenCommands bool  `json:"childrenCommands"`
	ChildrenOutputs  bool  `json:"childrenOutputs"`
}

// PutItemKind discriminates what a PutMessage is delivering.
type PutItemKind string

const (
	PutProcess PutItemKind = "process"
	PutObject  PutItemKind = "object"
)

// PutMessage delivers the bytes for one previously-requested item.
type PutMessage struct {
	Kind PutItemKind `json:"kind"`

	// PutProcess
	ProcessId   id.Id  `json:"processId,omitempty"`
	ProcessData []byte `json:"processData,omitempty"`

	// PutObject
	ObjectId    id.Id  `json:"objectId,omitempty"`
	ObjectBytes []byte `json:"objectBytes,omitempty"`
}

// ProgressMessage is an unordered, advisory cadence report (spec.md §4.7
// "Progress"); aggregation across peers is the caller's responsibility.
type ProgressMessage struct {
	ProcessesDelta int64 `json:"processesDelta"`
	ObjectsDelta   int64 `json:"objectsDelta"`
	BytesDelta     int64 `json:"bytesDelta"`
}

func endMessage() SyncMessage { return SyncMessage{Kind: MessageEnd} }
