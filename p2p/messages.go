// Package p2p defines the core's conceptual peer message types (§6). Actual
// peer discovery and transport are out of scope for this module; these
// types are what a transport layer would serialize and what consensus/
// netstatus hand off to one.
package p2p

import (
	"encoding/json"

	"sidechain.dev/core/chain"
)

// Command names a message's kind, for a transport envelope's command field
// (grounded on the teacher's node/p2p's CmdXxx constant set, trimmed to the
// messages §6 actually names).
type Command string

const (
	CmdBlockAnnounce    Command = "block_announce"
	CmdBlockRequest     Command = "block_request"
	CmdBlockResponse    Command = "block_response"
	CmdSyncStatus       Command = "sync_status"
	CmdPeerListRequest  Command = "peer_list_request"
	CmdPeerListResponse Command = "peer_list_response"
)

// BlockAnnounce notifies peers of a newly committed block.
type BlockAnnounce struct {
	Block *chain.Block `json:"block"`
}

// HeightRange is an inclusive [From, To] range of block indices.
type HeightRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// BlockRequest asks a peer for blocks within a height range.
type BlockRequest struct {
	Range HeightRange `json:"range"`
}

// BlockResponse answers a BlockRequest.
type BlockResponse struct {
	Blocks []*chain.Block `json:"blocks"`
}

// SyncStatus is one peer's self-reported sync state, per §4.7's broadcast
// shape (netstatus.Status is the same record; this is the wire copy a
// transport would marshal onto the network).
type SyncStatus struct {
	NodeID       string `json:"node_id"`
	BehindBlocks uint64 `json:"behind_blocks"`
	AnchorBlock  uint64 `json:"anchor_block"`
	IsSyncing    bool   `json:"is_syncing"`
	HeadBlockID  string `json:"head_block_id"`
	Timestamp    int64  `json:"timestamp"`
}

// PeerListRequest asks a peer for its known-peer addresses.
type PeerListRequest struct{}

// PeerListResponse answers a PeerListRequest.
type PeerListResponse struct {
	Peers []string `json:"peers"`
}

// Envelope pairs a Command with its JSON-encoded payload, the minimal
// framing a transport needs; it carries no magic/checksum/length-prefix
// machinery since wire transport itself is out of this module's scope.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps a typed message into an Envelope.
func Encode(cmd Command, v any) (Envelope, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Command: cmd, Payload: b}, nil
}

// DecodeBlockAnnounce, DecodeSyncStatus, etc. are convenience unmarshalers
// for the corresponding Envelope payload.
func DecodeBlockAnnounce(e Envelope) (BlockAnnounce, error) {
	var m BlockAnnounce
	err := json.Unmarshal(e.Payload, &m)
	return m, err
}

func DecodeBlockRequest(e Envelope) (BlockRequest, error) {
	var m BlockRequest
	err := json.Unmarshal(e.Payload, &m)
	return m, err
}

func DecodeBlockResponse(e Envelope) (BlockResponse, error) {
	var m BlockResponse
	err := json.Unmarshal(e.Payload, &m)
	return m, err
}

func DecodeSyncStatus(e Envelope) (SyncStatus, error) {
	var m SyncStatus
	err := json.Unmarshal(e.Payload, &m)
	return m, err
}

func DecodePeerListRequest(e Envelope) (PeerListRequest, error) {
	var m PeerListRequest
	err := json.Unmarshal(e.Payload, &m)
	return m, err
}

func DecodePeerListResponse(e Envelope) (PeerListResponse, error) {
	var m PeerListResponse
	err := json.Unmarshal(e.Payload, &m)
	return m, err
}
