package chain

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"sidechain.dev/core/crypto"
)

// HashMode selects block serialization, per §6. It is fixed for the
// lifetime of a chain; mixing modes across a network produces divergent
// hashes.
type HashMode int

const (
	// HashModeLegacy concatenates fields in their decimal/string form.
	HashModeLegacy HashMode = iota
	// HashModeStableJSON serializes the block as JSON with a fixed field
	// order, hash and signature removed.
	HashModeStableJSON
)

// BlockHash computes the canonical hash of b under mode, returning it
// hex-encoded (32 bytes).
func BlockHash(provider crypto.Provider, b *Block, mode HashMode) string {
	var body []byte
	switch mode {
	case HashModeStableJSON:
		body = stableBlockJSON(b)
	default:
		body = legacyBlockBytes(b)
	}
	digest := provider.SHA256(body)
	return hex.EncodeToString(digest[:])
}

func legacyBlockBytes(b *Block) []byte {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(b.Index, 10))
	sb.WriteString(b.PrevHash)
	sb.WriteString(strconv.FormatInt(b.Timestamp, 10))
	for _, tx := range b.Txs {
		sb.WriteString(tx.Hash)
	}
	sb.WriteString(b.Witness)
	if b.MissedBy != "" {
		sb.WriteString(b.MissedBy)
	}
	if b.Distributed != 0 {
		sb.WriteString(strconv.FormatUint(b.Distributed, 10))
	}
	if b.Burned != 0 {
		sb.WriteString(strconv.FormatUint(b.Burned, 10))
	}
	return []byte(sb.String())
}

// stableBlockJSON renders a deterministic, hash/signature-stripped
// serialization of b. Field order is fixed (not alphabetical struct-tag
// order) so it matches across Go versions regardless of encoding/json's
// reflection order.
func stableBlockJSON(b *Block) []byte {
	var sb strings.Builder
	sb.WriteByte('{')
	fmt.Fprintf(&sb, `"index":%d,`, b.Index)
	fmt.Fprintf(&sb, `"anchor_block_num":%d,`, b.AnchorBlockNum)
	fmt.Fprintf(&sb, `"prev_hash":%q,`, b.PrevHash)
	fmt.Fprintf(&sb, `"timestamp":%d,`, b.Timestamp)
	sb.WriteString(`"txs":[`)
	for i, tx := range b.Txs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(stableTxJSON(&tx))
	}
	sb.WriteString(`],`)
	fmt.Fprintf(&sb, `"witness":%q,`, b.Witness)
	fmt.Fprintf(&sb, `"missed_by":%q,`, b.MissedBy)
	fmt.Fprintf(&sb, `"distributed":%d,`, b.Distributed)
	fmt.Fprintf(&sb, `"burned":%d`, b.Burned)
	sb.WriteByte('}')
	return []byte(sb.String())
}

func stableTxJSON(tx *Transaction) string {
	var sb strings.Builder
	sb.WriteByte('{')
	fmt.Fprintf(&sb, `"sender":%q,`, tx.Sender)
	fmt.Fprintf(&sb, `"kind":%q,`, tx.Kind)
	fmt.Fprintf(&sb, `"payload":%q,`, hex.EncodeToString(tx.Payload))
	fmt.Fprintf(&sb, `"ts":%d,`, tx.Timestamp)
	fmt.Fprintf(&sb, `"ref":%q`, tx.Ref)
	sb.WriteByte('}')
	return sb.String()
}

// TxHash computes the content-derived hash required to be deterministic over
// (kind, sender, payload, ts), per §3's Transaction invariant.
func TxHash(provider crypto.Provider, sender string, kind TransactionKind, payload []byte, ts int64) string {
	var sb strings.Builder
	sb.WriteString(string(kind))
	sb.WriteString(sender)
	sb.Write(payload)
	sb.WriteString(strconv.FormatInt(ts, 10))
	digest := provider.SHA256([]byte(sb.String()))
	return hex.EncodeToString(digest[:])
}

// sortedAccountNames returns the account map's names in sorted order, for
// deterministic iteration over the account map. Nothing in the module calls it.
func sortedAccountNames(accounts map[string]*Account) []string {
	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
