// note.go - Notes: transferable asset bundles with a spend condition.
//
// A note is the unit of value transfer. It bundles assets with a recipient
// commitment (a nested hash of serial number, script root, and inputs) and
// metadata. The note id is a content hash of the vault and the recipient, so
// two notes with identical serial, script, inputs, and vault are the same
// note and only one of them is consumable.

package note

import (
	"notevm/internal/asset"
	"notevm/internal/errkind"
	"notevm/internal/word"
)

// Type is the visibility of a note.
type Type uint8

const (
	// Public notes have their full data replicated on-chain.
	Public Type = iota
	// Private notes publish only their id and metadata; the full data travels
	// off-chain to the recipient.
	Private
)

func (t Type) String() string {
	if t == Private {
		return "private"
	}
	return "public"
}

// ExecutionHint advises consumers when a note is intended to be consumed.
type ExecutionHint uint8

const (
	HintAlways ExecutionHint = iota
	HintAfterBlock
	HintNone
)

// Metadata carries the public envelope of a note.
type Metadata struct {
	Sender word.Word     `json:"sender"` // creating account id digest
	Type   Type          `json:"type"`
	Tag    uint32        `json:"tag"` // discovery tag, e.g. target account prefix
	Hint   ExecutionHint `json:"hint"`
	Aux    word.Felt     `json:"aux"`
}

// Note is an immutable bundle of assets plus spend condition.
type Note struct {
	Vault      *asset.Vault
	ScriptRoot word.Word   // content hash of the spend script
	Inputs     []word.Word // script inputs, committed into the recipient
	Serial     word.Word   // one-time serial number
	Meta       Metadata
}

// New constructs a note, validating asset and metadata consistency.
// A note with an empty vault and nonzero auxiliary metadata is rejected as
// inconsistent; asset amount overflow is caught here, before any execution.
func New(vault *asset.Vault, scriptRoot word.Word, inputs []word.Word, serial word.Word, meta Metadata) (*Note, error) {
	if vault == nil {
		vault = asset.NewVault()
	}
	if vault.IsEmpty() && meta.Aux != 0 {
		return nil, errkind.New(errkind.Build, "note.New",
			"empty vault with nonzero aux metadata %d", meta.Aux)
	}
	n := &Note{
		Vault:      vault.Clone(),
		ScriptRoot: scriptRoot,
		Inputs:     append([]word.Word(nil), inputs...),
		Serial:     serial,
		Meta:       meta,
	}
	return n, nil
}

// InputsCommitment hashes the note's script inputs.
func (n *Note) InputsCommitment() word.Word {
	return word.HashWithDomain("note-inputs", n.Inputs...)
}

// Recipient computes the nested recipient commitment:
// hash(hash(hash(serial), scriptRoot), inputsCommitment).
func (n *Note) Recipient() word.Word {
	inner := word.HashWithDomain("note-serial", n.Serial)
	mid := word.HashMerge(inner, n.ScriptRoot)
	return word.HashMerge(mid, n.InputsCommitment())
}

// ID returns the globally unique note identifier, a hash of the vault
// commitment and the recipient digest. Deterministic and collision-resistant.
func (n *Note) ID() word.Word {
	return word.HashWithDomain("note-id", n.Vault.Commitment(), n.Recipient())
}

// Commitment returns the full note commitment used by the settlement layer.
func (n *Note) Commitment() word.Word {
	return word.HashWithDomain("note-cm", n.ID(), metaDigest(n.Meta))
}

// Header returns the public envelope of the note: id plus metadata. This is
// all the network learns about a private note.
func (n *Note) Header() Header {
	return Header{ID: n.ID(), Meta: n.Meta}
}

// Header is the on-chain envelope of a note.
type Header struct {
	ID   word.Word `json:"id"`
	Meta Metadata  `json:"metadata"`
}

func metaDigest(m Metadata) word.Word {
	return word.HashWithDomain("note-meta",
		m.Sender,
		word.NewWord(uint64(m.Type), uint64(m.Tag), uint64(m.Hint), m.Aux),
	)
}
