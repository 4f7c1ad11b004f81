// wire.go - Canonical serialization of notes.
//
// The wire form is what gets persisted in the local store, gossiped between
// peers, and masked for private-note delivery.

package note

import (
	"encoding/json"
	"fmt"

	"notevm/internal/asset"
	"notevm/internal/word"
)

type wireNote struct {
	Assets     []asset.FungibleAsset `json:"assets"`
	ScriptRoot word.Word             `json:"script_root"`
	Inputs     []word.Word           `json:"inputs"`
	Serial     word.Word             `json:"serial"`
	Meta       Metadata              `json:"metadata"`
}

// Encode returns the canonical wire encoding of a note.
func Encode(n *Note) ([]byte, error) {
	w := wireNote{
		Assets:     n.Vault.Assets(),
		ScriptRoot: n.ScriptRoot,
		Inputs:     n.Inputs,
		Serial:     n.Serial,
		Meta:       n.Meta,
	}
	return json.Marshal(w)
}

// Decode parses the canonical wire encoding back into a note.
func Decode(data []byte) (*Note, error) {
	var w wireNote
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode note: %w", err)
	}
	vault := asset.NewVault()
	for _, a := range w.Assets {
		if err := vault.Add(a); err != nil {
			return nil, fmt.Errorf("decode note: %w", err)
		}
	}
	return New(vault, w.ScriptRoot, w.Inputs, w.Serial, w.Meta)
}
