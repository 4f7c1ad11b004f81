// wire.go - JSON transport form of a proven transaction.
//
// Notes ride as their canonical wire bytes so the id can be recomputed on
// receipt; everything else is plain JSON.

package settle

import (
	"encoding/json"

	"notevm/internal/account"
	"notevm/internal/errkind"
	"notevm/internal/note"
	"notevm/internal/prover"
	"notevm/internal/tx"
	"notevm/internal/word"
)

type wireInput struct {
	ID              word.Word   `json:"id"`
	Note            []byte      `json:"note,omitempty"` // set for unauthenticated inputs
	Unauthenticated bool        `json:"unauthenticated,omitempty"`
	Args            []word.Word `json:"args,omitempty"`
}

type wireProvenTx struct {
	TargetID      account.ID     `json:"target_id"`
	ObservedNonce uint64         `json:"observed_nonce"`
	ConsumedNotes []word.Word    `json:"consumed_notes,omitempty"`
	Inputs        []wireInput    `json:"inputs,omitempty"`
	CreatedNotes  [][]byte       `json:"created_notes,omitempty"`
	Delta         *account.Delta `json:"delta"`
	Proof         *prover.Proof  `json:"proof"`
}

// EncodeProvenTx serializes a proven transaction for transport.
func EncodeProvenTx(pt *ProvenTransaction) ([]byte, error) {
	const op = "settle.EncodeProvenTx"
	et := pt.Executed
	w := wireProvenTx{
		TargetID:      et.TargetID,
		ObservedNonce: et.ObservedNonce,
		ConsumedNotes: et.ConsumedNotes,
		Delta:         et.Delta,
		Proof:         pt.Proof,
	}
	for _, in := range et.InputNotes {
		wi := wireInput{ID: in.ID, Unauthenticated: in.Unauthenticated, Args: in.Args}
		if in.Unauthenticated && in.Note != nil {
			data, err := note.Encode(in.Note)
			if err != nil {
				return nil, errkind.Wrap(errkind.Build, op, err)
			}
			wi.Note = data
		}
		w.Inputs = append(w.Inputs, wi)
	}
	for _, n := range et.CreatedNotes {
		data, err := note.Encode(n)
		if err != nil {
			return nil, errkind.Wrap(errkind.Build, op, err)
		}
		w.CreatedNotes = append(w.CreatedNotes, data)
	}
	out, err := json.Marshal(w)
	if err != nil {
		return nil, errkind.Wrap(errkind.Build, op, err)
	}
	return out, nil
}

// DecodeProvenTx deserializes a proven transaction received over the wire.
func DecodeProvenTx(data []byte) (*ProvenTransaction, error) {
	const op = "settle.DecodeProvenTx"
	var w wireProvenTx
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errkind.Wrap(errkind.Build, op, err)
	}
	et := &tx.ExecutedTransaction{
		TargetID:      w.TargetID,
		ObservedNonce: w.ObservedNonce,
		ConsumedNotes: w.ConsumedNotes,
		Delta:         w.Delta,
	}
	for _, wi := range w.Inputs {
		in := tx.InputNote{ID: wi.ID, Unauthenticated: wi.Unauthenticated, Args: wi.Args}
		if len(wi.Note) > 0 {
			n, err := note.Decode(wi.Note)
			if err != nil {
				return nil, errkind.Wrap(errkind.Build, op, err)
			}
			in.Note = n
		}
		et.InputNotes = append(et.InputNotes, in)
	}
	for _, data := range w.CreatedNotes {
		n, err := note.Decode(data)
		if err != nil {
			return nil, errkind.Wrap(errkind.Build, op, err)
		}
		et.CreatedNotes = append(et.CreatedNotes, n)
	}
	return &ProvenTransaction{Executed: et, Proof: w.Proof}, nil
}
