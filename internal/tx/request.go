// request.go - Transaction requests and the request builder.
//
// A request names the target account, the input notes to consume (each
// optionally carrying note arguments such as a secret preimage), an optional
// custom script, the declared own-output notes, and the foreign accounts the
// transaction will read. Output notes must be declared in full so the prover
// commits to exactly that set.

package tx

import (
	"notevm/internal/account"
	"notevm/internal/errkind"
	"notevm/internal/fpi"
	"notevm/internal/note"
	"notevm/internal/vm"
	"notevm/internal/word"
)

// InputNote references one note to consume. Authenticated references carry
// only the id and rely on the note being committed and locally known;
// unauthenticated references carry the full note data as evidence, which is
// what allows consuming a note whose creating transaction has not been
// committed yet.
type InputNote struct {
	ID              word.Word
	Note            *note.Note // full data; required when Unauthenticated
	Unauthenticated bool
	Args            []word.Word // note arguments, e.g. a hash preimage
}

// Request is a fully built transaction request.
type Request struct {
	TargetID account.ID
	Inputs   []InputNote

	// Script is the optional custom transaction script.
	Script     *vm.Component
	ScriptProc string

	// OutputNotes is the declared set of own output notes. Execution fails
	// if the scripts create a different set.
	OutputNotes []*note.Note

	// ForeignRefs declares the foreign accounts and storage slices the
	// transaction reads.
	ForeignRefs []fpi.ForeignAccountRef

	// OwnerAuthenticated marks the request as signed by the account's key
	// holder, which authorizes mutations that do not increment the nonce.
	OwnerAuthenticated bool
}

// RequestBuilder accumulates a request. The first error sticks and is
// returned from Build, so call sites can chain without checking each step.
type RequestBuilder struct {
	req Request
	err error
}

// NewRequestBuilder starts a request against a target account.
func NewRequestBuilder(target account.ID) *RequestBuilder {
	return &RequestBuilder{req: Request{TargetID: target}}
}

// WithAuthenticatedInput adds a committed input note by id.
func (b *RequestBuilder) WithAuthenticatedInput(id word.Word, args ...word.Word) *RequestBuilder {
	b.req.Inputs = append(b.req.Inputs, InputNote{ID: id, Args: args})
	return b
}

// WithUnauthenticatedInput adds an input note by full data, allowing it to be
// consumed before its creating transaction is committed.
func (b *RequestBuilder) WithUnauthenticatedInput(n *note.Note, args ...word.Word) *RequestBuilder {
	if n == nil {
		b.fail(errkind.New(errkind.Build, "tx.RequestBuilder", "unauthenticated input requires full note data"))
		return b
	}
	b.req.Inputs = append(b.req.Inputs, InputNote{ID: n.ID(), Note: n, Unauthenticated: true, Args: args})
	return b
}

// WithCustomScript sets the transaction script.
func (b *RequestBuilder) WithCustomScript(comp *vm.Component, procName string) *RequestBuilder {
	if comp == nil {
		b.fail(errkind.New(errkind.Build, "tx.RequestBuilder", "nil script component"))
		return b
	}
	if _, err := comp.Procedure(procName); err != nil {
		b.fail(errkind.Wrap(errkind.Build, "tx.RequestBuilder", err))
		return b
	}
	b.req.Script = comp
	b.req.ScriptProc = procName
	return b
}

// WithOwnOutputNotes declares the exact set of output notes the transaction
// will create.
func (b *RequestBuilder) WithOwnOutputNotes(notes ...*note.Note) *RequestBuilder {
	b.req.OutputNotes = append(b.req.OutputNotes, notes...)
	return b
}

// WithForeignAccounts declares foreign accounts for FPI.
func (b *RequestBuilder) WithForeignAccounts(refs ...fpi.ForeignAccountRef) *RequestBuilder {
	b.req.ForeignRefs = append(b.req.ForeignRefs, refs...)
	return b
}

// Authenticated marks the request as signed by the account's key holder.
func (b *RequestBuilder) Authenticated() *RequestBuilder {
	b.req.OwnerAuthenticated = true
	return b
}

// Build finalizes the request.
func (b *RequestBuilder) Build() (*Request, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.req.TargetID.IsZero() {
		return nil, errkind.New(errkind.Build, "tx.RequestBuilder", "request has no target account")
	}
	if len(b.req.Inputs) == 0 && b.req.Script == nil {
		return nil, errkind.New(errkind.Build, "tx.RequestBuilder",
			"request consumes no notes and has no script")
	}
	req := b.req
	return &req, nil
}

func (b *RequestBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
