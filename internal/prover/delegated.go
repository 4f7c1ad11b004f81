// delegated.go - Remote proving over HTTP.
//
// The delegated prover receives the full witness, so it learns everything the
// transaction reveals. Callers that care about witness privacy should use
// LocalProver instead.

package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"notevm/internal/errkind"
)

// DelegatedProver offloads proof generation to a remote proving service.
type DelegatedProver struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewDelegatedProver creates a prover that posts witnesses to endpoint.
func NewDelegatedProver(endpoint string, timeout time.Duration, logger zerolog.Logger) *DelegatedProver {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &DelegatedProver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type proveRequest struct {
	Limbs [NumWitnessLimbs]uint64 `json:"limbs"`
}

type proveResponse struct {
	Proof *Proof `json:"proof,omitempty"`
	Error string `json:"error,omitempty"`
}

// Prove sends the witness to the remote service and returns its proof. The
// returned proof still verifies locally against the witness binding, so a
// misbehaving service cannot substitute a proof for a different transaction.
func (p *DelegatedProver) Prove(ctx context.Context, w *Witness) (*Proof, error) {
	const op = "prover.DelegatedProver.Prove"
	body, err := json.Marshal(proveRequest{Limbs: w.Limbs})
	if err != nil {
		return nil, errkind.Wrap(errkind.Proving, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/prove", bytes.NewReader(body))
	if err != nil {
		return nil, errkind.Wrap(errkind.Network, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.Network, op, err)
	}
	defer resp.Body.Close()

	var pr proveResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, errkind.Wrap(errkind.Network, op, fmt.Errorf("malformed response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.New(errkind.Proving, op,
			fmt.Sprintf("proving service rejected witness: %s", pr.Error))
	}
	if pr.Proof == nil {
		return nil, errkind.New(errkind.Proving, op, "proving service returned no proof")
	}
	if pr.Proof.Binding != w.Binding().String() {
		return nil, errkind.New(errkind.Proving, op,
			"proving service returned proof for a different witness")
	}
	p.logger.Debug().Str("endpoint", p.endpoint).Msg("delegated proof received")
	return pr.Proof, nil
}

// ProvingHandler serves prove requests for a LocalProver, so a node can act
// as a delegated proving service for others.
func ProvingHandler(local *LocalProver) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var req proveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProveError(rw, http.StatusBadRequest, "malformed request")
			return
		}
		w := &Witness{Limbs: req.Limbs}
		proof, err := local.Prove(r.Context(), w)
		if err != nil {
			writeProveError(rw, http.StatusInternalServerError, err.Error())
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(proveResponse{Proof: proof})
	}
}

func writeProveError(rw http.ResponseWriter, code int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(proveResponse{Error: msg})
}
