package p2p

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/rs/zerolog"

	"notevm/internal/note"
	"notevm/internal/settle"
)

// Node is one peer in the settlement network. Peers exchange DH keys, then
// gossip proven transactions and encrypted private-note payloads.
type Node struct {
	ID        string
	Address   string
	Peers     map[string]string // peer ID -> address
	server    *http.Server
	waitGroup *sync.WaitGroup
	logger    zerolog.Logger

	// Called when a gossiped proven transaction arrives.
	OnProvenTx func(pt *settle.ProvenTransaction)
	// Called when an encrypted note transfer is recognized as ours.
	OnNote func(n *note.Note)

	// DH exchange state management
	dhMutex              sync.Mutex
	DHKeys               map[string]*DHState
	dhCompletionChannels map[string]chan error
}

// NewNode creates and initializes a new Node.
func NewNode(id, address string, peers map[string]string, wg *sync.WaitGroup, logger zerolog.Logger) *Node {
	return &Node{
		ID:                   id,
		Address:              address,
		Peers:                peers,
		waitGroup:            wg,
		logger:               logger.With().Str("node", id).Logger(),
		DHKeys:               make(map[string]*DHState),
		dhCompletionChannels: make(map[string]chan error),
	}
}

// messageHandler decodes the envelope and dispatches on the payload type.
func (n *Node) messageHandler(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		n.logger.Warn().Err(err).Msg("bad request")
		return
	}

	n.logger.Debug().Str("type", msg.Type).Msg("message received")

	switch msg.Type {
	case "dh_initiate":
		var payload DHInitiatePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			n.logger.Warn().Err(err).Msg("malformed dh_initiate payload")
			return
		}
		n.handleDHInitiate(payload)

	case "dh_response":
		var payload DHResponsePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			n.logger.Warn().Err(err).Msg("malformed dh_response payload")
			return
		}
		n.handleDHResponse(payload)

	case "note_transfer":
		var payload NoteTransferPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			n.logger.Warn().Err(err).Msg("malformed note_transfer payload")
			return
		}
		n.handleNoteTransfer(payload)

	case "proven_tx":
		var payload ProvenTxPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			n.logger.Warn().Err(err).Msg("malformed proven_tx payload")
			return
		}
		n.handleProvenTx(payload)

	default:
		n.logger.Warn().Str("type", msg.Type).Msg("unknown message type")
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Message received")
}

// handleDHInitiate is called by the responder when it receives an initiation
// request. It generates its own key, computes the shared secret, stores it,
// and sends its public key back in a dh_response message.
func (n *Node) handleDHInitiate(payload DHInitiatePayload) {
	n.dhMutex.Lock()
	defer n.dhMutex.Unlock()

	n.logger.Debug().Str("peer", payload.SenderID).Msg("handling DH initiation")

	var secretB fr.Element
	if _, err := secretB.SetRandom(); err != nil {
		n.logger.Error().Err(err).Msg("failed to generate random secret")
		return
	}

	g1Jac, _, _, _ := bls12377.Generators()
	var g1Gen bls12377.G1Affine
	g1Gen.FromJacobian(&g1Jac)

	var publicB bls12377.G1Affine
	var secretBInt big.Int
	publicB.ScalarMultiplication(&g1Gen, secretB.BigInt(&secretBInt))

	// Shared secret: S = public_A ^ secret_b
	var sharedSecret bls12377.G1Affine
	var secretBInt2 big.Int
	sharedSecret.ScalarMultiplication(&payload.PublicKey.G1Affine, secretB.BigInt(&secretBInt2))

	n.DHKeys[payload.SenderID] = &DHState{
		OurSecret:    secretB,
		OurPublic:    publicB,
		TheirPublic:  payload.PublicKey.G1Affine,
		SharedSecret: sharedSecret,
		Status:       "completed",
	}

	responsePayload := DHResponsePayload{
		SenderID:  n.ID,
		PublicKey: G1AffineJSON{publicB},
	}

	// Respond in a goroutine so the handler is not blocked.
	go func() {
		if err := n.SendMessage(payload.SenderID, "dh_response", responsePayload); err != nil {
			n.logger.Warn().Err(err).Str("peer", payload.SenderID).Msg("DH response send failed")
		}
	}()
}

// handleDHResponse is called by the initiator when it receives the responder's public key.
func (n *Node) handleDHResponse(payload DHResponsePayload) {
	n.dhMutex.Lock()
	defer n.dhMutex.Unlock()

	state, ok := n.DHKeys[payload.SenderID]
	if !ok || state.Status != "initiated" {
		n.logger.Warn().Str("peer", payload.SenderID).Msg("DH response for unknown or completed session")
		return
	}

	// Shared secret: S = public_B ^ secret_a
	var sharedSecret bls12377.G1Affine
	var secretAInt big.Int
	sharedSecret.ScalarMultiplication(&payload.PublicKey.G1Affine, state.OurSecret.BigInt(&secretAInt))

	state.TheirPublic = payload.PublicKey.G1Affine
	state.SharedSecret = sharedSecret
	state.Status = "completed"

	n.logger.Debug().Str("peer", payload.SenderID).Msg("DH exchange completed")

	if ch, ok := n.dhCompletionChannels[payload.SenderID]; ok {
		ch <- nil
		close(ch)
		delete(n.dhCompletionChannels, payload.SenderID)
	}
}

// handleNoteTransfer attempts to recognize an encrypted note using the shared
// key established with the sender. A transfer that does not decrypt to the
// advertised header is silently dropped: it was not meant for us.
func (n *Node) handleNoteTransfer(payload NoteTransferPayload) {
	n.dhMutex.Lock()
	state, ok := n.DHKeys[payload.SenderID]
	n.dhMutex.Unlock()
	if !ok || state.Status != "completed" {
		n.logger.Debug().Str("peer", payload.SenderID).Msg("note transfer without completed DH exchange")
		return
	}

	recognized, decrypted, err := note.Recognize(payload.Ciphertext, &state.SharedSecret, payload.Header)
	if err != nil || !recognized {
		n.logger.Debug().Str("note", payload.Header.ID.Hex()).Msg("note transfer not recognized")
		return
	}
	n.logger.Info().Str("note", payload.Header.ID.Hex()).Msg("private note recognized")
	if n.OnNote != nil {
		n.OnNote(decrypted)
	}
}

// handleProvenTx forwards a gossiped proven transaction to the registered sink.
func (n *Node) handleProvenTx(payload ProvenTxPayload) {
	pt, err := settle.DecodeProvenTx(payload.Tx)
	if err != nil {
		n.logger.Warn().Err(err).Str("peer", payload.SenderID).Msg("malformed proven transaction")
		return
	}
	n.logger.Debug().Str("tx", pt.ID().Hex()).Str("peer", payload.SenderID).Msg("proven transaction received")
	if n.OnProvenTx != nil {
		n.OnProvenTx(pt)
	}
}

// InitiateDHExchange starts the key exchange process with a target peer.
// It returns a channel that will receive an error or nil upon completion.
func (n *Node) InitiateDHExchange(targetID string) <-chan error {
	doneCh := make(chan error)

	go func() {
		n.dhMutex.Lock()
		defer n.dhMutex.Unlock()

		n.logger.Debug().Str("peer", targetID).Msg("initiating DH exchange")

		var secretA fr.Element
		if _, err := secretA.SetRandom(); err != nil {
			doneCh <- fmt.Errorf("failed to generate random secret: %v", err)
			close(doneCh)
			return
		}

		g1Jac, _, _, _ := bls12377.Generators()
		var g1Gen bls12377.G1Affine
		g1Gen.FromJacobian(&g1Jac)

		var publicA bls12377.G1Affine
		var secretAInt big.Int
		publicA.ScalarMultiplication(&g1Gen, secretA.BigInt(&secretAInt))

		n.DHKeys[targetID] = &DHState{
			OurSecret: secretA,
			OurPublic: publicA,
			Status:    "initiated",
		}
		n.dhCompletionChannels[targetID] = doneCh

		payload := DHInitiatePayload{
			SenderID:  n.ID,
			PublicKey: G1AffineJSON{publicA},
		}

		if err := n.SendMessage(targetID, "dh_initiate", payload); err != nil {
			doneCh <- fmt.Errorf("failed to send dh_initiate message: %v", err)
			close(doneCh)
			delete(n.dhCompletionChannels, targetID)
		}
	}()

	return doneCh
}

// SharedSecret returns the completed shared key with a peer, if any.
func (n *Node) SharedSecret(peerID string) (*bls12377.G1Affine, bool) {
	n.dhMutex.Lock()
	defer n.dhMutex.Unlock()
	state, ok := n.DHKeys[peerID]
	if !ok || state.Status != "completed" {
		return nil, false
	}
	return &state.SharedSecret, true
}

// SendNote encrypts a note under the shared key with the target peer and
// sends it as a note_transfer message.
func (n *Node) SendNote(targetID string, nt *note.Note) error {
	shared, ok := n.SharedSecret(targetID)
	if !ok {
		return fmt.Errorf("no completed DH exchange with peer '%s'", targetID)
	}
	enc, err := note.Encrypt(nt, shared)
	if err != nil {
		return fmt.Errorf("note encryption failed: %v", err)
	}
	payload := NoteTransferPayload{
		SenderID:   n.ID,
		Header:     nt.Header(),
		Ciphertext: enc,
	}
	return n.SendMessage(targetID, "note_transfer", payload)
}

// SendProvenTx gossips a proven transaction to the target peer.
func (n *Node) SendProvenTx(targetID string, pt *settle.ProvenTransaction) error {
	data, err := settle.EncodeProvenTx(pt)
	if err != nil {
		return fmt.Errorf("proven tx encoding failed: %v", err)
	}
	payload := ProvenTxPayload{SenderID: n.ID, Tx: data}
	return n.SendMessage(targetID, "proven_tx", payload)
}

// StartServer starts the node's HTTP server in a new goroutine.
// It signals on the 'ready' channel once the server is actively listening.
func (n *Node) StartServer(ready chan<- struct{}) {
	mux := http.NewServeMux()
	mux.HandleFunc("/message", n.messageHandler)

	n.server = &http.Server{
		Addr:    n.Address,
		Handler: mux,
	}

	listener, err := net.Listen("tcp", n.Address)
	if err != nil {
		n.logger.Fatal().Err(err).Msg("failed to listen")
	}

	n.waitGroup.Add(1)
	go func() {
		defer n.waitGroup.Done()
		n.logger.Info().Str("address", n.Address).Msg("server starting")

		ready <- struct{}{}

		if err := n.server.Serve(listener); err != http.ErrServerClosed {
			n.logger.Fatal().Err(err).Msg("server failed")
		}
		n.logger.Info().Msg("server stopped")
	}()
}

// SendMessage sends a message to another node in the network.
// The payload can be any struct that is marshallable to JSON.
func (n *Node) SendMessage(targetID, messageType string, payload interface{}) error {
	targetAddress, ok := n.Peers[targetID]
	if !ok {
		return fmt.Errorf("peer '%s' not found in directory", targetID)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %v", err)
	}

	msg := Message{
		Type:     messageType,
		Payload:  payloadBytes,
		SenderID: n.ID,
	}

	messageBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message envelope: %v", err)
	}

	n.logger.Debug().Str("type", messageType).Str("peer", targetID).Msg("sending message")
	req, err := http.NewRequest("POST", "http://"+targetAddress+"/message", bytes.NewBuffer(messageBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer returned non-OK status: %s", resp.Status)
	}

	return nil
}
