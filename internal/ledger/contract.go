package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/proof"
)

// contractABIJSON is the subset of the ProofOfExistence contract ABI this
// package calls.
const contractABIJSON = `[
  {
    "type": "function",
    "name": "createProof",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "_dataHash", "type": "bytes32"},
      {"name": "_creatorName", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "verifyProof",
    "stateMutability": "view",
    "inputs": [
      {"name": "_dataHash", "type": "bytes32"}
    ],
    "outputs": [
      {"name": "exists", "type": "bool"},
      {"name": "timestamp", "type": "uint256"},
      {"name": "creatorName", "type": "string"}
    ]
  },
  {
    "type": "event",
    "name": "ProofCreated",
    "anonymous": false,
    "inputs": [
      {"name": "dataHash", "type": "bytes32", "indexed": true},
      {"name": "creator", "type": "address", "indexed": true},
      {"name": "creatorName", "type": "string", "indexed": false},
      {"name": "timestamp", "type": "uint256", "indexed": false},
      {"name": "blockNumber", "type": "uint256", "indexed": false}
    ]
  }
]`

const (
	methodCreateProof = "createProof"
	methodVerifyProof = "verifyProof"
	eventProofCreated = "ProofCreated"
)

// contractABI is parsed once at init; a malformed constant is a programming
// error.
var contractABI = mustParseABI(contractABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("ledger: parse contract ABI: %v", err))
	}
	return parsed
}

// proofCreatedID is topic[0] of every ProofCreated log.
func proofCreatedID() common.Hash {
	return contractABI.Events[eventProofCreated].ID
}

// packCreateProof encodes the createProof call.
func packCreateProof(fp fingerprint.Fingerprint, name string) ([]byte, error) {
	return contractABI.Pack(methodCreateProof, [32]byte(fp), name)
}

// packVerifyProof encodes the verifyProof call.
func packVerifyProof(fp fingerprint.Fingerprint) ([]byte, error) {
	return contractABI.Pack(methodVerifyProof, [32]byte(fp))
}

// parseVerifyProof decodes the verifyProof return values.
func parseVerifyProof(fp fingerprint.Fingerprint, out []byte) (proof.LedgerRecord, bool, error) {
	vals, err := contractABI.Unpack(methodVerifyProof, out)
	if err != nil {
		return proof.LedgerRecord{}, false, fmt.Errorf("verifyProof: unpack: %w", err)
	}
	if len(vals) != 3 {
		return proof.LedgerRecord{}, false, fmt.Errorf("verifyProof: want 3 values, got %d", len(vals))
	}
	exists, _ := vals[0].(bool)
	ts, ok := vals[1].(*big.Int)
	if !ok {
		return proof.LedgerRecord{}, false, fmt.Errorf("verifyProof: timestamp has type %T", vals[1])
	}
	name, _ := vals[2].(string)
	if !exists {
		return proof.LedgerRecord{}, false, nil
	}
	return proof.LedgerRecord{Fingerprint: fp, ClaimedName: name, Timestamp: ts.Int64()}, true, nil
}

// packProofCreatedData encodes the non-indexed ProofCreated fields. The
// inverse of parseProofCreated; used by fakes that fabricate receipts.
func packProofCreatedData(name string, timestamp, block uint64) ([]byte, error) {
	ev := contractABI.Events[eventProofCreated]
	return ev.Inputs.NonIndexed().Pack(name, new(big.Int).SetUint64(timestamp), new(big.Int).SetUint64(block))
}

// isProofCreated reports whether lg is a ProofCreated log from contract.
func isProofCreated(lg *types.Log, contract common.Address) bool {
	return lg != nil &&
		lg.Address == contract &&
		len(lg.Topics) == 3 &&
		lg.Topics[0] == proofCreatedID()
}

// parseProofCreated decodes a ProofCreated log into a LedgerEvent.
func parseProofCreated(lg *types.Log) (proof.LedgerEvent, error) {
	if len(lg.Topics) != 3 {
		return proof.LedgerEvent{}, fmt.Errorf("ProofCreated: want 3 topics, got %d", len(lg.Topics))
	}

	fields := map[string]any{}
	if err := contractABI.UnpackIntoMap(fields, eventProofCreated, lg.Data); err != nil {
		return proof.LedgerEvent{}, fmt.Errorf("ProofCreated: unpack data: %w", err)
	}

	name, _ := fields["creatorName"].(string)
	ts, ok := fields["timestamp"].(*big.Int)
	if !ok {
		return proof.LedgerEvent{}, fmt.Errorf("ProofCreated: timestamp has type %T", fields["timestamp"])
	}

	return proof.LedgerEvent{
		Fingerprint: fingerprint.Fingerprint(lg.Topics[1]),
		TxRef:       lg.TxHash.Hex(),
		BlockRef:    lg.BlockNumber,
		LogIndex:    lg.Index,
		Submitter:   common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		ClaimedName: name,
		Timestamp:   ts.Int64(),
	}, nil
}
