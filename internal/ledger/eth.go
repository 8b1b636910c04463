package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/roach88/proofstamp/internal/fingerprint"
	"github.com/roach88/proofstamp/internal/proof"
)

// Backend is the subset of the JSON-RPC client EthClient uses.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EthConfig configures an EthClient.
type EthConfig struct {
	RPCURL     string
	PrivateKey string // hex, optional 0x prefix
	Contract   string // hex address
	Network    string // display name only

	Confirmations    uint64
	GasMarginPercent uint64
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
	Window           uint64
	QueryRetries     int
	RetryBackoff     time.Duration
}

func (c *EthConfig) applyDefaults() {
	if c.Confirmations == 0 {
		c.Confirmations = 1
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = 2 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

// EthClient anchors fingerprints through the ProofOfExistence contract on
// an EVM chain.
//
// Submissions from one key are ordered by account nonce on the chain. EthClient
// does not serialize concurrent submits; a nonce collision surfaces as
// SUBMISSION_REJECTED.
type EthClient struct {
	backend  Backend
	closer   func()
	cfg      EthConfig
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int
	logger   *slog.Logger
}

// DialEth connects to cfg.RPCURL and returns a ready client.
func DialEth(ctx context.Context, cfg EthConfig, logger *slog.Logger) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, proof.NewValidationError("ledger rpc url is required")
	}
	rc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, proof.NewUnavailableError("dial ledger", err)
	}
	c, err := NewEthClient(ctx, rc, cfg, logger)
	if err != nil {
		rc.Close()
		return nil, err
	}
	c.closer = rc.Close
	return c, nil
}

// NewEthClient builds a client over an existing backend.
func NewEthClient(ctx context.Context, backend Backend, cfg EthConfig, logger *slog.Logger) (*EthClient, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, proof.NewValidationError(fmt.Sprintf("ledger private key: %v", err))
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, proof.NewValidationError(fmt.Sprintf("ledger contract address %q is not a hex address", cfg.Contract))
	}
	contract := common.HexToAddress(cfg.Contract)
	if contract == (common.Address{}) {
		return nil, proof.NewValidationError("ledger contract is not deployed (zero address)")
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, classify(fingerprint.Zero, "read chain id", err)
	}

	c := &EthClient{
		backend:  backend,
		cfg:      cfg,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: contract,
		chainID:  chainID,
		logger:   logger.With("component", "ledger", "chain_id", chainID.String()),
	}
	c.logger.Info("ledger client ready", "submitter", c.from.Hex(), "contract", contract.Hex())
	return c, nil
}

// Close releases the RPC connection when the client dialed it.
func (c *EthClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Address returns the submitter address derived from the private key.
func (c *EthClient) Address() string {
	return c.from.Hex()
}

// Submit estimates, signs, broadcasts, and waits for confirmation.
func (c *EthClient) Submit(ctx context.Context, fp fingerprint.Fingerprint, owner proof.OwnerMetadata) (proof.Receipt, error) {
	name, err := claimedName(owner)
	if err != nil {
		return proof.Receipt{}, err
	}
	data, err := packCreateProof(fp, name)
	if err != nil {
		return proof.Receipt{}, proof.NewRejectedError(fp, "encode createProof", err)
	}

	// (1) estimate with margin
	estimate, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		return proof.Receipt{}, classify(fp, "estimate gas", err)
	}
	gasLimit := WithMargin(estimate, c.cfg.GasMarginPercent)

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return proof.Receipt{}, classify(fp, "pending nonce", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return proof.Receipt{}, classify(fp, "suggest gas price", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &c.contract,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return proof.Receipt{}, proof.NewRejectedError(fp, "sign transaction", err)
	}

	// (2) broadcast
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return proof.Receipt{}, classify(fp, "send transaction", err)
	}
	txHash := signed.Hash()
	log := c.logger.With("fingerprint", fp.String(), "tx", txHash.Hex())
	log.Info("anchor broadcast", "nonce", nonce, "gas_estimate", estimate, "gas_limit", gasLimit)

	// (3) wait for inclusion and depth
	rcpt, err := c.waitConfirmed(ctx, fp, txHash)
	if err != nil {
		log.Warn("anchor not confirmed", "error", err)
		return proof.Receipt{}, err
	}
	if rcpt.Status == types.ReceiptStatusFailed {
		return proof.Receipt{}, proof.NewRejectedError(fp, fmt.Sprintf("transaction %s reverted", txHash.Hex()), nil)
	}

	// (4) parse the event
	out := proof.Receipt{
		TxRef:     txHash.Hex(),
		BlockRef:  rcpt.BlockNumber.Uint64(),
		Submitter: c.from.Hex(),
		GasUsed:   rcpt.GasUsed,
	}
	for _, lg := range rcpt.Logs {
		if !isProofCreated(lg, c.contract) {
			continue
		}
		ev, err := parseProofCreated(lg)
		if err != nil {
			log.Warn("undecodable ProofCreated log in confirmed receipt", "error", err)
			continue
		}
		if ev.Fingerprint != fp {
			continue
		}
		out.LedgerTimestamp = ev.Timestamp
		if raw, err := json.Marshal(lg); err == nil {
			out.RawEvent = raw
		}
		break
	}
	if out.LedgerTimestamp == 0 {
		// The anchor is final from here on; a missing timestamp must not
		// fail the submit.
		out.LedgerTimestamp = c.blockTime(context.WithoutCancel(ctx), rcpt.BlockNumber, log)
	}

	log.Info("anchor confirmed", "block", out.BlockRef, "gas_used", rcpt.GasUsed)
	return out, nil
}

const headerTimeout = 10 * time.Second

// blockTime returns the timestamp of block, or the local clock when the
// header cannot be read.
func (c *EthClient) blockTime(ctx context.Context, block *big.Int, log *slog.Logger) int64 {
	hctx, cancel := context.WithTimeout(ctx, headerTimeout)
	defer cancel()
	hdr, err := c.backend.HeaderByNumber(hctx, block)
	if err != nil {
		log.Warn("no ProofCreated event and block header unreadable, using local time",
			"block", block.Uint64(), "error", err)
		return time.Now().Unix()
	}
	log.Warn("no ProofCreated event in receipt, using block time", "block", block.Uint64())
	return int64(hdr.Time)
}

// waitConfirmed polls until txHash is mined and buried under the configured
// number of confirmations.
func (c *EthClient) waitConfirmed(ctx context.Context, fp fingerprint.Fingerprint, txHash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var rcpt *types.Receipt
	for {
		if rcpt == nil {
			r, err := c.backend.TransactionReceipt(waitCtx, txHash)
			switch {
			case err == nil:
				rcpt = r
			case errors.Is(err, ethereum.NotFound):
				// not mined yet
			case waitCtx.Err() != nil:
				// handled below
			default:
				c.logger.Debug("receipt poll failed", "tx", txHash.Hex(), "error", err)
			}
		}
		if rcpt != nil {
			if rcpt.Status == types.ReceiptStatusFailed {
				return rcpt, nil
			}
			head, err := c.backend.BlockNumber(waitCtx)
			if err == nil && head+1 >= rcpt.BlockNumber.Uint64()+c.cfg.Confirmations {
				return rcpt, nil
			}
		}

		select {
		case <-waitCtx.Done():
			return nil, proof.NewTimeoutError(fp,
				fmt.Sprintf("transaction %s not confirmed to depth %d", txHash.Hex(), c.cfg.Confirmations),
				waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// QueryByFingerprint scans the trailing window for ProofCreated logs.
// Transport failures are retried QueryRetries times; queries have no side
// effects.
func (c *EthClient) QueryByFingerprint(ctx context.Context, fp fingerprint.Fingerprint, window uint64) ([]proof.LedgerEvent, error) {
	if window == 0 {
		window = c.cfg.Window
	}

	var events []proof.LedgerEvent
	err := c.retryRead(ctx, fp, "query events", func() error {
		var err error
		events, err = c.queryOnce(ctx, fp, window)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Exists calls the contract's verifyProof view, which covers every anchor
// ever made. Retried like QueryByFingerprint.
func (c *EthClient) Exists(ctx context.Context, fp fingerprint.Fingerprint) (proof.LedgerRecord, bool, error) {
	data, err := packVerifyProof(fp)
	if err != nil {
		return proof.LedgerRecord{}, false, proof.NewRejectedError(fp, "encode verifyProof", err)
	}

	var out []byte
	err = c.retryRead(ctx, fp, "verify proof", func() error {
		var err error
		out, err = c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: data}, nil)
		if err != nil {
			return classify(fp, "verify proof", err)
		}
		return nil
	})
	if err != nil {
		return proof.LedgerRecord{}, false, err
	}

	rec, exists, err := parseVerifyProof(fp, out)
	if err != nil {
		return proof.LedgerRecord{}, false, proof.NewRejectedError(fp, "decode verifyProof", err)
	}
	return rec, exists, nil
}

// retryRead runs a side-effect-free read, retrying UNAVAILABLE failures
// QueryRetries times.
func (c *EthClient) retryRead(ctx context.Context, fp fingerprint.Fingerprint, op string, read func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.QueryRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return classify(fp, op, ctx.Err())
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
		err := read()
		if err == nil {
			return nil
		}
		lastErr = err
		if !proof.IsUnavailable(err) {
			return err
		}
		c.logger.Debug("ledger read failed", "op", op, "fingerprint", fp.String(), "attempt", attempt+1, "error", err)
	}
	return lastErr
}

func (c *EthClient) queryOnce(ctx context.Context, fp fingerprint.Fingerprint, window uint64) ([]proof.LedgerEvent, error) {
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return nil, classify(fp, "read head", err)
	}
	from := windowStart(head, window)

	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{proofCreatedID()}, {common.Hash(fp)}},
	})
	if err != nil {
		return nil, classify(fp, "filter logs", err)
	}

	events := []proof.LedgerEvent{}
	for i := range logs {
		lg := &logs[i]
		if lg.Removed || !isProofCreated(lg, c.contract) {
			continue
		}
		ev, err := parseProofCreated(lg)
		if err != nil {
			c.logger.Warn("skipping undecodable ProofCreated log", "tx", lg.TxHash.Hex(), "error", err)
			continue
		}
		if ev.Fingerprint != fp {
			continue
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Before(events[j]) })
	return events, nil
}

// Head returns the latest block number.
func (c *EthClient) Head(ctx context.Context) (uint64, error) {
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, classify(fingerprint.Zero, "read head", err)
	}
	return head, nil
}

// Status reports network, submitter balance and head.
func (c *EthClient) Status(ctx context.Context) (proof.LedgerStatus, error) {
	head, err := c.Head(ctx)
	if err != nil {
		return proof.LedgerStatus{}, err
	}
	bal, err := c.backend.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return proof.LedgerStatus{}, classify(fingerprint.Zero, "read balance", err)
	}
	return proof.LedgerStatus{
		Network:    c.cfg.Network,
		ChainID:    c.chainID.String(),
		Contract:   c.contract.Hex(),
		Submitter:  c.from.Hex(),
		BalanceWei: bal.String(),
		Head:       head,
	}, nil
}

// classify maps an RPC failure onto the error taxonomy.
//
//   - ctx expiry: TIMEOUT
//   - transport failures, HTTP 408, 429 and 5xx: UNAVAILABLE
//   - anything the node answered (JSON-RPC errors, reverts, nonce and fee
//     complaints) and anything unrecognized: SUBMISSION_REJECTED, which is
//     never retried automatically
func classify(fp fingerprint.Fingerprint, op string, err error) error {
	var rpcErr rpc.Error
	var httpErr rpc.HTTPError
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return proof.NewTimeoutError(fp, op, err)
	case errors.As(err, &httpErr):
		if transientStatus(httpErr.StatusCode) {
			e := proof.NewUnavailableError(op, err)
			e.Fingerprint = fp
			return e
		}
		return proof.NewRejectedError(fp, op, err)
	case errors.As(err, &rpcErr):
		return proof.NewRejectedError(fp, op, err)
	case errors.As(err, &urlErr), errors.As(err, &netErr),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		e := proof.NewUnavailableError(op, err)
		e.Fingerprint = fp
		return e
	default:
		return proof.NewRejectedError(fp, op, err)
	}
}

// transientStatus reports HTTP statuses worth retrying: gateway and server
// failures, request timeouts and rate limits.
func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

var _ Client = (*EthClient)(nil)
