// Package chain submits venue-constructed transactions to the settlement
// chain and waits for their receipts. The venue REST API returns the
// transaction body; this package owns nonce management, gas, signing, and
// confirmation polling.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

const (
	// receiptPollInterval is how often we ask the node for a receipt.
	receiptPollInterval = 2 * time.Second

	// fallbackGasLimit is used when gas estimation fails; venue order
	// transactions are well under this.
	fallbackGasLimit = 500_000
)

// txPayload is the venue's opaque transaction body: destination contract,
// calldata, and native value, all hex-encoded.
type txPayload struct {
	To    string        `json:"to"`
	Data  hexutil.Bytes `json:"data"`
	Value *hexutil.Big  `json:"value"`
}

// Submitter signs and submits venue transaction payloads and polls for
// confirmation. One Submitter serves all follower accounts; the signing key
// is supplied per call.
type Submitter struct {
	client         *ethclient.Client
	chainID        *big.Int
	confirmTimeout time.Duration
	logger         *slog.Logger
}

// Dial connects to the chain RPC endpoint and verifies the node reports the
// expected chain ID.
func Dial(ctx context.Context, rpcURL string, chainID int64, confirmTimeout time.Duration, logger *slog.Logger) (*Submitter, error) {
	if confirmTimeout <= 0 {
		confirmTimeout = 90 * time.Second
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}

	nodeID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain: query chain id: %w", err)
	}
	if nodeID.Int64() != chainID {
		client.Close()
		return nil, fmt.Errorf("chain: node reports chain id %d, config says %d", nodeID.Int64(), chainID)
	}

	return &Submitter{
		client:         client,
		chainID:        big.NewInt(chainID),
		confirmTimeout: confirmTimeout,
		logger:         logger.With(slog.String("component", "chain_submitter")),
	}, nil
}

// Close releases the underlying RPC connection.
func (s *Submitter) Close() {
	s.client.Close()
}

// SubmitAndConfirm signs the venue payload with the given key, broadcasts
// it, and blocks until the transaction is mined or the confirmation timeout
// elapses. It returns the transaction hash on success.
func (s *Submitter) SubmitAndConfirm(ctx context.Context, signingKeyHex string, payload json.RawMessage) (string, error) {
	var body txPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("chain: decode payload: %w", err)
	}
	if body.To == "" {
		return "", errors.New("chain: payload missing destination")
	}

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(signingKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("chain: %w: %v", domain.ErrSigningFailed, err)
	}
	from := ethcrypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress(body.To)

	value := new(big.Int)
	if body.Value != nil {
		value = body.Value.ToInt()
	}

	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("chain: nonce for %s: %w", from.Hex(), err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas price: %w", err)
	}

	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Data:  body.Data,
		Value: value,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "gas estimation failed, using fallback limit",
			slog.String("error", err.Error()),
		)
		gasLimit = fallbackGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     body.Data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), key)
	if err != nil {
		return "", fmt.Errorf("chain: %w: %v", domain.ErrSigningFailed, err)
	}

	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: broadcast: %w", err)
	}

	hash := signed.Hash()
	s.logger.DebugContext(ctx, "transaction broadcast",
		slog.String("tx_hash", hash.Hex()),
		slog.String("from", from.Hex()),
	)

	if err := s.waitMined(ctx, hash); err != nil {
		return hash.Hex(), err
	}
	return hash.Hex(), nil
}

// waitMined polls for the receipt until it lands, reverts, or the
// confirmation timeout elapses.
func (s *Submitter) waitMined(ctx context.Context, hash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("chain: transaction %s reverted", hash.Hex())
			}
			return nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("chain: query receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("chain: confirmation of %s timed out: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
