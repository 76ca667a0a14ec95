package fetcher

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/rs/zerolog"
)

const priceRecorderABIJSON = `[
{"inputs":[{"internalType":"uint256","name":"requested","type":"uint256"},{"internalType":"uint256","name":"available","type":"uint256"}],"name":"InsufficientData","type":"error"},
{"anonymous":false,"inputs":[{"indexed":false,"internalType":"uint256","name":"price","type":"uint256"},{"indexed":false,"internalType":"int8","name":"decimals","type":"int8"},{"indexed":false,"internalType":"uint64","name":"timestamp","type":"uint64"}],"name":"PriceRecorded","type":"event"},
{"inputs":[{"internalType":"uint256","name":"n","type":"uint256"}],"name":"getLastNPrices","outputs":[{"components":[{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"int8","name":"decimals","type":"int8"},{"internalType":"uint64","name":"timestamp","type":"uint64"}],"internalType":"struct PriceRecorder.PriceData[]","name":"","type":"tuple[]"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint256","name":"","type":"uint256"}],"name":"priceHistory","outputs":[{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"int8","name":"decimals","type":"int8"},{"internalType":"uint64","name":"timestamp","type":"uint64"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"recordPrice","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var (
	priceRecorderABI abi.ABI

	// Solidity Panic(uint256) selector; array reads past the end revert
	// with panic code 0x32.
	panicSelector            = crypto.Keccak256([]byte("Panic(uint256)"))[:4]
	insufficientDataSelector []byte
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(priceRecorderABIJSON))
	if err != nil {
		panic("failed to parse PriceRecorder ABI: " + err.Error())
	}
	priceRecorderABI = parsed
	insufficientDataSelector = parsed.Errors["InsufficientData"].ID.Bytes()[:4]
}

// OracleOptions parameterise the on-chain price source.
type OracleOptions struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string // hex, only required for Record
	GasLimit        uint64
	MaxFeeGwei      int64
	MaxTipGwei      int64
	Timeout         time.Duration
}

// Oracle reads and records FLR/USD observations through the PriceRecorder
// contract on a Flare RPC endpoint.
type Oracle struct {
	opts      OracleOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOracle builds a contract-backed price source.
func NewOracle(opts OracleOptions, logger zerolog.Logger) *Oracle {
	return &Oracle{opts: opts, logger: logger.With().Str("component", "oracle").Logger()}
}

// ReadBatch fetches the last n records via getLastNPrices.
func (o *Oracle) ReadBatch(ctx context.Context, n int) ([]RawRecord, error) {
	res, err := o.call(ctx, "getLastNPrices", big.NewInt(int64(n)))
	if err != nil {
		return nil, classifyRevert(err, ErrInsufficientData)
	}

	outputs, err := priceRecorderABI.Unpack("getLastNPrices", res)
	if err != nil {
		return nil, fmt.Errorf("%w: decode getLastNPrices: %v", ErrCallFailed, err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("%w: unexpected getLastNPrices outputs", ErrCallFailed)
	}

	type priceData struct {
		Price     *big.Int
		Decimals  int8
		Timestamp uint64
	}
	entries := *abi.ConvertType(outputs[0], new([]priceData)).(*[]priceData)

	records := make([]RawRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, RawRecord{
			Value:     entry.Price,
			Decimals:  entry.Decimals,
			Timestamp: entry.Timestamp,
		})
	}
	return records, nil
}

// ReadAt fetches the record at index via the priceHistory array getter.
func (o *Oracle) ReadAt(ctx context.Context, index int) (RawRecord, error) {
	res, err := o.call(ctx, "priceHistory", big.NewInt(int64(index)))
	if err != nil {
		return RawRecord{}, classifyRevert(err, ErrOutOfRange)
	}
	// An out-of-range read on some RPC backends returns empty data
	// instead of a revert payload.
	if len(res) == 0 {
		return RawRecord{}, fmt.Errorf("%w: index %d", ErrOutOfRange, index)
	}

	outputs, err := priceRecorderABI.Unpack("priceHistory", res)
	if err != nil {
		return RawRecord{}, fmt.Errorf("%w: decode priceHistory: %v", ErrCallFailed, err)
	}
	if len(outputs) != 3 {
		return RawRecord{}, fmt.Errorf("%w: unexpected priceHistory outputs", ErrCallFailed)
	}

	value, ok := outputs[0].(*big.Int)
	if !ok {
		return RawRecord{}, fmt.Errorf("%w: priceHistory price type", ErrCallFailed)
	}
	decimals, ok := outputs[1].(int8)
	if !ok {
		return RawRecord{}, fmt.Errorf("%w: priceHistory decimals type", ErrCallFailed)
	}
	timestamp, ok := outputs[2].(uint64)
	if !ok {
		return RawRecord{}, fmt.Errorf("%w: priceHistory timestamp type", ErrCallFailed)
	}

	return RawRecord{Value: value, Decimals: decimals, Timestamp: timestamp}, nil
}

// Record submits a recordPrice transaction with explicit gas settings and
// waits for one confirmation. The contract pulls the current FTSO price
// itself; the transaction carries no arguments.
func (o *Oracle) Record(ctx context.Context) (RecordReceipt, error) {
	if o.opts.PrivateKey == "" {
		return RecordReceipt{}, errors.New("oracle private key not configured")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(o.opts.PrivateKey, "0x"))
	if err != nil {
		return RecordReceipt{}, fmt.Errorf("parse private key: %w", err)
	}

	ctx, cancel, err := o.callContext(ctx)
	if err != nil {
		return RecordReceipt{}, err
	}
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return RecordReceipt{}, err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return RecordReceipt{}, fmt.Errorf("fetch chain id: %w", err)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return RecordReceipt{}, fmt.Errorf("fetch nonce: %w", err)
	}

	payload, err := priceRecorderABI.Pack("recordPrice")
	if err != nil {
		return RecordReceipt{}, err
	}

	to := common.HexToAddress(o.opts.ContractAddress)
	gasLimit := o.opts.GasLimit
	if gasLimit == 0 {
		gasLimit = 300_000
	}
	maxFee := gweiOrDefault(o.opts.MaxFeeGwei, 100)
	maxTip := gweiOrDefault(o.opts.MaxTipGwei, 5)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: maxTip,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        &to,
		Data:      payload,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return RecordReceipt{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return RecordReceipt{}, fmt.Errorf("send recordPrice: %w", err)
	}

	o.logger.Info().Str("tx", signed.Hash().Hex()).Msg("recordPrice submitted")

	receipt, err := waitMined(ctx, client, signed.Hash())
	if err != nil {
		return RecordReceipt{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return RecordReceipt{}, fmt.Errorf("recordPrice reverted (tx %s)", signed.Hash().Hex())
	}

	result := RecordReceipt{TxHash: signed.Hash().Hex(), GasUsed: receipt.GasUsed}
	result.Recorded = decodeRecordedEvent(receipt.Logs)
	return result, nil
}

func (o *Oracle) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	if o.opts.RPCURL == "" {
		return nil, errors.New("oracle rpc url not configured")
	}
	if o.opts.ContractAddress == "" {
		return nil, errors.New("oracle contract address not configured")
	}

	ctx, cancel, err := o.callContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCallFailed, err)
	}

	payload, err := priceRecorderABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(o.opts.ContractAddress)
	return client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
}

func (o *Oracle) callContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}

func (o *Oracle) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

// classifyRevert maps a provider error onto the fetcher sentinels. This is
// the single place that inspects revert payloads or provider error text.
// Undecodable reverts map onto revertSentinel, which differs per call
// (insufficient data for batch reads, out of range for indexed reads).
func classifyRevert(err, revertSentinel error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if data := revertData(err); len(data) >= 4 {
		switch {
		case bytes.Equal(data[:4], insufficientDataSelector):
			return fmt.Errorf("%w: %v", ErrInsufficientData, err)
		case bytes.Equal(data[:4], panicSelector):
			return fmt.Errorf("%w: %v", ErrOutOfRange, err)
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "InsufficientData"):
		return fmt.Errorf("%w: %v", ErrInsufficientData, err)
	case strings.Contains(msg, "out-of-bounds") || strings.Contains(msg, "invalid array access"):
		return fmt.Errorf("%w: %v", ErrOutOfRange, err)
	case strings.Contains(msg, "execution reverted"):
		return fmt.Errorf("%w: %v", revertSentinel, err)
	default:
		return fmt.Errorf("%w: %v", ErrCallFailed, err)
	}
}

// revertData extracts the ABI-encoded revert payload when the RPC error
// carries one.
func revertData(err error) []byte {
	var dataErr interface{ ErrorData() interface{} }
	if !errors.As(err, &dataErr) {
		return nil
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return nil
	}
	decoded, decodeErr := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if decodeErr != nil {
		return nil
	}
	return decoded
}

func decodeRecordedEvent(logs []*types.Log) *RawRecord {
	eventID := priceRecorderABI.Events["PriceRecorded"].ID
	for _, entry := range logs {
		if len(entry.Topics) == 0 || entry.Topics[0] != eventID {
			continue
		}
		var ev struct {
			Price     *big.Int
			Decimals  int8
			Timestamp uint64
		}
		if err := priceRecorderABI.UnpackIntoInterface(&ev, "PriceRecorded", entry.Data); err != nil {
			continue
		}
		return &RawRecord{Value: ev.Price, Decimals: ev.Decimals, Timestamp: ev.Timestamp}
	}
	return nil
}

func waitMined(ctx context.Context, client *ethclient.Client, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func gweiOrDefault(gwei, fallback int64) *big.Int {
	if gwei <= 0 {
		gwei = fallback
	}
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(params.GWei))
}

var (
	_ Source   = (*Oracle)(nil)
	_ Recorder = (*Oracle)(nil)
)
