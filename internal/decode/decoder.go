// Package decode turns raw lending-pool logs into typed lending events via
// topic-0 dispatch. Event data fields are decoded positionally from the
// fixed-width data words.
package decode

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"lendscope/internal/model"
)

// Event signatures of the supported lending-pool and collateral-token logs
// (Aave v3 layout).
var (
	SigDeposit     = crypto.Keccak256Hash([]byte("Supply(address,address,address,uint256,uint16)"))
	SigWithdraw    = crypto.Keccak256Hash([]byte("Withdraw(address,address,address,uint256)"))
	SigBorrow      = crypto.Keccak256Hash([]byte("Borrow(address,address,address,uint256,uint8,uint256,uint16)"))
	SigRepay       = crypto.Keccak256Hash([]byte("Repay(address,address,address,uint256,bool)"))
	SigLiquidation      = crypto.Keccak256Hash([]byte("LiquidationCall(address,address,address,uint256,uint256,address,bool)"))
	SigTransfer         = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	SigCollateralConfig = crypto.Keccak256Hash([]byte("CollateralConfigurationChanged(address,uint256,uint256,uint256)"))
)

var zeroAddress = common.Address{}

// DefaultTopics returns the topic-0 filter covering every supported event.
func DefaultTopics() []common.Hash {
	return []common.Hash{
		SigDeposit,
		SigWithdraw,
		SigBorrow,
		SigRepay,
		SigLiquidation,
		SigTransfer,
		SigCollateralConfig,
	}
}

// IsRepayTopic reports whether topic0 is the repay signature. Used by the
// fallback sibling scan during liquidation correlation.
func IsRepayTopic(topic0 string) bool {
	return strings.EqualFold(topic0, SigRepay.Hex())
}

// BalanceFunc reads an account's authoritative post-event token balance at
// a block. A revert is recoverable: the decoder logs and leaves the balance
// empty.
type BalanceFunc func(ctx context.Context, token, account common.Address, blockNumber uint64) (*big.Int, error)

// DecimalsFunc resolves a token's decimals.
type DecimalsFunc func(ctx context.Context, token common.Address) (uint8, error)

// ReserveTokens names the position tokens minted against one reserve. The
// aToken tracks supplied collateral, the variable debt token tracks
// borrowed principal; balanceOf on these, not on the underlying, is the
// position balance.
type ReserveTokens struct {
	AToken    common.Address
	DebtToken common.Address
}

// ParseReserves builds the reserve mapping from its configuration form,
// reserve address to "atoken:vdebttoken". The debt token may be omitted;
// the affected balance reads then degrade to empty.
func ParseReserves(raw map[string]string) (map[common.Address]ReserveTokens, error) {
	reserves := make(map[common.Address]ReserveTokens, len(raw))
	for reserve, tokens := range raw {
		if !common.IsHexAddress(reserve) {
			return nil, fmt.Errorf("invalid reserve address: %s", reserve)
		}
		parts := strings.SplitN(tokens, ":", 2)
		if parts[0] == "" || !common.IsHexAddress(parts[0]) {
			return nil, fmt.Errorf("invalid atoken address for reserve %s: %s", reserve, tokens)
		}
		entry := ReserveTokens{AToken: common.HexToAddress(parts[0])}
		if len(parts) == 2 && parts[1] != "" {
			if !common.IsHexAddress(parts[1]) {
				return nil, fmt.Errorf("invalid debt token address for reserve %s: %s", reserve, tokens)
			}
			entry.DebtToken = common.HexToAddress(parts[1])
		}
		reserves[common.HexToAddress(reserve)] = entry
	}
	return reserves, nil
}

// Decoder maps raw logs onto typed lending events.
type Decoder struct {
	balance     BalanceFunc
	decimals    DecimalsFunc
	logger      *zap.Logger
	topicToKind map[string]model.EventKind
	decCache    map[common.Address]uint8
	reserves    map[common.Address]ReserveTokens
	reserveOf   map[common.Address]common.Address
}

// NewDecoder builds a decoder. balance and decimals may be nil when no
// chain access is available; affected fields degrade to empty / 18.
// reserves maps each reserve to its position tokens; collateral-token
// transfers are attributed to a reserve through the reverse mapping.
func NewDecoder(balance BalanceFunc, decimals DecimalsFunc, reserves map[common.Address]ReserveTokens, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	reserveOf := make(map[common.Address]common.Address, len(reserves))
	for reserve, tokens := range reserves {
		if tokens.AToken != zeroAddress {
			reserveOf[tokens.AToken] = reserve
		}
	}
	return &Decoder{
		balance:   balance,
		decimals:  decimals,
		logger:    logger,
		reserves:  reserves,
		reserveOf: reserveOf,
		topicToKind: map[string]model.EventKind{
			strings.ToLower(SigDeposit.Hex()):     model.EventDeposit,
			strings.ToLower(SigWithdraw.Hex()):    model.EventWithdraw,
			strings.ToLower(SigBorrow.Hex()):      model.EventBorrow,
			strings.ToLower(SigRepay.Hex()):       model.EventRepay,
			strings.ToLower(SigLiquidation.Hex()):      model.EventLiquidation,
			strings.ToLower(SigTransfer.Hex()):         model.EventTransfer,
			strings.ToLower(SigCollateralConfig.Hex()): model.EventCollateralConfig,
		},
		decCache: make(map[common.Address]uint8),
	}
}

// CanDecode checks whether the topic0 is supported.
func (d *Decoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToKind[strings.ToLower(topic0)]
	return ok
}

// Decode converts a LogRecord into a LendingEvent. Mint/burn transfers
// (zero address on either side) duplicate the pool's own deposit/withdraw
// logs and are skipped with a nil event, nil error.
func (d *Decoder) Decode(ctx context.Context, log model.LogRecord) (*model.LendingEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	kind, ok := d.topicToKind[strings.ToLower(log.Topics[0])]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}

	switch kind {
	case model.EventDeposit:
		return d.decodeDeposit(ctx, log)
	case model.EventWithdraw:
		return d.decodeWithdraw(ctx, log)
	case model.EventBorrow:
		return d.decodeBorrow(ctx, log)
	case model.EventRepay:
		return d.decodeRepay(ctx, log)
	case model.EventLiquidation:
		return d.decodeLiquidation(ctx, log)
	case model.EventTransfer:
		return d.decodeTransfer(ctx, log)
	case model.EventCollateralConfig:
		return d.decodeCollateralConfig(log)
	default:
		return nil, fmt.Errorf("unsupported event kind: %s", kind)
	}
}

// Supply(reserve idx, user, onBehalfOf idx, amount, referralCode idx)
func (d *Decoder) decodeDeposit(ctx context.Context, log model.LogRecord) (*model.LendingEvent, error) {
	reserve, err := addressTopic(log.Topics, 1)
	if err != nil {
		return nil, err
	}
	onBehalfOf, err := addressTopic(log.Topics, 2)
	if err != nil {
		return nil, err
	}
	amount, err := AmountWord(log.Data, 1)
	if err != nil {
		return nil, err
	}

	ev := d.baseEvent(model.EventDeposit, log, reserve, onBehalfOf)
	ev.Amount = amount.String()
	ev.PostBalance = d.supplyBalance(ctx, reserve, onBehalfOf, log.BlockNumber)
	return ev, nil
}

// Withdraw(reserve idx, user idx, to idx, amount)
func (d *Decoder) decodeWithdraw(ctx context.Context, log model.LogRecord) (*model.LendingEvent, error) {
	reserve, err := addressTopic(log.Topics, 1)
	if err != nil {
		return nil, err
	}
	user, err := addressTopic(log.Topics, 2)
	if err != nil {
		return nil, err
	}
	amount, err := AmountWord(log.Data, 0)
	if err != nil {
		return nil, err
	}

	ev := d.baseEvent(model.EventWithdraw, log, reserve, user)
	ev.Amount = amount.String()
	ev.PostBalance = d.supplyBalance(ctx, reserve, user, log.BlockNumber)
	return ev, nil
}

// Borrow(reserve idx, user, onBehalfOf idx, amount, rateMode, borrowRate, referral idx)
func (d *Decoder) decodeBorrow(ctx context.Context, log model.LogRecord) (*model.LendingEvent, error) {
	reserve, err := addressTopic(log.Topics, 1)
	if err != nil {
		return nil, err
	}
	onBehalfOf, err := addressTopic(log.Topics, 2)
	if err != nil {
		return nil, err
	}
	amount, err := AmountWord(log.Data, 1)
	if err != nil {
		return nil, err
	}
	borrowRate, err := AmountWord(log.Data, 3)
	if err != nil {
		return nil, err
	}

	ev := d.baseEvent(model.EventBorrow, log, reserve, onBehalfOf)
	ev.Amount = amount.String()
	ev.PostBalance = d.debtBalance(ctx, reserve, onBehalfOf, log.BlockNumber)
	// on-chain rates are ray-scaled (1e27)
	ev.BorrowRate = rayToRatio(borrowRate)
	return ev, nil
}

// Repay(reserve idx, user idx, repayer idx, amount, useATokens)
func (d *Decoder) decodeRepay(ctx context.Context, log model.LogRecord) (*model.LendingEvent, error) {
	reserve, err := addressTopic(log.Topics, 1)
	if err != nil {
		return nil, err
	}
	user, err := addressTopic(log.Topics, 2)
	if err != nil {
		return nil, err
	}
	repayer, err := addressTopic(log.Topics, 3)
	if err != nil {
		return nil, err
	}
	amount, err := AmountWord(log.Data, 0)
	if err != nil {
		return nil, err
	}

	ev := d.baseEvent(model.EventRepay, log, reserve, user)
	ev.Caller = repayer.Hex()
	ev.Amount = amount.String()
	ev.PostBalance = d.debtBalance(ctx, reserve, user, log.BlockNumber)
	return ev, nil
}

// LiquidationCall(collateralAsset idx, debtAsset idx, user idx,
// debtToCover, liquidatedCollateralAmount, liquidator, receiveAToken)
func (d *Decoder) decodeLiquidation(ctx context.Context, log model.LogRecord) (*model.LendingEvent, error) {
	collateral, err := addressTopic(log.Topics, 1)
	if err != nil {
		return nil, err
	}
	user, err := addressTopic(log.Topics, 3)
	if err != nil {
		return nil, err
	}
	seized, err := AmountWord(log.Data, 1)
	if err != nil {
		return nil, err
	}
	liquidator, err := AddressWord(log.Data, 2)
	if err != nil {
		return nil, err
	}

	ev := d.baseEvent(model.EventLiquidation, log, collateral, user)
	ev.Caller = liquidator.Hex()
	ev.Amount = seized.String()
	ev.PostBalance = d.supplyBalance(ctx, collateral, user, log.BlockNumber)
	return ev, nil
}

// Transfer(from idx, to idx, value) on the collateral token. The sender is
// the event account; mint/burn legs are skipped. The emitting contract is
// the aToken, so the event is attributed to its reserve's market, the same
// market the deposits use. A transfer on an unmapped token cannot be
// attributed and is skipped.
func (d *Decoder) decodeTransfer(ctx context.Context, log model.LogRecord) (*model.LendingEvent, error) {
	from, err := addressTopic(log.Topics, 1)
	if err != nil {
		return nil, err
	}
	to, err := addressTopic(log.Topics, 2)
	if err != nil {
		return nil, err
	}
	if from == zeroAddress || to == zeroAddress {
		return nil, nil
	}
	amount, err := AmountWord(log.Data, 0)
	if err != nil {
		return nil, err
	}

	aToken := common.HexToAddress(log.Address)
	reserve, ok := d.reserveOf[aToken]
	if !ok {
		d.logger.Warn("transfer on unmapped collateral token, skipping",
			zap.String("token", aToken.Hex()),
			zap.String("tx", log.TxHash),
			zap.Uint64("log_index", log.LogIndex),
		)
		return nil, nil
	}

	ev := d.baseEvent(model.EventTransfer, log, reserve, from)
	ev.Caller = to.Hex()
	ev.Amount = amount.String()
	ev.PostBalance = d.postBalance(ctx, aToken, from, log.BlockNumber)
	return ev, nil
}

// CollateralConfigurationChanged(asset idx, ltv, liquidationThreshold,
// liquidationBonus), all basis points. The pool configurator emits it, so no
// account is involved and no balance read happens.
func (d *Decoder) decodeCollateralConfig(log model.LogRecord) (*model.LendingEvent, error) {
	asset, err := addressTopic(log.Topics, 1)
	if err != nil {
		return nil, err
	}
	ltv, err := AmountWord(log.Data, 0)
	if err != nil {
		return nil, err
	}
	threshold, err := AmountWord(log.Data, 1)
	if err != nil {
		return nil, err
	}
	bonus, err := AmountWord(log.Data, 2)
	if err != nil {
		return nil, err
	}

	ev := d.baseEvent(model.EventCollateralConfig, log, asset, zeroAddress)
	ev.Account = ""
	ev.Amount = "0"
	ev.MaximumLTVBps = ltv.Int64()
	ev.LiquidationThresholdBps = threshold.Int64()
	ev.LiquidationBonusBps = bonus.Int64()
	return ev, nil
}

func (d *Decoder) baseEvent(kind model.EventKind, log model.LogRecord, token, account common.Address) *model.LendingEvent {
	return &model.LendingEvent{
		Kind:          kind,
		ChainID:       log.ChainID,
		BlockNumber:   log.BlockNumber,
		Timestamp:     log.Timestamp,
		TxHash:        log.TxHash,
		TxIndex:       log.TxIndex,
		LogIndex:      log.LogIndex,
		Market:        token.Hex(),
		Token:         token.Hex(),
		TokenDecimals: d.tokenDecimals(token),
		Account:       account.Hex(),
	}
}

// supplyBalance reads the user's aToken balance for the reserve, the
// authoritative supplied-position balance. The underlying wallet balance is
// never a position balance. An unmapped reserve degrades to an empty value.
func (d *Decoder) supplyBalance(ctx context.Context, reserve, user common.Address, blockNumber uint64) string {
	return d.positionBalance(ctx, reserve, user, blockNumber, false)
}

// debtBalance reads the user's variable debt token balance for the reserve.
func (d *Decoder) debtBalance(ctx context.Context, reserve, user common.Address, blockNumber uint64) string {
	return d.positionBalance(ctx, reserve, user, blockNumber, true)
}

func (d *Decoder) positionBalance(ctx context.Context, reserve, user common.Address, blockNumber uint64, debt bool) string {
	if d.balance == nil {
		return ""
	}
	tokens, ok := d.reserves[reserve]
	if !ok {
		d.logger.Warn("no position tokens mapped for reserve",
			zap.String("reserve", reserve.Hex()),
		)
		return ""
	}
	token := tokens.AToken
	if debt {
		token = tokens.DebtToken
	}
	if token == zeroAddress {
		d.logger.Warn("position token not configured for reserve",
			zap.String("reserve", reserve.Hex()),
			zap.Bool("debt", debt),
		)
		return ""
	}
	return d.postBalance(ctx, token, user, blockNumber)
}

// postBalance reads the authoritative post-event balance; a failed or
// unavailable read degrades to an empty value, which the engine treats as
// zero.
func (d *Decoder) postBalance(ctx context.Context, token, account common.Address, blockNumber uint64) string {
	if d.balance == nil {
		return ""
	}
	balance, err := d.balance(ctx, token, account, blockNumber)
	if err != nil {
		d.logger.Warn("post balance read failed",
			zap.String("token", token.Hex()),
			zap.String("account", account.Hex()),
			zap.Uint64("block_number", blockNumber),
			zap.Error(err),
		)
		return ""
	}
	return balance.String()
}

func (d *Decoder) tokenDecimals(token common.Address) uint8 {
	if dec, ok := d.decCache[token]; ok {
		return dec
	}
	dec := uint8(18)
	if d.decimals != nil {
		fetched, err := d.decimals(context.Background(), token)
		if err != nil {
			d.logger.Warn("token decimals read failed, using 18",
				zap.String("token", token.Hex()),
				zap.Error(err),
			)
		} else {
			dec = fetched
		}
	}
	d.decCache[token] = dec
	return dec
}

// AmountWord decodes the word-th 32-byte data field as an unsigned integer.
func AmountWord(data string, word int) (*big.Int, error) {
	raw, err := dataWord(data, word)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// AddressWord decodes the word-th 32-byte data field as an address.
func AddressWord(data string, word int) (common.Address, error) {
	raw, err := dataWord(data, word)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(raw), nil
}

func dataWord(data string, word int) ([]byte, error) {
	if word < 0 {
		return nil, fmt.Errorf("negative data word index: %d", word)
	}
	raw, err := hexutil.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	offset := word * 32
	if len(raw) < offset+32 {
		return nil, fmt.Errorf("data too short for word %d: %d bytes", word, len(raw))
	}
	return raw[offset : offset+32], nil
}

func addressTopic(topics []string, index int) (common.Address, error) {
	if index >= len(topics) {
		return common.Address{}, fmt.Errorf("missing topic %d", index)
	}
	raw, err := hexutil.Decode(topics[index])
	if err != nil {
		return common.Address{}, fmt.Errorf("decode topic %d: %w", index, err)
	}
	if len(raw) != 32 {
		return common.Address{}, fmt.Errorf("invalid topic length: %d", len(raw))
	}
	return common.BytesToAddress(raw), nil
}

func rayToRatio(ray *big.Int) string {
	if ray == nil || ray.Sign() == 0 {
		return "0"
	}
	num := new(big.Rat).SetFrac(ray, new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil))
	return num.FloatString(18)
}
