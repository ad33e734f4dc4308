package txcoord

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/chain"
	"github.com/MateoOdt/DigitalMedia2/internal/service/account"
	"github.com/MateoOdt/DigitalMedia2/internal/signer"
	"github.com/MateoOdt/DigitalMedia2/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recipient = common.HexToAddress("0x00000000000000000000000000000000000000bb")

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func newKeyAccount(t *testing.T) (account.Account, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return account.Account{Address: crypto.PubkeyToAddress(key.PublicKey), PrivateKey: key}, key
}

// stubExternal 用给定私钥签名，模拟外部签名方
type stubExternal struct {
	key *ecdsa.PrivateKey
	err error
}

func (s *stubExternal) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{crypto.PubkeyToAddress(s.key.PublicKey)}, nil
}

func (s *stubExternal) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return types.SignTx(tx, types.NewEIP155Signer(chainID), s.key)
}

type recorderFunc func(ctx context.Context, res *SubmissionResult) error

func (f recorderFunc) RecordSubmitted(ctx context.Context, res *SubmissionResult) error {
	return f(ctx, res)
}

func TestSubmit_SimulatedChain(t *testing.T) {
	sender, _ := newKeyAccount(t)
	sim := simulated.NewBackend(types.GenesisAlloc{
		sender.Address: {Balance: ether(100)},
	})
	defer sim.Close()

	provider := chain.NewStaticProvider(chain.NewClient(sim.Client(), nil, 5*time.Second))
	coord := NewCoordinator(provider)

	res, err := coord.Submit(context.Background(), sender, recipient, "1.5")
	require.NoError(t, err)
	assert.Equal(t, signer.KindLocal, res.SignedBy)
	assert.Equal(t, uint64(0), res.Nonce)
	assert.Equal(t, uint64(21000), res.GasLimit)
	assert.Equal(t, int64(1337), res.ChainID.Int64())

	sim.Commit()

	state, err := coord.WaitForConfirmation(context.Background(), res.Hash, TrackOptions{PollInterval: 50 * time.Millisecond, MaxAttempts: 5})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, state.Status)
	assert.True(t, state.Succeeded())
	assert.Equal(t, 1, state.Attempt)

	balance, err := account.NewManager(provider, nil).GetBalance(context.Background(), recipient)
	require.NoError(t, err)
	assert.Equal(t, "1.5", balance)

	details, err := coord.Lookup(context.Background(), res.Hash)
	require.NoError(t, err)
	assert.False(t, details.Pending)
	assert.Equal(t, sender.Address, details.From)
	require.NotNil(t, details.Receipt)

	// 第二笔使用下一个 nonce
	res2, err := coord.Submit(context.Background(), sender, recipient, "0.25")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res2.Nonce)
}

func TestSubmit_InvalidAmount(t *testing.T) {
	fb := newFakeBackend()
	sender, _ := newKeyAccount(t)
	coord := NewCoordinator(fb.provider(time.Second))

	for _, amount := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		_, err := coord.Submit(context.Background(), sender, recipient, amount)
		assert.ErrorIs(t, err, errno.ErrInvalidAmount, "amount %q", amount)
	}
	_, _, sent := fb.counts()
	assert.Equal(t, 0, sent)
}

func TestSubmit_GasEstimationFails(t *testing.T) {
	fb := newFakeBackend()
	fb.estimateErr = rpcErr{msg: "execution reverted"}
	sender, _ := newKeyAccount(t)
	coord := NewCoordinator(fb.provider(time.Second))

	_, err := coord.Submit(context.Background(), sender, recipient, "1")
	assert.ErrorIs(t, err, errno.ErrGasEstimation)
	assert.ErrorIs(t, err, errno.ErrRPCProtocol)

	estimate, _, sent := fb.counts()
	assert.Equal(t, 1, estimate, "估算失败不应重试")
	assert.Equal(t, 0, sent)
}

func TestSubmit_BroadcastRejected(t *testing.T) {
	fb := newFakeBackend()
	fb.nonce = 7
	fb.sendErr = rpcErr{msg: "nonce too low"}
	sender, _ := newKeyAccount(t)

	recorded := 0
	coord := NewCoordinator(fb.provider(time.Second), WithRecorder(recorderFunc(func(ctx context.Context, res *SubmissionResult) error {
		recorded++
		return nil
	})))

	_, err := coord.Submit(context.Background(), sender, recipient, "1")
	assert.ErrorIs(t, err, errno.ErrBroadcast)

	var stageErr *errno.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "broadcast", stageErr.Stage)

	_, _, sent := fb.counts()
	assert.Equal(t, 1, sent, "广播失败不应重试")
	assert.Equal(t, uint64(7), fb.sent[0].Nonce())
	assert.Equal(t, 0, recorded)
}

func TestSubmit_NoSignerAvailable(t *testing.T) {
	fb := newFakeBackend()
	coord := NewCoordinator(fb.provider(time.Second))
	watchOnly := account.Account{Address: common.HexToAddress("0x00000000000000000000000000000000000000aa")}

	_, err := coord.Submit(context.Background(), watchOnly, recipient, "1")
	assert.ErrorIs(t, err, errno.ErrSigning)
	assert.ErrorIs(t, err, errno.ErrSignerUnavailable)

	_, _, sent := fb.counts()
	assert.Equal(t, 0, sent)
}

func TestSubmit_ExternalSigner(t *testing.T) {
	fb := newFakeBackend()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	var got *SubmissionResult
	coord := NewCoordinator(fb.provider(time.Second),
		WithExternalSigner(&stubExternal{key: key}),
		WithRecorder(recorderFunc(func(ctx context.Context, res *SubmissionResult) error {
			got = res
			return errors.New("db down")
		})))

	res, err := coord.Submit(context.Background(), account.Account{Address: from}, recipient, "2")
	require.NoError(t, err, "记录失败不影响提交结果")
	assert.Equal(t, signer.KindExternal, res.SignedBy)
	assert.Equal(t, res, got)

	sender, err := types.Sender(types.NewEIP155Signer(fb.chainID), fb.sent[0])
	require.NoError(t, err)
	assert.Equal(t, from, sender)

	// 外部签名方拒绝
	coord = NewCoordinator(fb.provider(time.Second), WithExternalSigner(&stubExternal{key: key, err: errors.New("user rejected")}))
	_, err = coord.Submit(context.Background(), account.Account{Address: from}, recipient, "2")
	assert.ErrorIs(t, err, errno.ErrSigning)
}

func TestSubmitRequest_ExplicitFields(t *testing.T) {
	fb := newFakeBackend()
	sender, _ := newKeyAccount(t)
	coord := NewCoordinator(fb.provider(time.Second))

	nonce := uint64(42)
	res, err := coord.SubmitRequest(context.Background(), sender, TransactionRequest{
		To:       recipient,
		Value:    big.NewInt(1000),
		GasLimit: 30000,
		GasPrice: big.NewInt(5),
		Nonce:    &nonce,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res.Nonce)
	assert.Equal(t, sender.Address, res.Request.From)

	estimate, _, _ := fb.counts()
	assert.Equal(t, 0, estimate)
	tx := fb.sent[0]
	assert.Equal(t, uint64(30000), tx.Gas())
	assert.Equal(t, int64(5), tx.GasPrice().Int64())
	assert.Equal(t, int64(1000), tx.Value().Int64())

	// From 与账户不一致
	_, err = coord.SubmitRequest(context.Background(), sender, TransactionRequest{
		From:  recipient,
		To:    recipient,
		Value: big.NewInt(1),
	})
	assert.ErrorIs(t, err, errno.ErrKeyMismatch)
}

func TestLookup_NotFound(t *testing.T) {
	fb := newFakeBackend()
	coord := NewCoordinator(fb.provider(time.Second))

	_, err := coord.Lookup(context.Background(), common.HexToHash("0x01"))
	assert.ErrorIs(t, err, errno.ErrNotFound)
}
