package blockchain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// registryABI covers the registry surface the node consumes. It is a strict
// subset of the deployed contract's interface.
const registryABI = `[
  {"type":"function","name":"getFeeForUpload","stateMutability":"view","inputs":[{"name":"storagePeriods","type":"uint64"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getBundleItemsCountLimit","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"registerBundle","stateMutability":"payable","inputs":[{"name":"bundleId","type":"bytes32"},{"name":"storagePeriods","type":"uint64"}],"outputs":[]},
  {"type":"function","name":"getActiveChallenges","stateMutability":"view","inputs":[],"outputs":[{"name":"challengeIds","type":"bytes32[]"},{"name":"shelterers","type":"address[]"},{"name":"bundleIds","type":"bytes32[]"},{"name":"counts","type":"uint256[]"}]},
  {"type":"function","name":"resolveChallenge","stateMutability":"nonpayable","inputs":[{"name":"challengeId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"getShelteringExpirationDate","stateMutability":"view","inputs":[{"name":"bundleId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getNodeUrl","stateMutability":"view","inputs":[{"name":"node","type":"address"}],"outputs":[{"name":"","type":"string"}]}
]`

// ContractGateway is the node's single connection to the registry contract.
// All chain reads and writes of the upload and challenge repositories go
// through it.
type ContractGateway struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
}

// NewContractGateway dials the RPC endpoint and binds the registry contract
// at contractAddr. nodeSecret is the node's private key in hex.
func NewContractGateway(ctx context.Context, rpcURL, contractAddr, nodeSecret string) (*ContractGateway, error) {
	if !common.IsHexAddress(contractAddr) {
		return nil, errors.Errorf("invalid contract address %q", contractAddr)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "could not dial chain RPC")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(nodeSecret, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "could not parse node secret")
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not read chain id")
	}
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, errors.Wrap(err, "could not parse registry ABI")
	}
	contract := bind.NewBoundContract(common.HexToAddress(contractAddr), parsed, client, client, client)
	return &ContractGateway{
		client:   client,
		contract: contract,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
	}, nil
}

// Close tears down the RPC connection.
func (g *ContractGateway) Close() {
	g.client.Close()
}

// From returns the node's on-chain address.
func (g *ContractGateway) From() common.Address {
	return g.from
}

// SyncChecker returns a checker bound to the gateway's client.
func (g *ContractGateway) SyncChecker() SyncChecker {
	return NewClientSyncChecker(g.client)
}

func (g *ContractGateway) callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx, From: g.from}
}

func (g *ContractGateway) transactOpts(ctx context.Context, value *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(g.key, g.chainID)
	if err != nil {
		return nil, errors.Wrap(err, "could not build transactor")
	}
	opts.Context = ctx
	opts.Value = value
	return opts, nil
}

// FeeForUpload returns the fee, in wei, for sheltering a bundle over the
// given number of storage periods.
func (g *ContractGateway) FeeForUpload(ctx context.Context, storagePeriods int64) (*big.Int, error) {
	var out []interface{}
	if err := g.contract.Call(g.callOpts(ctx), &out, "getFeeForUpload", uint64(storagePeriods)); err != nil {
		return nil, errors.Wrap(err, "could not read upload fee")
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected fee type from registry")
	}
	return fee, nil
}

// Balance returns the node account's current balance in wei.
func (g *ContractGateway) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := g.client.BalanceAt(ctx, g.from, nil)
	return balance, errors.Wrap(err, "could not read balance")
}

// BundleItemsCountLimit returns the registry's cap on entities per bundle.
func (g *ContractGateway) BundleItemsCountLimit(ctx context.Context) (int, error) {
	var out []interface{}
	if err := g.contract.Call(g.callOpts(ctx), &out, "getBundleItemsCountLimit"); err != nil {
		return 0, errors.Wrap(err, "could not read bundle items count limit")
	}
	limit, ok := out[0].(*big.Int)
	if !ok {
		return 0, errors.New("unexpected limit type from registry")
	}
	return int(limit.Int64()), nil
}

// UploadProof is the receipt of a mined bundle registration.
type UploadProof struct {
	BlockNumber     int64
	TransactionHash string
}

// RegisterBundle commits the bundle hash on chain, paying the upload fee,
// and waits for the transaction to mine.
func (g *ContractGateway) RegisterBundle(ctx context.Context, bundleID string, storagePeriods int64) (*UploadProof, error) {
	fee, err := g.FeeForUpload(ctx, storagePeriods)
	if err != nil {
		return nil, err
	}
	opts, err := g.transactOpts(ctx, fee)
	if err != nil {
		return nil, err
	}
	tx, err := g.contract.Transact(opts, "registerBundle", hashArg(bundleID), uint64(storagePeriods))
	if err != nil {
		return nil, errors.Wrap(err, "could not send registerBundle")
	}
	receipt, err := g.waitMined(ctx, tx)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"bundleId": bundleID,
		"txHash":   tx.Hash().Hex(),
		"block":    receipt.BlockNumber.Int64(),
	}).Info("Registered bundle on chain")
	return &UploadProof{
		BlockNumber:     receipt.BlockNumber.Int64(),
		TransactionHash: tx.Hash().Hex(),
	}, nil
}

// ActiveChallenges reads the registry's current shelter challenge feed, in
// contract order.
func (g *ContractGateway) ActiveChallenges(ctx context.Context) ([]Challenge, error) {
	var out []interface{}
	if err := g.contract.Call(g.callOpts(ctx), &out, "getActiveChallenges"); err != nil {
		return nil, errors.Wrap(err, "could not read challenge feed")
	}
	ids, ok1 := out[0].([][32]byte)
	shelterers, ok2 := out[1].([]common.Address)
	bundles, ok3 := out[2].([][32]byte)
	counts, ok4 := out[3].([]*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, errors.New("unexpected challenge feed shape from registry")
	}
	if len(shelterers) != len(ids) || len(bundles) != len(ids) || len(counts) != len(ids) {
		return nil, errors.New("mismatched challenge feed lengths from registry")
	}
	challenges := make([]Challenge, 0, len(ids))
	for i := range ids {
		challenges = append(challenges, Challenge{
			ChallengeID: common.Hash(ids[i]).Hex(),
			SheltererID: shelterers[i].Hex(),
			BundleID:    common.Hash(bundles[i]).Hex(),
			Count:       counts[i].Int64(),
		})
	}
	return challenges, nil
}

// ResolveChallenge claims a shelter challenge and waits for the transaction
// to mine.
func (g *ContractGateway) ResolveChallenge(ctx context.Context, challengeID string) error {
	opts, err := g.transactOpts(ctx, nil)
	if err != nil {
		return err
	}
	tx, err := g.contract.Transact(opts, "resolveChallenge", hashArg(challengeID))
	if err != nil {
		return errors.Wrap(err, "could not send resolveChallenge")
	}
	if _, err := g.waitMined(ctx, tx); err != nil {
		return err
	}
	log.WithField("challengeId", challengeID).Info("Resolved challenge on chain")
	return nil
}

// ShelteringExpirationDate returns the unix timestamp until which the node
// must shelter the bundle.
func (g *ContractGateway) ShelteringExpirationDate(ctx context.Context, bundleID string) (int64, error) {
	var out []interface{}
	if err := g.contract.Call(g.callOpts(ctx), &out, "getShelteringExpirationDate", hashArg(bundleID)); err != nil {
		return 0, errors.Wrap(err, "could not read sheltering expiration")
	}
	expiration, ok := out[0].(*big.Int)
	if !ok {
		return 0, errors.New("unexpected expiration type from registry")
	}
	return expiration.Int64(), nil
}

// NodeURL looks up the HTTP endpoint registered for a peer node.
func (g *ContractGateway) NodeURL(ctx context.Context, nodeAddress string) (string, error) {
	if !common.IsHexAddress(nodeAddress) {
		return "", errors.Errorf("invalid node address %q", nodeAddress)
	}
	var out []interface{}
	if err := g.contract.Call(g.callOpts(ctx), &out, "getNodeUrl", common.HexToAddress(nodeAddress)); err != nil {
		return "", errors.Wrap(err, "could not read node url")
	}
	url, ok := out[0].(string)
	if !ok {
		return "", errors.New("unexpected url type from registry")
	}
	if url == "" {
		return "", errors.Errorf("no url registered for node %s", nodeAddress)
	}
	return url, nil
}

func (g *ContractGateway) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, g.client, tx)
	if err != nil {
		return nil, errors.Wrap(err, "could not wait for transaction")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}

func hashArg(id string) [32]byte {
	return common.HexToHash(id)
}
