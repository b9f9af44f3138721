package rpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// EthClient is the narrow upstream surface the indexer consumes:
// eth_blockNumber, eth_getLogs, and eth_getBlockByNumber.
type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error)
	BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error)
	Close()
}

// Compile-time check to ensure Client implements the EthClient interface.
var _ EthClient = (*Client)(nil)

// Client wraps the Ethereum RPC client with convenience methods for indexing.
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// Dial creates a new RPC client connected to the given endpoint.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		eth: ethclient.NewClient(rpcClient),
		rpc: rpcClient,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockNumber returns the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, query)
}

// GetBlockHeader retrieves the header for a specific block number.
func (c *Client) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNum))
}

// BatchGetBlockHeaders retrieves headers for multiple block numbers in a
// single batch call. Used to resolve block timestamps for a fetch window
// without one round-trip per block.
func (c *Client) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	const maxBatch = 100
	var allResults []*types.Header

	for i := 0; i < len(blockNums); i += maxBatch {
		end := min(i+maxBatch, len(blockNums))
		chunk := blockNums[i:end]

		batch := make([]rpc.BatchElem, len(chunk))
		results := make([]*types.Header, len(chunk))

		for j, blockNum := range chunk {
			batch[j] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []any{toBlockNumArg(blockNum), false}, // false = don't include transactions
				Result: &results[j],
			}
		}

		if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
			return nil, err
		}

		for _, elem := range batch {
			if elem.Error != nil {
				return nil, elem.Error
			}
		}

		allResults = append(allResults, results...)
	}

	return allResults, nil
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
