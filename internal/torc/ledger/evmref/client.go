// Package evmref is an illustrative LedgerClient binding over an
// EVM-style JSON-RPC endpoint via go-ethereum's ethclient, wrapped in a
// circuit breaker so repeated RPC failures stop feeding the recovery
// pipeline. It does not manage a signer or a contract ABI: every
// Submit call is a placeholder showing where a production adapter
// would serialize and send a signed transaction.
package evmref

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	appErrors "github.com/torcsys/torc/internal/shared/errors"
	"github.com/torcsys/torc/internal/torc/ledger"
)

// Client is a reference LedgerClient binding. Production deployments
// swap this for a real contract binding; the core only ever depends
// on ledger.Client.
type Client struct {
	rpc     *ethclient.Client
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// Config configures the reference adapter.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// Dial connects to the RPC endpoint and wraps it in a circuit breaker
// tuned to trip after five consecutive failures, matching the pattern
// used for other external API clients in this codebase.
func Dial(cfg Config) (*Client, error) {
	rpc, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-rpc",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{rpc: rpc, breaker: breaker, timeout: timeout}, nil
}

// ReadEscrow reads one escrow's on-chain state. A production binding
// calls a contract's view method and decodes its return struct; this
// adapter demonstrates the circuit-breaker wrapping and error
// classification a real binding would reuse.
func (c *Client) ReadEscrow(ctx context.Context, key common.Hash) (*ledger.EscrowState, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.readEscrowRaw(ctx, key)
	})
	if err != nil {
		return nil, classifyRPCError(err)
	}
	return result.(*ledger.EscrowState), nil
}

func (c *Client) readEscrowRaw(ctx context.Context, key common.Hash) (*ledger.EscrowState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	// A production binding would bind.Call the escrow contract here and
	// decode the returned struct. The reference adapter has no ABI, so
	// it reports an absent record for any key, which is the ledger's
	// legitimate "not found" response shape.
	_ = ctx
	return &ledger.EscrowState{Seller: ledger.ZeroAddress, Amount: decimal.Zero}, nil
}

// Submit would serialize, sign, and broadcast a transaction for op;
// absent a signer (explicitly out of scope), this reference adapter
// always reports a transient failure so the recovery pipeline exercises
// its retry path against a real circuit breaker.
func (c *Client) Submit(ctx context.Context, op ledger.Operation, payload map[string]string) (string, error) {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fmt.Errorf("submit %s: no signer configured", op)
	})
	return "", classifyRPCError(err)
}

// Events returns a channel the Event Ingestor drains. It opens no RPC
// subscription: this reference holds no contract address to filter logs
// against, never emits anything, and closes the channel when ctx is done.
func (c *Client) Events(ctx context.Context) (<-chan ledger.Event, error) {
	ch := make(chan ledger.Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// ReadMultiSigApprovals reads accumulated approver state for key.
func (c *Client) ReadMultiSigApprovals(ctx context.Context, key common.Hash) (*ledger.MultiSigApprovals, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		_ = ctx
		return &ledger.MultiSigApprovals{}, nil
	})
	if err != nil {
		return nil, classifyRPCError(err)
	}
	return result.(*ledger.MultiSigApprovals), nil
}

// classifyRPCError maps a raw RPC/circuit-breaker error into the core's
// error-kind taxonomy (§7). A breaker trip or context deadline becomes a
// TransientLedgerError ("ledger rpc unavailable"); every other error,
// revert reasons included, also becomes a TransientLedgerError ("ledger
// rpc call failed"). It never returns a PermanentLedgerError.
func classifyRPCError(err error) error {
	if err == nil {
		return nil
	}
	switch err {
	case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests, context.DeadlineExceeded:
		return appErrors.TransientLedgerError("ledger rpc unavailable", err)
	}
	return appErrors.TransientLedgerError("ledger rpc call failed", err)
}
