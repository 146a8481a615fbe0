// Package swap is the client for the 1inch v6 swap API. It produces
// router calldata for the liquidation pipeline and carries the
// allowance/approve/execute helpers used by the manual swap CLI.
package swap

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ErrSwapUnavailable is returned when the quote API cannot produce a
// usable response after all retries.
var ErrSwapUnavailable = errors.New("swap quote unavailable")

const (
	baseURL = "https://api.1inch.dev/swap/v6.0"

	requestTimeout = 10 * time.Second
	maxRetries     = 3
	retryDelay     = 10 * time.Second

	// courtesyPause spaces API calls to stay under the public rate limit.
	courtesyPause = 1100 * time.Millisecond
)

// Client talks to the 1inch API for one chain.
type Client struct {
	chainID int64
	apiKey  string
	from    common.Address
	http    *http.Client
	log     *logrus.Entry

	// test seams
	base  string
	pause time.Duration
	delay time.Duration
}

func NewClient(chainID int64, apiKey string, from common.Address, log *logrus.Entry) *Client {
	if apiKey == "" {
		log.Warn("1inch API key not set, requests may be rate limited")
	}
	return &Client{
		chainID: chainID,
		apiKey:  apiKey,
		from:    from,
		http:    &http.Client{Timeout: requestTimeout},
		log:     log,
		base:    baseURL,
		pause:   courtesyPause,
		delay:   retryDelay,
	}
}

// get performs one API request with retries and fixed backoff.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	u := fmt.Sprintf("%s/%d/%s?%s", c.base, c.chainID, endpoint, params.Encode())

	select {
	case <-time.After(c.pause):
	case <-ctx.Done():
		return ctx.Err()
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err == nil {
			if resp.StatusCode == http.StatusOK {
				err = json.NewDecoder(resp.Body).Decode(out)
				resp.Body.Close()
				if err == nil {
					return nil
				}
				lastErr = fmt.Errorf("decode %s response: %w", endpoint, err)
			} else {
				resp.Body.Close()
				lastErr = fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
			}
		} else {
			lastErr = err
		}

		if attempt == maxRetries {
			break
		}
		c.log.WithError(lastErr).Warnf("1inch request failed, retrying in %s (attempt %d/%d)",
			c.delay, attempt, maxRetries)
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", ErrSwapUnavailable, lastErr)
}

// Quote is the estimated output of a prospective swap.
type Quote struct {
	DstAmount string `json:"dstAmount"`
}

// GetQuote fetches the expected destination amount for a swap.
func (c *Client) GetQuote(ctx context.Context, src, dst common.Address, amount *big.Int) (*Quote, error) {
	params := url.Values{}
	params.Set("src", src.Hex())
	params.Set("dst", dst.Hex())
	params.Set("amount", amount.String())

	var q Quote
	if err := c.get(ctx, "quote", params, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// SwapTx is the transaction block of a swap response.
type SwapTx struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	Gas      int64  `json:"gas"`
	GasPrice string `json:"gasPrice"`
}

// GetSwapTransaction fetches the full router transaction for a swap
// where the liquidator contract both sends and receives.
func (c *Client) GetSwapTransaction(ctx context.Context, src, dst common.Address, amount *big.Int, slippage float64, recipient common.Address) (*SwapTx, error) {
	params := url.Values{}
	params.Set("src", src.Hex())
	params.Set("dst", dst.Hex())
	params.Set("amount", amount.String())
	params.Set("slippage", strconv.FormatFloat(slippage, 'f', -1, 64))
	params.Set("from", recipient.Hex())
	params.Set("receiver", recipient.Hex())
	params.Set("disableEstimate", "true")

	var resp struct {
		Tx *SwapTx `json:"tx"`
	}
	if err := c.get(ctx, "swap", params, &resp); err != nil {
		return nil, err
	}
	if resp.Tx == nil || resp.Tx.Data == "" {
		return nil, fmt.Errorf("%w: no transaction data in response", ErrSwapUnavailable)
	}
	return resp.Tx, nil
}

// SwapCalldata returns the raw router calldata for a swap. A zero
// amount is an error on the internal branch; the external branch
// handles it upstream by sending empty calldata.
func (c *Client) SwapCalldata(ctx context.Context, src, dst common.Address, amount *big.Int, externallyLiquidated bool, slippage float64, from common.Address) ([]byte, error) {
	if amount.Sign() == 0 {
		if !externallyLiquidated {
			return nil, fmt.Errorf("%w: zero swap amount on internal liquidation", ErrSwapUnavailable)
		}
		return []byte{}, nil
	}

	tx, err := c.GetSwapTransaction(ctx, src, dst, amount, slippage, from)
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(strings.TrimPrefix(tx.Data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed calldata: %v", ErrSwapUnavailable, err)
	}
	return data, nil
}

// SpenderAddress returns the router address that must be approved to
// spend the source token.
func (c *Client) SpenderAddress(ctx context.Context, token common.Address) (common.Address, error) {
	params := url.Values{}
	params.Set("tokenAddress", token.Hex())

	var resp struct {
		Address string `json:"address"`
	}
	if err := c.get(ctx, "approve/spender", params, &resp); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(resp.Address), nil
}

// ApproveTx is an approval transaction prepared by the API.
type ApproveTx struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasPrice string `json:"gasPrice"`
}

// ApproveTransaction fetches an unlimited-allowance approval transaction
// for the router.
func (c *Client) ApproveTransaction(ctx context.Context, token common.Address) (*ApproveTx, error) {
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	params := url.Values{}
	params.Set("tokenAddress", token.Hex())
	params.Set("amount", maxUint256.String())

	var tx ApproveTx
	if err := c.get(ctx, "approve/transaction", params, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// DecodeMinReturn extracts the 32-byte minReturn argument embedded in
// router swap calldata at the given byte offset. The offset is tied to
// the router ABI version and comes from configuration.
func DecodeMinReturn(data []byte, offset int) (*big.Int, bool) {
	if offset < 0 || len(data) < offset+32 {
		return nil, false
	}
	return new(big.Int).SetBytes(data[offset : offset+32]), true
}
