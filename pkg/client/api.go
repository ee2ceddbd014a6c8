package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"debtswitch/pkg/types"
)

const defaultRequestTimeout = 20 * time.Second

// BackendError carries a backend failure verbatim so the caller can surface
// the message to the user unchanged.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend error: %s", e.Message)
}

// Client talks to the quote-routing, transaction-build and
// transaction-tracking backends.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a backend client rooted at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

// QuoteRequest asks the routing backend for a route that repays exactly
// DestAmount of the old debt asset. Amounts are string-encoded base units.
type QuoteRequest struct {
	FromAsset   string `json:"fromAsset"`
	ToAsset     string `json:"toAsset"`
	DestAmount  string `json:"destAmount"`
	UserAddress string `json:"userAddress"`
	ChainID     int64  `json:"chainId"`
}

// QuoteResponse is the routing backend's answer.
type QuoteResponse struct {
	Route              string `json:"route"`
	SrcAmount          string `json:"srcAmount"`
	RouteVersion       string `json:"routeVersion"`
	SettlementContract string `json:"settlementContract"`
	BufferBps          int64  `json:"bufferBps"`
	FeeBps             int64  `json:"feeBps"`
}

// GetQuote fetches a swap route for the given pair and repay amount.
func (c *Client) GetQuote(ctx context.Context, req *QuoteRequest) (*QuoteResponse, error) {
	var resp QuoteResponse
	if err := c.postJSON(ctx, "/quotes", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	if resp.SrcAmount == "" || resp.Route == "" {
		return nil, &BackendError{Message: "empty quote response"}
	}
	return &resp, nil
}

// BuildRequest asks the build backend to assemble the settlement call payload.
type BuildRequest struct {
	FromAsset         string `json:"fromAsset"`
	ToAsset           string `json:"toAsset"`
	Route             string `json:"route"`
	SrcAmount         string `json:"srcAmount"`
	DestAmount        string `json:"destAmount"`
	SlippageBps       int64  `json:"slippageBps"`
	ChainID           int64  `json:"chainId"`
	SettlementAddress string `json:"settlementAddress"`
	UserWalletAddress string `json:"userWalletAddress"`
}

// BuildResponse carries the opaque route calldata, the settlement contract
// version actually used, and the backend-assigned tracking id.
type BuildResponse struct {
	CallData           string `json:"callData"`
	SettlementContract string `json:"settlementContract"`
	RouteVersion       string `json:"routeVersion"`
	TransactionID      string `json:"transactionId"`
}

// BuildTransaction requests the off-chain-built transaction payload.
func (c *Client) BuildTransaction(ctx context.Context, req *BuildRequest) (*BuildResponse, error) {
	var resp BuildResponse
	if err := c.postJSON(ctx, "/transactions/build", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return &resp, nil
}

// SendTransactionHash records the broadcast hash against a tracked
// transaction. Fire-and-forget from the orchestrator's perspective.
func (c *Client) SendTransactionHash(ctx context.Context, transactionID, txHash string) error {
	body := map[string]string{"txHash": txHash}
	if err := c.postJSON(ctx, "/transactions/"+transactionID+"/send-hash", body, nil); err != nil {
		return fmt.Errorf("failed to record transaction hash: %w", err)
	}
	return nil
}

// ConfirmTransaction reports the final gas used and repaid amount for a
// tracked transaction. Fire-and-forget.
func (c *Client) ConfirmTransaction(ctx context.Context, transactionID string, gasUsed uint64, actualPaid string, apyPercent *float64) error {
	body := map[string]interface{}{
		"gasUsed":    gasUsed,
		"actualPaid": actualPaid,
	}
	if apyPercent != nil {
		body["apyPercent"] = *apyPercent
	}
	if err := c.postJSON(ctx, "/transactions/"+transactionID+"/confirm", body, nil); err != nil {
		return fmt.Errorf("failed to confirm transaction: %w", err)
	}
	return nil
}

// FindReserve searches the chain's reserves for a symbol, trying an exact
// match before a partial one.
func (c *Client) FindReserve(ctx context.Context, chainID int64, symbol string) (*types.Reserve, error) {
	reserves, err := c.GetReserves(ctx, chainID)
	if err != nil {
		return nil, err
	}

	symbol = strings.ToUpper(symbol)

	// Try exact match first
	for i := range reserves {
		if strings.ToUpper(reserves[i].Symbol) == symbol {
			return &reserves[i], nil
		}
	}

	// Try partial match
	for i := range reserves {
		if strings.Contains(strings.ToUpper(reserves[i].Symbol), symbol) {
			return &reserves[i], nil
		}
	}

	return nil, fmt.Errorf("reserve '%s' not found", symbol)
}

// GetReserves lists the borrowable reserves for a chain.
func (c *Client) GetReserves(ctx context.Context, chainID int64) ([]types.Reserve, error) {
	url := fmt.Sprintf("%s/reserves?chainId=%d", c.baseURL, chainID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var reserves []types.Reserve
	if err := c.do(req, &reserves); err != nil {
		return nil, fmt.Errorf("failed to get reserves: %w", err)
	}
	return reserves, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return extractError(resp.StatusCode, bodyBytes)
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// extractError pulls a human-readable message out of an error response body.
func extractError(statusCode int, body []byte) error {
	if len(body) > 0 {
		var errorResp map[string]interface{}
		if jsonErr := json.Unmarshal(body, &errorResp); jsonErr == nil {
			if message, ok := errorResp["message"].(string); ok {
				return &BackendError{StatusCode: statusCode, Message: message}
			}
			if errs, ok := errorResp["errors"]; ok {
				return &BackendError{StatusCode: statusCode, Message: fmt.Sprintf("%v", errs)}
			}
		}
		return &BackendError{StatusCode: statusCode, Message: string(body)}
	}
	return &BackendError{StatusCode: statusCode, Message: http.StatusText(statusCode)}
}
