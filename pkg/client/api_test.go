package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/quotes", r.URL.Path)

		var req QuoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "1000000", req.DestAmount)

		json.NewEncoder(w).Encode(QuoteResponse{
			Route:              "route-1",
			SrcAmount:          "950000",
			RouteVersion:       "v2",
			SettlementContract: "0x1111111111111111111111111111111111111111",
			BufferBps:          30,
			FeeBps:             5,
		})
	}))
	defer server.Close()

	c := New(server.URL)
	resp, err := c.GetQuote(context.Background(), &QuoteRequest{
		FromAsset:  "0xaaaa",
		ToAsset:    "0xbbbb",
		DestAmount: "1000000",
		ChainID:    1,
	})

	require.NoError(t, err)
	assert.Equal(t, "950000", resp.SrcAmount)
	assert.Equal(t, int64(30), resp.BufferBps)
}

func TestGetQuoteRejectsEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(QuoteResponse{})
	}))
	defer server.Close()

	c := New(server.URL)
	_, err := c.GetQuote(context.Background(), &QuoteRequest{})
	assert.Error(t, err)
}

func TestBuildTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transactions/build", r.URL.Path)
		json.NewEncoder(w).Encode(BuildResponse{
			CallData:      "0xdeadbeef",
			TransactionID: "tx-123",
		})
	}))
	defer server.Close()

	c := New(server.URL)
	resp, err := c.BuildTransaction(context.Background(), &BuildRequest{Route: "route-1"})

	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", resp.CallData)
	assert.Equal(t, "tx-123", resp.TransactionID)
}

func TestSendTransactionHash(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xabc", body["txHash"])
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL)
	err := c.SendTransactionHash(context.Background(), "tx-123", "0xabc")

	require.NoError(t, err)
	assert.Equal(t, "/transactions/tx-123/send-hash", gotPath)
}

func TestErrorMessageExtraction(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"message field", http.StatusBadRequest, `{"message":"insufficient liquidity"}`, "insufficient liquidity"},
		{"errors field", http.StatusUnprocessableEntity, `{"errors":["bad pair"]}`, "[bad pair]"},
		{"plain body", http.StatusInternalServerError, `boom`, "boom"},
		{"empty body", http.StatusBadGateway, ``, http.StatusText(http.StatusBadGateway)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := New(server.URL)
			_, err := c.GetQuote(context.Background(), &QuoteRequest{})
			require.Error(t, err)

			var backendErr *BackendError
			require.ErrorAs(t, err, &backendErr)
			assert.Equal(t, tt.status, backendErr.StatusCode)
			assert.Equal(t, tt.wantMsg, backendErr.Message)
		})
	}
}

func TestFindReserve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/reserves", r.URL.Path)
		assert.Equal(t, "137", r.URL.Query().Get("chainId"))
		w.Write([]byte(`[
			{"symbol":"USDC","address":"0xaaaa","decimals":6},
			{"symbol":"USDC.E","address":"0xbbbb","decimals":6},
			{"symbol":"DAI","address":"0xcccc","decimals":18}
		]`))
	}))
	defer server.Close()

	c := New(server.URL)

	// Exact match wins over partial even when listed later
	reserve, err := c.FindReserve(context.Background(), 137, "usdc")
	require.NoError(t, err)
	assert.Equal(t, "0xaaaa", reserve.Address)

	// Partial match
	reserve, err = c.FindReserve(context.Background(), 137, "DA")
	require.NoError(t, err)
	assert.Equal(t, "DAI", reserve.Symbol)

	_, err = c.FindReserve(context.Background(), 137, "WETH")
	assert.Error(t, err)
}
