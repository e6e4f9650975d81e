package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ybbus/jsonrpc"
)

func TestSignatureStatus(t *testing.T) {
	zero, one := 0, 1

	testCases := []struct {
		s         SignatureStatus
		confirmed bool
		finalized bool
	}{
		{
			s: SignatureStatus{
				Slot:               10,
				ErrorResult:        nil,
				Confirmations:      &zero,
				ConfirmationStatus: "",
			},
		},
		{
			s: SignatureStatus{
				Slot:               10,
				ErrorResult:        nil,
				Confirmations:      &zero,
				ConfirmationStatus: "random",
			},
		},
		{
			s: SignatureStatus{
				Slot:               10,
				ErrorResult:        nil,
				Confirmations:      &zero,
				ConfirmationStatus: confirmationStatusProcessed,
			},
		},
		{
			s: SignatureStatus{
				Slot:               10,
				ErrorResult:        nil,
				Confirmations:      &one,
				ConfirmationStatus: "",
			},
			confirmed: true,
		},
		{
			s: SignatureStatus{
				Slot:               10,
				ErrorResult:        nil,
				Confirmations:      &zero,
				ConfirmationStatus: confirmationStatusConfirmed,
			},
			confirmed: true,
		},
		{
			s: SignatureStatus{
				Slot:               10,
				ErrorResult:        nil,
				Confirmations:      &zero,
				ConfirmationStatus: confirmationStatusFinalized,
			},
			confirmed: true,
			finalized: true,
		},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.confirmed, tc.s.Confirmed())
		assert.Equal(t, tc.finalized, tc.s.Finalized())
	}
}

func TestSignatureStatus_Reached(t *testing.T) {
	zero := 0
	processed := SignatureStatus{Confirmations: &zero, ConfirmationStatus: confirmationStatusProcessed}
	confirmed := SignatureStatus{Confirmations: &zero, ConfirmationStatus: confirmationStatusConfirmed}
	rooted := SignatureStatus{}

	assert.True(t, processed.Reached(CommitmentProcessed))
	assert.False(t, processed.Reached(CommitmentConfirmed))
	assert.False(t, processed.Reached(CommitmentFinalized))

	assert.True(t, confirmed.Reached(CommitmentConfirmed))
	assert.False(t, confirmed.Reached(CommitmentFinalized))

	assert.True(t, rooted.Reached(CommitmentFinalized))
}

func TestCommitmentFromString(t *testing.T) {
	c, err := CommitmentFromString("")
	require.NoError(t, err)
	assert.Equal(t, CommitmentConfirmed, c)

	c, err = CommitmentFromString("finalized")
	require.NoError(t, err)
	assert.Equal(t, CommitmentFinalized, c)

	_, err = CommitmentFromString("max")
	assert.Error(t, err)
}

type rpcHandler func(params json.RawMessage) (interface{}, *jsonrpc.RPCError)

func newTestServer(t *testing.T, handlers map[string]rpcHandler) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int             `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		handler, ok := handlers[req.Method]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		result, rpcErr := handler(req.Params)
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
		}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestClient_GetAccountInfo(t *testing.T) {
	owner := make([]byte, ed25519.PublicKeySize)
	owner[0] = 7

	server := newTestServer(t, map[string]rpcHandler{
		"getAccountInfo": func(params json.RawMessage) (interface{}, *jsonrpc.RPCError) {
			var args []interface{}
			require.NoError(t, json.Unmarshal(params, &args))
			require.Len(t, args, 2)

			if args[0] == base58.Encode(make([]byte, ed25519.PublicKeySize)) {
				return map[string]interface{}{"value": nil}, nil
			}
			return map[string]interface{}{
				"value": map[string]interface{}{
					"lamports":   42,
					"owner":      base58.Encode(owner),
					"data":       []string{base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), "base64"},
					"executable": false,
				},
			}, nil
		},
	})
	defer server.Close()

	c := New(server.URL, nil)

	account := make([]byte, ed25519.PublicKeySize)
	account[0] = 1
	info, err := c.GetAccountInfo(context.Background(), account, CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 42, info.Lamports)
	assert.EqualValues(t, owner, info.Owner)
	assert.Equal(t, []byte{1, 2, 3}, info.Data)

	_, err = c.GetAccountInfo(context.Background(), make([]byte, ed25519.PublicKeySize), CommitmentConfirmed)
	assert.Equal(t, ErrNoAccountInfo, err)
}

func TestClient_GetEpochInfo(t *testing.T) {
	server := newTestServer(t, map[string]rpcHandler{
		"getEpochInfo": func(params json.RawMessage) (interface{}, *jsonrpc.RPCError) {
			var args []map[string]string
			require.NoError(t, json.Unmarshal(params, &args))
			require.Len(t, args, 1)
			assert.Equal(t, "finalized", args[0]["commitment"])

			return map[string]interface{}{"epoch": 512, "absoluteSlot": 1000}, nil
		},
	})
	defer server.Close()

	info, err := New(server.URL, nil).GetEpochInfo(context.Background(), CommitmentFinalized)
	require.NoError(t, err)
	assert.EqualValues(t, 512, info.Epoch)
	assert.EqualValues(t, 1000, info.AbsoluteSlot)
}

func TestClient_SubmitTransaction_PreflightFailure(t *testing.T) {
	server := newTestServer(t, map[string]rpcHandler{
		"sendTransaction": func(params json.RawMessage) (interface{}, *jsonrpc.RPCError) {
			return nil, &jsonrpc.RPCError{
				Code:    -32002,
				Message: "Transaction simulation failed",
				Data: map[string]interface{}{
					"err":  map[string]interface{}{"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 19}}},
					"logs": []string{"Program failed"},
				},
			}
		},
	})
	defer server.Close()

	priv := generateKeys(t, 1)[0]
	txn := NewTransaction(public(priv), NewInstruction(make([]byte, ed25519.PublicKeySize), []byte{1}))
	require.NoError(t, txn.Sign(priv))

	sig, err := New(server.URL, nil).SubmitTransaction(context.Background(), txn, SubmitOptions{})
	require.Error(t, err)
	assert.Equal(t, txn.Signature(), sig)

	txErr, ok := err.(*TransactionError)
	require.True(t, ok)
	code, ok := txErr.CustomErrorCode()
	require.True(t, ok)
	assert.EqualValues(t, 19, code)
}

func TestClient_NonTransientErrorNotRetried(t *testing.T) {
	var calls int
	server := newTestServer(t, map[string]rpcHandler{
		"getMinimumBalanceForRentExemption": func(json.RawMessage) (interface{}, *jsonrpc.RPCError) {
			calls++
			return nil, &jsonrpc.RPCError{Code: invalidParamCode, Message: "bad"}
		},
	})
	defer server.Close()

	_, err := New(server.URL, nil).GetMinimumBalanceForRentExemption(context.Background(), 10)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
