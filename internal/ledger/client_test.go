package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
)

// rpcHandler answers each JSON-RPC method from a scripted result table.
func rpcHandler(t *testing.T, results map[string]interface{}, errs map[string]*rpcError) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		if e, ok := errs[req.Method]; ok {
			resp.Error = e
		} else if res, ok := results[req.Method]; ok {
			raw, err := json.Marshal(res)
			if err != nil {
				t.Errorf("marshal result: %v", err)
			}
			resp.Result = raw
		} else {
			t.Errorf("unexpected rpc method %q", req.Method)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newServerClient(t *testing.T, results map[string]interface{}, errs map[string]*rpcError) *Client {
	t.Helper()
	srv := httptest.NewServer(rpcHandler(t, results, errs))
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty RPC URL")
	}
}

func TestGetAccount(t *testing.T) {
	want := Account{
		Address:       "GUSER",
		Balance:       "10.00000000",
		AuthorizedFor: []Asset{{Code: "MERIT", Issuer: "GISSUER"}},
	}
	c := newServerClient(t, map[string]interface{}{"getaccount": want}, nil)

	got, err := c.GetAccount(context.Background(), "GUSER")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Address != want.Address || !got.Authorized(Asset{Code: "MERIT", Issuer: "GISSUER"}) {
		t.Fatalf("account = %+v", got)
	}
}

func TestAccountExistsNotFound(t *testing.T) {
	c := newServerClient(t, nil, map[string]*rpcError{
		"getaccount": {Code: -404, Message: "account not found"},
	})

	exists, err := c.AccountExists(context.Background(), "GMISSING")
	if err != nil {
		t.Fatalf("not-found must not be an error, got %v", err)
	}
	if exists {
		t.Fatal("expected exists=false")
	}
}

func TestAccountExistsNodeFailure(t *testing.T) {
	c := newServerClient(t, nil, map[string]*rpcError{
		"getaccount": {Code: -500, Message: "internal"},
	})

	if _, err := c.AccountExists(context.Background(), "GUSER"); err == nil {
		t.Fatal("node failure must surface as an error")
	}
}

func TestCreateClaimableUnit(t *testing.T) {
	c := newServerClient(t, map[string]interface{}{
		"createclaimableunit": SubmitResult{
			TxRef:   "tx-1",
			Effects: []Effect{{Type: EffectClaimCreated, Ref: "claim-1"}},
		},
	}, nil)

	res, err := c.CreateClaimableUnit(context.Background(), "GUSER", Asset{Code: "MERIT"}, asset.FromFloat(1))
	if err != nil {
		t.Fatalf("create claimable unit: %v", err)
	}
	if res.TxRef != "tx-1" || len(res.Effects) != 1 || res.Effects[0].Ref != "claim-1" {
		t.Fatalf("result = %+v", res)
	}
}

func TestEffectsByTransaction(t *testing.T) {
	c := newServerClient(t, map[string]interface{}{
		"geteffects": []Effect{
			{Type: "account_debited"},
			{Type: EffectClaimCreated, Ref: "claim-2"},
		},
	}, nil)

	effects, err := c.EffectsByTransaction(context.Background(), "tx-2")
	if err != nil {
		t.Fatalf("effects: %v", err)
	}
	if len(effects) != 2 || effects[1].Ref != "claim-2" {
		t.Fatalf("effects = %+v", effects)
	}
}

func TestAssetBalance(t *testing.T) {
	c := newServerClient(t, map[string]interface{}{"getbalance": "2.50000000"}, nil)

	bal, err := c.AssetBalance(context.Background(), "GUSER", Asset{Code: "MERIT"})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.String() != "2.50000000" {
		t.Fatalf("balance = %s", bal.String())
	}
}

func TestCreateAccountWithAuthorization(t *testing.T) {
	c := newServerClient(t, map[string]interface{}{
		"createaccount": map[string]string{"tx_ref": "tx-create"},
	}, nil)

	ref, err := c.CreateAccountWithAuthorization(context.Background(), "GNEW", Asset{Code: "MERIT"}, asset.FromFloat(1))
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if ref != "tx-create" {
		t.Fatalf("tx ref = %q", ref)
	}
}

func TestCallRPCError(t *testing.T) {
	c := newServerClient(t, nil, map[string]*rpcError{
		"getbalance": {Code: -32602, Message: "invalid params"},
	})

	if _, err := c.AssetBalance(context.Background(), "GUSER", Asset{}); err == nil {
		t.Fatal("rpc error must propagate")
	}
}
