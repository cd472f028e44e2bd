package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"lendora/core/events"
	"lendora/core/state"
	"lendora/native/lending"
	"lendora/storage"
)

var (
	adminAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	userAddr  = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

type fixture struct {
	server  *Server
	ts      *httptest.Server
	manager *state.Manager
}

func newFixture(t *testing.T, jwtSecret string) *fixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	oracle := lending.NewStaticOracle(nil)
	ring := events.NewRing(64)

	engine := lending.NewEngine(adminAddr, common.HexToAddress("0x00000000000000000000000000000000000000cc"))
	engine.SetState(manager)
	engine.SetOracle(oracle)
	engine.SetEmitter(ring)

	server := NewServer(Config{
		Engine:             engine,
		Oracle:             oracle,
		Funder:             manager,
		Events:             ring,
		JWTSecret:          jwtSecret,
		RateLimitPerMinute: 100_000,
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: server, ts: ts, manager: manager}
}

func (f *fixture) call(t *testing.T, token, method string, params any) (json.RawMessage, *rpcError) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Result, envelope.Error
}

func initTestReserve(t *testing.T, f *fixture, token string) {
	t.Helper()
	_, rpcErr := f.call(t, token, "lending_initReserve", map[string]any{
		"caller": adminAddr.Hex(),
		"reserve": map[string]any{
			"Asset":                   "NHB",
			"LTVBps":                  7500,
			"LiquidationThresholdBps": 8000,
			"LiquidationBonusBps":     500,
		},
		"priceWad": "1000000000000000000",
	})
	require.Nil(t, rpcErr)
}

func TestDepositOverRPC(t *testing.T) {
	f := newFixture(t, "")
	initTestReserve(t, f, "")

	_, rpcErr := f.call(t, "", "lending_fund", map[string]any{
		"asset":   "NHB",
		"account": userAddr.Hex(),
		"amount":  "1000",
	})
	require.Nil(t, rpcErr)

	result, rpcErr := f.call(t, "", "lending_deposit", map[string]any{
		"caller": userAddr.Hex(),
		"asset":  "NHB",
		"amount": "1000",
	})
	require.Nil(t, rpcErr)
	var deposit struct {
		ClaimMinted string `json:"claimMinted"`
	}
	require.NoError(t, json.Unmarshal(result, &deposit))
	require.Equal(t, "1000", deposit.ClaimMinted)

	result, rpcErr = f.call(t, "", "lending_getUserAccountData", map[string]any{
		"account": userAddr.Hex(),
	})
	require.Nil(t, rpcErr)
	var data struct {
		CollateralUSD string `json:"collateralUSD"`
		DebtUSD       string `json:"debtUSD"`
	}
	require.NoError(t, json.Unmarshal(result, &data))
	require.Equal(t, "800", data.CollateralUSD)
	require.Equal(t, "0", data.DebtUSD)
}

func TestWithdrawMaxOverRPC(t *testing.T) {
	f := newFixture(t, "")
	initTestReserve(t, f, "")
	_, rpcErr := f.call(t, "", "lending_fund", map[string]any{
		"asset": "NHB", "account": userAddr.Hex(), "amount": "500",
	})
	require.Nil(t, rpcErr)
	_, rpcErr = f.call(t, "", "lending_deposit", map[string]any{
		"caller": userAddr.Hex(), "asset": "NHB", "amount": "500",
	})
	require.Nil(t, rpcErr)

	result, rpcErr := f.call(t, "", "lending_withdraw", map[string]any{
		"caller": userAddr.Hex(), "asset": "NHB", "amount": "max",
	})
	require.Nil(t, rpcErr)
	var withdraw struct {
		Amount string `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(result, &withdraw))
	require.Equal(t, "500", withdraw.Amount)
}

func TestEngineFaultMapsToCode(t *testing.T) {
	f := newFixture(t, "")
	initTestReserve(t, f, "")
	_, rpcErr := f.call(t, "", "lending_borrow", map[string]any{
		"caller": userAddr.Hex(), "asset": "NHB", "amount": "100",
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, codeFundsFault, rpcErr.Code)
}

func TestInvalidParamsRejected(t *testing.T) {
	f := newFixture(t, "")
	initTestReserve(t, f, "")

	_, rpcErr := f.call(t, "", "lending_deposit", map[string]any{
		"caller": "not-an-address", "asset": "NHB", "amount": "10",
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, codeInvalidParams, rpcErr.Code)

	_, rpcErr = f.call(t, "", "lending_deposit", map[string]any{
		"caller": userAddr.Hex(), "asset": "NHB", "amount": "-5",
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, codeInvalidParams, rpcErr.Code)
}

func TestUnknownMethod(t *testing.T) {
	f := newFixture(t, "")
	_, rpcErr := f.call(t, "", "lending_flashLoan", map[string]any{})
	require.NotNil(t, rpcErr)
	require.Equal(t, codeMethodNotFound, rpcErr.Code)
}

func signToken(t *testing.T, secret, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAdminMethodsRequireScope(t *testing.T) {
	const secret = "test-secret"
	f := newFixture(t, secret)

	// Without a token the admin surface is closed.
	_, rpcErr := f.call(t, "", "lending_pause", map[string]any{"caller": adminAddr.Hex()})
	require.NotNil(t, rpcErr)
	require.Equal(t, codePolicyFault, rpcErr.Code)

	// A token with the wrong scope is still rejected.
	_, rpcErr = f.call(t, signToken(t, secret, "viewer"), "lending_pause", map[string]any{"caller": adminAddr.Hex()})
	require.NotNil(t, rpcErr)
	require.Equal(t, codePolicyFault, rpcErr.Code)

	// The admin scope unlocks it.
	_, rpcErr = f.call(t, signToken(t, secret, "admin"), "lending_pause", map[string]any{"caller": adminAddr.Hex()})
	require.Nil(t, rpcErr)
}

func TestBadTokenRejectedOutright(t *testing.T) {
	f := newFixture(t, "test-secret")
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"lending_pause","params":{}}`)
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret", "admin"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthAndRequestID(t *testing.T) {
	f := newFixture(t, "")
	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRecentEventsServed(t *testing.T) {
	f := newFixture(t, "")
	initTestReserve(t, f, "")

	result, rpcErr := f.call(t, "", "lending_recentEvents", nil)
	require.Nil(t, rpcErr)
	var recent []struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(result, &recent))
	require.NotEmpty(t, recent)
	require.Equal(t, lending.EventTypeReserveInitialized, recent[len(recent)-1].Type)
}
