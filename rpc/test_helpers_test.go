package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crowdsale/core"
	"crowdsale/crypto"
	"crowdsale/native/sale"
	"crowdsale/storage"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const testAuthToken = "rpc-test-token"

type testEnv struct {
	node   *core.Node
	server *Server
	setNow func(time.Time)
}

func testCampaignConfig() sale.CampaignConfig {
	var operator, reserve [20]byte
	operator[19] = 0x0A
	reserve[19] = 0x0B
	start := time.Unix(1_760_000_000, 0).UTC()
	return sale.CampaignConfig{
		StartTime:      start,
		PresaleEndTime: start.Add(24 * time.Hour),
		EndTime:        start.Add(240 * time.Hour),
		Rate:           big.NewInt(1),
		HardCap:        big.NewInt(50_000),
		SoftCap:        big.NewInt(26_000),
		PresaleCap:     big.NewInt(10_000),
		UnitScale:      big.NewInt(1),
		Operator:       operator,
		Reserve:        reserve,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	node, err := core.NewNode(db, testCampaignConfig(), nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	current := testCampaignConfig().StartTime.Add(time.Hour)
	node.SetNowFunc(func() time.Time { return current })
	server := NewServer(node, ServerConfig{AuthToken: testAuthToken})
	return &testEnv{
		node:   node,
		server: server,
		setNow: func(ts time.Time) { current = ts },
	}
}

func (env *testEnv) newRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.10:52000"
	return req
}

// post routes a raw JSON-RPC body through the full handler, mirroring what a
// client on the wire would see.
func (env *testEnv) post(body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:52000"
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	env.server.handle(recorder, req)
	return recorder
}

func marshalParam(t *testing.T, value interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return raw
}

func decodeRPCResponse(t *testing.T, recorder *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Result, resp.Error
}

func testKeyAddress(t *testing.T) (*crypto.PrivateKey, [20]byte) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var addr [20]byte
	copy(addr[:], key.PubKey().Address().Bytes())
	return key, addr
}

func bech32Address(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.CRWPrefix, addr[:]).String()
}

func creditFunding(t *testing.T, env *testEnv, account [20]byte, amount int64) {
	t.Helper()
	if err := env.node.CreditFunds(account, big.NewInt(amount), "test-topup"); err != nil {
		t.Fatalf("credit funds: %v", err)
	}
}

func buildOrder(contributor, beneficiary [20]byte, nonce, amount string) core.ContributionOrder {
	return core.ContributionOrder{
		Nonce:       nonce,
		Contributor: bech32Address(contributor),
		Beneficiary: bech32Address(beneficiary),
		Amount:      amount,
		ChainID:     core.OrderChainID,
		Expiry:      time.Unix(1_760_000_000, 0).Add(48 * time.Hour).Unix(),
	}
}

func signOrder(t *testing.T, key *crypto.PrivateKey, order core.ContributionOrder) []byte {
	t.Helper()
	digest, err := order.Digest()
	if err != nil {
		t.Fatalf("order digest: %v", err)
	}
	sig, err := ethcrypto.Sign(digest, key.PrivateKey)
	if err != nil {
		t.Fatalf("sign order: %v", err)
	}
	return sig
}
