package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"crowdsale/cmd/internal/passphrase"
	"crowdsale/core"
	"crowdsale/crypto"
)

const (
	defaultKeystoreFile   = "wallet.json"
	keystorePassphraseEnv = "CRW_KEYSTORE_PASSPHRASE"

	// orderTTL bounds how long a signed contribution order stays valid. Short
	// enough that a leaked order is useless after a few minutes, long enough
	// to survive slow operator workflows.
	orderTTL = 10 * time.Minute
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("CRW_RPC_TOKEN")
var walletPassphrase = passphrase.NewSource(keystorePassphraseEnv, "wallet keystore")

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func main() {
	args := os.Args[1:]
	var err error
	rpcEndpoint = defaultRPCEndpoint()
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		file := defaultKeystoreFile
		if len(args) >= 2 {
			file = args[1]
		}
		generateKey(file)
	case "balance":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		getBalance(args[1])
	case "status":
		showStatus()
	case "contribute":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an amount and a keystore file.")
			printUsage()
			return
		}
		beneficiary := ""
		if len(args) >= 4 {
			beneficiary = args[3]
		}
		contribute(args[1], args[2], beneficiary)
	case "credit-funds":
		if len(args) < 3 {
			fmt.Println("Error: Please provide a recipient address and an amount.")
			printUsage()
			return
		}
		reference := ""
		if len(args) >= 4 {
			reference = args[3]
		}
		creditFunds(args[1], args[2], reference)
	case "finalize":
		finalizeCampaign()
	case "pause":
		setCampaignPaused(true)
	case "resume":
		setCampaignPaused(false)
	case "events":
		limit := ""
		if len(args) >= 2 {
			limit = args[1]
		}
		showEvents(limit)
	case "purchase":
		code := runPurchaseCommand(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
		return
	case "token":
		code := runTokenCommand(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
		return
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey(fileName string) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}

	pass, err := walletPassphrase.Get()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving keystore passphrase: %v\n", err)
		os.Exit(1)
	}

	if err := crypto.SaveToKeystore(fileName, key, pass); err != nil {
		panic(fmt.Sprintf("Failed to save keystore to %s: %v", fileName, err))
	}

	fmt.Printf("Generated new key and saved to %s\n", fileName)
	fmt.Printf("Your public address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Store this file and its passphrase securely. Signing commands refuse to run without them.")
}

func getBalance(addr string) {
	account, err := fetchBalance(addr)
	if err != nil {
		fmt.Printf("Error fetching balance: %v\n", err)
		return
	}

	fmt.Printf("State for: %s\n", addr)
	fmt.Printf("  USDQ:  %s\n", formatBigInt(account.BalanceUSDQ))
	fmt.Printf("  CRW:   %s\n", formatBigInt(account.BalanceCRW))
	fmt.Printf("  Nonce: %d\n", account.Nonce)
}

func showStatus() {
	result, rpcErr, err := callSaleRPC("sale_status", []interface{}{}, false)
	if err != nil {
		fmt.Printf("Error fetching campaign status: %v\n", err)
		return
	}
	if rpcErr != nil {
		fmt.Printf("Error from node: %s\n", rpcErr.Message)
		return
	}

	var status struct {
		Phase           string `json:"phase"`
		RaisedTotal     string `json:"raisedTotal"`
		HardCap         string `json:"hardCap"`
		SoftCap         string `json:"softCap"`
		PresaleCap      string `json:"presaleCap"`
		Rate            string `json:"rate"`
		StartTime       int64  `json:"startTime"`
		PresaleEndTime  int64  `json:"presaleEndTime"`
		EndTime         int64  `json:"endTime"`
		SoftCapDeadline int64  `json:"softCapDeadline"`
		Paused          bool   `json:"paused"`
		Finalized       bool   `json:"finalized"`
		Ended           bool   `json:"ended"`
	}
	if err := json.Unmarshal(result, &status); err != nil {
		fmt.Printf("Error decoding status: %v\n", err)
		return
	}

	fmt.Printf("Campaign phase: %s\n", status.Phase)
	fmt.Printf("  Raised:      %s / %s USDQ (soft cap %s)\n", status.RaisedTotal, status.HardCap, status.SoftCap)
	fmt.Printf("  Presale cap: %s USDQ\n", status.PresaleCap)
	fmt.Printf("  Rate:        %s CRW per USDQ\n", status.Rate)
	fmt.Printf("  Window:      %s -> %s (presale until %s)\n",
		formatUnix(status.StartTime), formatUnix(status.EndTime), formatUnix(status.PresaleEndTime))
	if status.SoftCapDeadline != 0 {
		fmt.Printf("  Soft cap deadline: %s\n", formatUnix(status.SoftCapDeadline))
	}
	fmt.Printf("  Paused:      %t\n", status.Paused)
	fmt.Printf("  Finalized:   %t\n", status.Finalized)
	fmt.Printf("  Ended:       %t\n", status.Ended)
}

func contribute(amountStr, keyFile, beneficiary string) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(amountStr), 10)
	if !ok || amount.Sign() <= 0 {
		fmt.Println("Error: Invalid amount.")
		return
	}

	privKey, err := loadWalletKey(keyFile)
	if err != nil {
		fmt.Printf("Error loading wallet key: %v\n", err)
		return
	}

	target := strings.TrimSpace(beneficiary)
	if target == "" {
		target = privKey.PubKey().Address().String()
	}

	order, sig, err := buildSignedOrder(privKey, target, amount, time.Now())
	if err != nil {
		fmt.Printf("Error building contribution order: %v\n", err)
		return
	}

	payload := map[string]interface{}{"order": order, "sig": sig}
	result, rpcErr, err := callSaleRPC("sale_submitOrder", []interface{}{payload}, false)
	if err != nil {
		fmt.Printf("Error submitting contribution: %v\n", err)
		return
	}
	if rpcErr != nil {
		fmt.Printf("Error from node: %s\n", rpcErr.Message)
		return
	}

	fmt.Printf("Contribution of %s USDQ accepted.\n", amount.String())
	printJSONResult(result)
}

// buildSignedOrder assembles a contribution order for the key's address and
// signs its canonical digest. The nonce is a fresh UUID so every order is
// unique on the settlement ledger.
func buildSignedOrder(key *crypto.PrivateKey, beneficiary string, amount *big.Int, now time.Time) (core.ContributionOrder, string, error) {
	order := core.ContributionOrder{
		Nonce:       uuid.NewString(),
		Contributor: key.PubKey().Address().String(),
		Beneficiary: beneficiary,
		Amount:      amount.String(),
		ChainID:     core.OrderChainID,
		Expiry:      now.Add(orderTTL).Unix(),
	}
	digest, err := order.Digest()
	if err != nil {
		return core.ContributionOrder{}, "", err
	}
	sig, err := ethcrypto.Sign(digest, key.PrivateKey)
	if err != nil {
		return core.ContributionOrder{}, "", fmt.Errorf("sign order: %w", err)
	}
	return order, "0x" + hex.EncodeToString(sig), nil
}

func creditFunds(to, amountStr, reference string) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(amountStr), 10)
	if !ok || amount.Sign() <= 0 {
		fmt.Println("Error: Invalid amount.")
		return
	}

	param := map[string]string{
		"to":     strings.TrimSpace(to),
		"amount": amount.String(),
	}
	if strings.TrimSpace(reference) != "" {
		param["reference"] = strings.TrimSpace(reference)
	}
	result, rpcErr, err := callSaleRPC("sale_creditFunds", []interface{}{param}, true)
	if err != nil {
		fmt.Printf("Error crediting funds: %v\n", err)
		return
	}
	if rpcErr != nil {
		fmt.Printf("Error from node: %s\n", rpcErr.Message)
		return
	}
	fmt.Printf("Credited %s USDQ to %s.\n", amount.String(), strings.TrimSpace(to))
	printJSONResult(result)
}

func finalizeCampaign() {
	result, rpcErr, err := callSaleRPC("sale_finalize", []interface{}{}, true)
	if err != nil {
		fmt.Printf("Error finalizing campaign: %v\n", err)
		return
	}
	if rpcErr != nil {
		fmt.Printf("Error from node: %s\n", rpcErr.Message)
		return
	}
	fmt.Println("Campaign finalized.")
	printJSONResult(result)
}

func setCampaignPaused(paused bool) {
	method := "sale_resume"
	verb := "resumed"
	if paused {
		method = "sale_pause"
		verb = "paused"
	}
	if _, rpcErr, err := callSaleRPC(method, []interface{}{}, true); err != nil {
		fmt.Printf("Error updating campaign: %v\n", err)
		return
	} else if rpcErr != nil {
		fmt.Printf("Error from node: %s\n", rpcErr.Message)
		return
	}
	fmt.Printf("Campaign %s.\n", verb)
}

func showEvents(limitStr string) {
	params := []interface{}{}
	if strings.TrimSpace(limitStr) != "" {
		limit, ok := new(big.Int).SetString(strings.TrimSpace(limitStr), 10)
		if !ok || limit.Sign() <= 0 || !limit.IsInt64() {
			fmt.Println("Error: Invalid limit.")
			return
		}
		params = append(params, limit.Int64())
	}
	result, rpcErr, err := callSaleRPC("sale_events", params, false)
	if err != nil {
		fmt.Printf("Error fetching events: %v\n", err)
		return
	}
	if rpcErr != nil {
		fmt.Printf("Error from node: %s\n", rpcErr.Message)
		return
	}
	printJSONResult(result)
}

// --- RPC HELPER FUNCTIONS ---

type balanceResponse struct {
	Address     string   `json:"address"`
	BalanceUSDQ *big.Int `json:"balanceUSDQ"`
	BalanceCRW  *big.Int `json:"balanceCRW"`
	Nonce       uint64   `json:"nonce"`
}

func formatBigInt(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func fetchBalance(addr string) (*balanceResponse, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"id": 1, "method": "sale_getBalance", "params": []string{addr},
	})

	resp, err := doRPCRequest(payload, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result balanceResponse `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response from node")
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("error from node: %s", rpcResp.Error.Message)
	}
	return &rpcResp.Result, nil
}

func callSaleRPC(method string, params []interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	if params == nil {
		params = []interface{}{}
	}
	payload := map[string]interface{}{"id": 1, "method": method, "params": params}
	body, _ := json.Marshal(payload)
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode response from node")
	}
	return rpcResp.Result, rpcResp.Error, nil
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if requireAuth {
		if rpcAuthToken == "" {
			return nil, fmt.Errorf("privileged RPC call requires CRW_RPC_TOKEN to be set")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

func loadWalletKey(path string) (*crypto.PrivateKey, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("keystore file %s not found. run ./crowdsale-cli generate-key first", path)
		}
		return nil, fmt.Errorf("failed to read keystore file %s: %w", path, err)
	}
	pass, err := walletPassphrase.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock keystore %s: %w", path, err)
	}
	return key, nil
}

func printJSONResult(result json.RawMessage) {
	if len(result) == 0 {
		fmt.Println("No result.")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(buf.String())
}

func handleRPCError(w io.Writer, err *rpcError) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC error %d: %s\n", err.Code, err.Message)
	return 1
}

func handleRPCCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	if _, err := w.Write(result); err == nil {
		if len(result) == 0 || result[len(result)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

func printUsage() {
	fmt.Println("Usage: crowdsale-cli <command> [arguments]")
	fmt.Println()
	fmt.Println("Signing commands need a local keystore. Run ./crowdsale-cli generate-key first;")
	fmt.Println("the passphrase is read from " + keystorePassphraseEnv + " or prompted interactively.")
	fmt.Println("Privileged commands additionally require CRW_RPC_TOKEN.")
	fmt.Println("Commands:")
	fmt.Println("  generate-key [file]                    - Generates a new key and saves an encrypted keystore (default wallet.json)")
	fmt.Println("  balance <address>                      - Shows USDQ and CRW balances for an address")
	fmt.Println("  status                                 - Shows campaign phase, totals and window")
	fmt.Println("  contribute <amount> <keystore> [beneficiary] - Signs and submits a contribution order")
	fmt.Println("  credit-funds <to> <amount> [reference] - Credits settled USDQ to an account (privileged)")
	fmt.Println("  finalize                               - Finalizes the ended campaign (privileged)")
	fmt.Println("  pause                                  - Pauses contribution intake (privileged)")
	fmt.Println("  resume                                 - Resumes contribution intake (privileged)")
	fmt.Println("  events [limit]                         - Shows recent campaign events")
	fmt.Println("  purchase                               - Purchase record queries and export")
	fmt.Println("  token                                  - Token supply, transfer and burn subcommands")
}
