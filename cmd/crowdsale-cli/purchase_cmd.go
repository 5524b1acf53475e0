package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var purchaseRPCCall = callSaleRPC

func runPurchaseCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, purchaseUsage())
		return 1
	}
	switch strings.ToLower(args[0]) {
	case "get":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: crowdsale-cli purchase get <purchaseId>")
			return 1
		}
		result, rpcErr, err := purchaseRPCCall("sale_purchase_get", []interface{}{args[1]}, false)
		if err != nil {
			return handleRPCCallError(stderr, err)
		}
		if rpcErr != nil {
			return handleRPCError(stderr, rpcErr)
		}
		writePrettyJSON(stdout, result)
		return 0
	case "list":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: crowdsale-cli purchase list <startTs> <endTs> [cursor] [limit]")
			return 1
		}
		start, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Fprintf(stderr, "invalid startTs: %v\n", err)
			return 1
		}
		end, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			fmt.Fprintf(stderr, "invalid endTs: %v\n", err)
			return 1
		}
		params := []interface{}{start, end}
		if len(args) >= 4 && strings.TrimSpace(args[3]) != "" {
			params = append(params, args[3])
		}
		if len(args) >= 5 {
			limit, err := strconv.Atoi(args[4])
			if err != nil {
				fmt.Fprintf(stderr, "invalid limit: %v\n", err)
				return 1
			}
			params = append(params, limit)
		}
		result, rpcErr, err := purchaseRPCCall("sale_purchase_list", params, false)
		if err != nil {
			return handleRPCCallError(stderr, err)
		}
		if rpcErr != nil {
			return handleRPCError(stderr, rpcErr)
		}
		writePrettyJSON(stdout, result)
		return 0
	case "export":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: crowdsale-cli purchase export <startTs> <endTs> [output.csv]")
			return 1
		}
		start, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Fprintf(stderr, "invalid startTs: %v\n", err)
			return 1
		}
		end, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			fmt.Fprintf(stderr, "invalid endTs: %v\n", err)
			return 1
		}
		result, rpcErr, err := purchaseRPCCall("sale_purchase_export", []interface{}{start, end}, true)
		if err != nil {
			return handleRPCCallError(stderr, err)
		}
		if rpcErr != nil {
			return handleRPCError(stderr, rpcErr)
		}
		var payload struct {
			CSVBase64   string `json:"csvBase64"`
			Count       int    `json:"count"`
			TotalIssued string `json:"totalIssued"`
		}
		if err := json.Unmarshal(result, &payload); err != nil {
			fmt.Fprintf(stderr, "decode export response: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "count: %d\n", payload.Count)
		fmt.Fprintf(stdout, "totalIssued: %s\n", payload.TotalIssued)
		data, err := base64.StdEncoding.DecodeString(payload.CSVBase64)
		if err != nil {
			fmt.Fprintf(stderr, "decode csv: %v\n", err)
			return 1
		}
		if len(args) >= 4 && strings.TrimSpace(args[3]) != "" {
			if err := os.WriteFile(args[3], data, 0o644); err != nil {
				fmt.Fprintf(stderr, "write file: %v\n", err)
				return 1
			}
			fmt.Fprintf(stdout, "csv saved to %s\n", args[3])
		} else {
			fmt.Fprintln(stdout, string(data))
		}
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown purchase subcommand %q\n", args[0])
		fmt.Fprintln(stderr, purchaseUsage())
		return 1
	}
}

func writePrettyJSON(w io.Writer, result json.RawMessage) {
	var decoded interface{}
	_ = json.Unmarshal(result, &decoded)
	pretty, _ := json.MarshalIndent(decoded, "", "  ")
	fmt.Fprintln(w, string(pretty))
}

func purchaseUsage() string {
	return strings.TrimSpace(`Usage:
  crowdsale-cli purchase <command> [arguments]

Commands:
  get     Fetch a purchase record by id
  list    List purchases settled inside a time range
  export  Export purchases as CSV (privileged)
`)
}
