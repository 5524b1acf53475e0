package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"
)

var tokenRPCCall = callSaleRPC

func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, tokenUsage())
		return 1
	}
	switch args[0] {
	case "supply":
		return runTokenSupply(args[1:], stdout, stderr)
	case "transfer":
		return runTokenTransfer(args[1:], stdout, stderr)
	case "burn":
		return runTokenBurn(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown token subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, tokenUsage())
		return 1
	}
}

func runTokenSupply(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	result, rpcErr, err := tokenRPCCall("token_supply", []interface{}{}, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runTokenTransfer(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token transfer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var from, to, amount string
	fs.StringVar(&from, "from", "", "bech32 address sending the units")
	fs.StringVar(&to, "to", "", "bech32 address receiving the units")
	fs.StringVar(&amount, "amount", "", "amount of units to move")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	trimmedFrom := strings.TrimSpace(from)
	if trimmedFrom == "" {
		fmt.Fprintln(stderr, "Error: --from is required")
		return 1
	}
	trimmedTo := strings.TrimSpace(to)
	if trimmedTo == "" {
		fmt.Fprintln(stderr, "Error: --to is required")
		return 1
	}
	normalized, errMsg := normalizeTokenAmount(amount)
	if errMsg != "" {
		fmt.Fprintln(stderr, errMsg)
		return 1
	}
	param := map[string]string{
		"from":   trimmedFrom,
		"to":     trimmedTo,
		"amount": normalized,
	}
	result, rpcErr, err := tokenRPCCall("token_transfer", []interface{}{param}, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runTokenBurn(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token burn", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var from, amount string
	fs.StringVar(&from, "from", "", "bech32 address burning the units")
	fs.StringVar(&amount, "amount", "", "amount of units to burn")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	trimmedFrom := strings.TrimSpace(from)
	if trimmedFrom == "" {
		fmt.Fprintln(stderr, "Error: --from is required")
		return 1
	}
	normalized, errMsg := normalizeTokenAmount(amount)
	if errMsg != "" {
		fmt.Fprintln(stderr, errMsg)
		return 1
	}
	param := map[string]string{
		"from":   trimmedFrom,
		"amount": normalized,
	}
	result, rpcErr, err := tokenRPCCall("token_burn", []interface{}{param}, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func normalizeTokenAmount(raw string) (string, string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "Error: --amount is required"
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return "", "Error: --amount must be a positive integer"
	}
	return amount.String(), ""
}

func tokenUsage() string {
	return strings.TrimSpace(`Usage:
  crowdsale-cli token <command> [flags]

Commands:
  supply    Show total issued units and ledger pause state
  transfer  Move units between accounts (privileged)
  burn      Destroy units held by an account (privileged)
`)
}
