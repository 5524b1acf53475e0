package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTokenCommandArgValidation(t *testing.T) {
	originalCall := tokenRPCCall
	tokenRPCCall = func(method string, params []interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		t.Fatalf("unexpected RPC call for method %s", method)
		return nil, nil, nil
	}
	defer func() { tokenRPCCall = originalCall }()

	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no_subcommand", args: nil, wantErr: "Usage:"},
		{name: "transfer_missing_from", args: []string{"transfer", "--to", "crw1abc", "--amount", "5"}, wantErr: "--from is required"},
		{name: "transfer_missing_to", args: []string{"transfer", "--from", "crw1abc", "--amount", "5"}, wantErr: "--to is required"},
		{name: "transfer_bad_amount", args: []string{"transfer", "--from", "crw1abc", "--to", "crw1def", "--amount", "-5"}, wantErr: "--amount must be a positive integer"},
		{name: "burn_missing_amount", args: []string{"burn", "--from", "crw1abc"}, wantErr: "--amount is required"},
		{name: "supply_extra_args", args: []string{"supply", "now"}, wantErr: "unexpected positional arguments"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stdout := &bytes.Buffer{}
			stderr := &bytes.Buffer{}
			if exit := runTokenCommand(tc.args, stdout, stderr); exit != 1 {
				t.Fatalf("unexpected exit code: %d", exit)
			}
			if stdout.Len() != 0 {
				t.Fatalf("expected empty stdout, got %q", stdout.String())
			}
			if !strings.Contains(stderr.String(), tc.wantErr) {
				t.Fatalf("expected %q on stderr, got %q", tc.wantErr, stderr.String())
			}
		})
	}
}

func TestTokenSupplyPrintsResult(t *testing.T) {
	originalCall := tokenRPCCall
	tokenRPCCall = func(method string, params []interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		if method != "token_supply" {
			t.Fatalf("unexpected method %s", method)
		}
		if requireAuth {
			t.Fatal("supply should not require auth")
		}
		return json.RawMessage(`{"symbol":"CRW","totalIssued":"157","paused":true}`), nil, nil
	}
	defer func() { tokenRPCCall = originalCall }()

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if exit := runTokenCommand([]string{"supply"}, stdout, stderr); exit != 0 {
		t.Fatalf("unexpected exit code: %d, stderr %q", exit, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"totalIssued":"157"`) {
		t.Fatalf("unexpected stdout: %q", stdout.String())
	}
}

func TestTokenTransferSendsAuthenticatedParams(t *testing.T) {
	originalCall := tokenRPCCall
	tokenRPCCall = func(method string, params []interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		if method != "token_transfer" {
			t.Fatalf("unexpected method %s", method)
		}
		if !requireAuth {
			t.Fatal("transfer should require auth")
		}
		if len(params) != 1 {
			t.Fatalf("expected single parameter object, got %d", len(params))
		}
		param, ok := params[0].(map[string]string)
		if !ok {
			t.Fatalf("unexpected param type %T", params[0])
		}
		if param["from"] != "crw1abc" || param["to"] != "crw1def" || param["amount"] != "42" {
			t.Fatalf("unexpected params: %v", param)
		}
		return json.RawMessage(`{"from":"crw1abc","to":"crw1def","amount":"42"}`), nil, nil
	}
	defer func() { tokenRPCCall = originalCall }()

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	exit := runTokenCommand([]string{"transfer", "--from", "crw1abc", "--to", "crw1def", "--amount", "42"}, stdout, stderr)
	if exit != 0 {
		t.Fatalf("unexpected exit code: %d, stderr %q", exit, stderr.String())
	}
	if stderr.Len() != 0 {
		t.Fatalf("expected empty stderr, got %q", stderr.String())
	}
	if !strings.Contains(stdout.String(), `"amount":"42"`) {
		t.Fatalf("unexpected stdout: %q", stdout.String())
	}
}

func TestTokenBurnSurfacesRPCError(t *testing.T) {
	originalCall := tokenRPCCall
	tokenRPCCall = func(method string, params []interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		if method != "token_burn" {
			t.Fatalf("unexpected method %s", method)
		}
		return nil, &rpcError{Code: -32602, Message: "insufficient balance"}, nil
	}
	defer func() { tokenRPCCall = originalCall }()

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	exit := runTokenCommand([]string{"burn", "--from", "crw1abc", "--amount", "9000"}, stdout, stderr)
	if exit != 1 {
		t.Fatalf("unexpected exit code: %d", exit)
	}
	if !strings.Contains(stderr.String(), "insufficient balance") {
		t.Fatalf("expected burn error on stderr, got %q", stderr.String())
	}
}
