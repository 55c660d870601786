package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mintmgr/core"
	"mintmgr/crypto"
	"mintmgr/rpc"
	"mintmgr/storage"
)

func fill(b byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func identity(b byte) string {
	return crypto.FormatIdentity(fill(b))
}

var (
	ownerAddr = identity(0x01)
	buyerAddr = identity(0x02)
	scrtAddr  = identity(0x03)
)

func startServer(t *testing.T) {
	t.Helper()
	rt, err := core.NewRuntime(storage.NewMemDB(), core.RuntimeConfig{ChainID: "cli-test"})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	_, err = rt.Instantiate(context.Background(), fill(0x01), core.InstantiateMsg{
		EntropySeed:     "seed",
		RegistrationKey: "reg",
		Channels: []core.ChannelInit{
			{Kind: "scrt", Contract: core.ContractInit{Address: scrtAddr, CodeHash: "a"}, Price: "100"},
			{Kind: "shill", Contract: core.ContractInit{Address: identity(0x04), CodeHash: "b"}, Price: "40"},
		},
		MintContract:     core.ContractInit{Address: identity(0x05), CodeHash: "c"},
		ReceivingAddress: identity(0x06),
	})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	srv := httptest.NewServer(rpc.NewServer(rt, rpc.Config{}).Handler())
	t.Cleanup(srv.Close)

	original := rpcEndpoint
	rpcEndpoint = srv.URL
	t.Cleanup(func() { rpcEndpoint = original })
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeItems(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write items: %v", err)
	}
	return path
}

func TestApplyGlobalFlags(t *testing.T) {
	original := rpcEndpoint
	defer func() { rpcEndpoint = original }()

	args, err := applyGlobalFlags([]string{"--rpc", "http://a", "status", "--rpc=http://b"})
	if err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	if len(args) != 1 || args[0] != "status" {
		t.Fatalf("unexpected remaining args %v", args)
	}
	if rpcEndpoint != "http://b" {
		t.Fatalf("expected last --rpc to win, got %s", rpcEndpoint)
	}
	if _, err := applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatalf("expected error for dangling --rpc")
	}
}

func TestMintCommandsEndToEnd(t *testing.T) {
	startServer(t)

	items := writeItems(t, `[{"id":"1","img_url":"https://img.example/1"},{"id":"2","img_url":"https://img.example/2"}]`)
	code, out, errOut := runCLI("preload", "--sender", ownerAddr, "--file", items)
	if code != 0 {
		t.Fatalf("preload failed: %s", errOut)
	}
	if !strings.Contains(out, `"total": 2`) {
		t.Fatalf("expected pool total in output, got %s", out)
	}

	code, out, errOut = runCLI("receive", "--channel", scrtAddr, "--sender", buyerAddr, "--amount", "100")
	if code != 0 {
		t.Fatalf("receive failed: %s", errOut)
	}
	if !strings.Contains(out, `"mint_nft"`) || !strings.Contains(out, buyerAddr) {
		t.Fatalf("expected a mint instruction for the buyer, got %s", out)
	}

	code, _, errOut = runCLI("receive", "--channel", scrtAddr, "--sender", buyerAddr, "--amount", "150")
	if code != 1 || !strings.Contains(errOut, "RPC error -32602") {
		t.Fatalf("expected payment mismatch, got code=%d stderr=%s", code, errOut)
	}

	if code, _, errOut = runCLI("set-viewing-key", "--sender", ownerAddr, "--key", "hunter2"); code != 0 {
		t.Fatalf("set viewing key failed: %s", errOut)
	}

	t.Setenv(viewingKeyEnv, "hunter2")
	code, out, errOut = runCLI("mint-info", "--viewer", ownerAddr)
	if code != 0 {
		t.Fatalf("mint-info failed: %s", errOut)
	}
	if !strings.Contains(out, `"num_minted": 1`) || !strings.Contains(out, `"total": 1`) {
		t.Fatalf("unexpected mint info %s", out)
	}

	code, _, errOut = runCLI("mint-info", "--viewer", ownerAddr, "--key", "wrong")
	if code != 1 || !strings.Contains(errOut, "RPC error -32001") {
		t.Fatalf("expected unauthorized, got code=%d stderr=%s", code, errOut)
	}

	code, _, errOut = runCLI("receipts", "--viewer", ownerAddr)
	if code != 1 || !strings.Contains(errOut, "RPC error -32000") {
		t.Fatalf("expected receipts to be disabled, got code=%d stderr=%s", code, errOut)
	}

	code, out, _ = runCLI("status")
	if code != 0 || !strings.Contains(out, `"halted": false`) {
		t.Fatalf("unexpected status %s", out)
	}
}

func TestPreloadRejectsInvalidFileLocally(t *testing.T) {
	original := rpcEndpoint
	rpcEndpoint = "http://127.0.0.1:1"
	defer func() { rpcEndpoint = original }()

	items := writeItems(t, `{"new_data":[{"id":"1"}]}`)
	code, _, errOut := runCLI("preload", "--sender", ownerAddr, "--file", items)
	if code != 1 || !strings.Contains(errOut, "invalid preload file") {
		t.Fatalf("expected local schema rejection, got code=%d stderr=%s", code, errOut)
	}
}

func TestPreloadBodyWrapsArrays(t *testing.T) {
	body, err := preloadBody([]byte(` [{"id":"x","img_url":"u"}] `))
	if err != nil {
		t.Fatalf("preload body: %v", err)
	}
	if !strings.HasPrefix(string(body), `{"new_data":`) {
		t.Fatalf("expected wrapped body, got %s", body)
	}
	if _, err := preloadBody([]byte("  ")); err == nil {
		t.Fatalf("expected empty file error")
	}
}

func TestGenerateKeyRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.key")
	code, out, errOut := runCLI("generate-key", "--out", path)
	if code != 0 {
		t.Fatalf("generate-key failed: %s", errOut)
	}
	if !strings.Contains(out, "secret1") {
		t.Fatalf("expected a secret address, got %s", out)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() != 32 {
		t.Fatalf("expected a 32 byte key file, got %v err=%v", info, err)
	}
	code, _, errOut = runCLI("generate-key", "--out", path)
	if code != 1 || !strings.Contains(errOut, "refusing to overwrite") {
		t.Fatalf("expected overwrite refusal, got code=%d stderr=%s", code, errOut)
	}
}

func TestAddressAndUnknownCommand(t *testing.T) {
	code, out, _ := runCLI("address", "mint-manager")
	if code != 0 || strings.TrimSpace(out) != crypto.FormatIdentity(crypto.ContractAddress("mint-manager")) {
		t.Fatalf("unexpected address output %q", out)
	}
	if code, _, errOut := runCLI("frobnicate"); code != 1 || !strings.Contains(errOut, "Unknown command") {
		t.Fatalf("expected unknown command, got code=%d stderr=%s", code, errOut)
	}
}

func TestGenerateKeystoreAndWhoami(t *testing.T) {
	original := keystoreParams
	keystoreParams = crypto.LightKeystore
	defer func() { keystoreParams = original }()
	t.Setenv(keyPassphraseEnv, "open sesame")

	path := filepath.Join(t.TempDir(), "owner.json")
	code, out, errOut := runCLI("generate-key", "--keystore", path)
	if code != 0 {
		t.Fatalf("generate-key failed: %s", errOut)
	}
	var address string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Your address is: ") {
			address = strings.TrimPrefix(line, "Your address is: ")
		}
	}
	if address == "" {
		t.Fatalf("no address in output %q", out)
	}

	code, out, errOut = runCLI("whoami", "--keystore", path)
	if code != 0 {
		t.Fatalf("whoami failed: %s", errOut)
	}
	if strings.TrimSpace(out) != address {
		t.Fatalf("expected %s, got %s", address, out)
	}

	t.Setenv(keyPassphraseEnv, "wrong")
	if code, _, errOut = runCLI("whoami", "--keystore", path); code != 1 || !strings.Contains(errOut, "unlock") {
		t.Fatalf("expected unlock failure, got code=%d stderr=%s", code, errOut)
	}
}
