package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mintmgr/cmd/internal/passphrase"
	"mintmgr/core"
	"mintmgr/rpc"
)

const (
	viewingKeyEnv = "MINT_VIEWING_KEY"
	defaultIntent = `{"receive_mint":{}}`
	callTimeout   = 30 * time.Second
)

var newRPCClient = func() *rpc.Client { return rpc.NewClient(rpcEndpoint, rpcAuthToken) }

func resolveViewingKey(flagValue string) (string, error) {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue, nil
	}
	return passphrase.NewSource(viewingKeyEnv, "viewing key").Get()
}

func requireFlag(stderr io.Writer, name, value string) bool {
	if strings.TrimSpace(value) == "" {
		fmt.Fprintf(stderr, "Error: --%s is required\n", name)
		return false
	}
	return true
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func handleCallError(stderr io.Writer, err error) int {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		if len(rpcErr.Data) > 0 {
			fmt.Fprintf(stderr, "  %s\n", string(rpcErr.Data))
		}
		return 1
	}
	fmt.Fprintf(stderr, "Error: POST %s: %v\n", rpcEndpoint, err)
	return 1
}

func writeResult(stdout io.Writer, raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Fprintln(stdout, string(raw))
		return
	}
	fmt.Fprintln(stdout, buf.String())
}

// preloadBody accepts either a bare item array or a {"new_data": [...]} object.
func preloadBody(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("preload file is empty")
	}
	if trimmed[0] == '[' {
		wrapped, err := json.Marshal(map[string]json.RawMessage{"new_data": trimmed})
		if err != nil {
			return nil, err
		}
		trimmed = wrapped
	}
	if err := rpc.ValidatePreLoad(trimmed); err != nil {
		return nil, err
	}
	return trimmed, nil
}

func runPreload(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("preload", flag.ContinueOnError)
	sender := fs.String("sender", "", "owner address")
	file := fs.String("file", "", "JSON file with the items to load")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if !requireFlag(stderr, "sender", *sender) || !requireFlag(stderr, "file", *file) {
		return 1
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	body, err := preloadBody(raw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid preload file: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	result, err := newRPCClient().Execute(ctx, strings.TrimSpace(*sender), map[string]json.RawMessage{"pre_load": body})
	if err != nil {
		return handleCallError(stderr, err)
	}
	writeResult(stdout, result)
	return 0
}

func runSetViewingKey(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("set-viewing-key", flag.ContinueOnError)
	sender := fs.String("sender", "", "owner address")
	key := fs.String("key", "", "new viewing key (prompted when omitted)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if !requireFlag(stderr, "sender", *sender) {
		return 1
	}
	secret, err := resolveViewingKey(*key)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	msg := core.ExecuteMsg{SetViewingKey: &core.SetViewingKeyMsg{Key: secret}}
	result, err := newRPCClient().Execute(ctx, strings.TrimSpace(*sender), msg)
	if err != nil {
		return handleCallError(stderr, err)
	}
	writeResult(stdout, result)
	return 0
}

func runReceive(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("receive", flag.ContinueOnError)
	channel := fs.String("channel", "", "payment channel contract delivering the notice")
	sender := fs.String("sender", "", "account that initiated the transfer")
	from := fs.String("from", "", "account whose funds moved (defaults to --sender)")
	amount := fs.String("amount", "", "amount transferred, in base units")
	intent := fs.String("intent", defaultIntent, "mint intent attached to the payment")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if !requireFlag(stderr, "channel", *channel) || !requireFlag(stderr, "sender", *sender) || !requireFlag(stderr, "amount", *amount) {
		return 1
	}
	payer := strings.TrimSpace(*from)
	if payer == "" {
		payer = strings.TrimSpace(*sender)
	}
	msg := core.ExecuteMsg{Receive: &core.ReceiveMsg{
		Sender: strings.TrimSpace(*sender),
		From:   payer,
		Amount: strings.TrimSpace(*amount),
		Msg:    []byte(*intent),
	}}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	result, err := newRPCClient().Execute(ctx, strings.TrimSpace(*channel), msg)
	if err != nil {
		return handleCallError(stderr, err)
	}
	writeResult(stdout, result)
	return 0
}

func runMintInfo(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mint-info", flag.ContinueOnError)
	viewer := fs.String("viewer", "", "address holding the viewing key")
	key := fs.String("key", "", "viewing key (prompted when omitted)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if !requireFlag(stderr, "viewer", *viewer) {
		return 1
	}
	secret, err := resolveViewingKey(*key)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	query := core.QueryMsg{GetMintInfo: &core.GetMintInfoQuery{
		Viewer: core.ViewerInfo{Address: strings.TrimSpace(*viewer), ViewingKey: secret},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	result, err := newRPCClient().Call(ctx, rpc.MethodQuery, query)
	if err != nil {
		return handleCallError(stderr, err)
	}
	writeResult(stdout, result)
	return 0
}

func runReceipts(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("receipts", flag.ContinueOnError)
	viewer := fs.String("viewer", "", "address holding the viewing key")
	key := fs.String("key", "", "viewing key (prompted when omitted)")
	recipient := fs.String("recipient", "", "only receipts delivering to this address")
	action := fs.String("action", "", "only receipts of this action")
	limit := fs.Int("limit", 0, "maximum number of receipts")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if !requireFlag(stderr, "viewer", *viewer) {
		return 1
	}
	secret, err := resolveViewingKey(*key)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params := rpc.ReceiptsParams{
		Viewer:    core.ViewerInfo{Address: strings.TrimSpace(*viewer), ViewingKey: secret},
		Recipient: strings.TrimSpace(*recipient),
		Action:    strings.TrimSpace(*action),
		Limit:     *limit,
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	result, err := newRPCClient().Call(ctx, rpc.MethodReceipts, params)
	if err != nil {
		return handleCallError(stderr, err)
	}
	writeResult(stdout, result)
	return 0
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	result, err := newRPCClient().Call(ctx, rpc.MethodStatus, nil)
	if err != nil {
		return handleCallError(stderr, err)
	}
	writeResult(stdout, result)
	return 0
}
