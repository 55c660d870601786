package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"mintmgr/cmd/internal/passphrase"
	"mintmgr/crypto"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("MINT_RPC_TOKEN")

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}
	switch args[0] {
	case "generate-key":
		return runGenerateKey(args[1:], stdout, stderr)
	case "whoami":
		return runWhoami(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "preload":
		return runPreload(args[1:], stdout, stderr)
	case "set-viewing-key":
		return runSetViewingKey(args[1:], stdout, stderr)
	case "receive":
		return runReceive(args[1:], stdout, stderr)
	case "mint-info":
		return runMintInfo(args[1:], stdout, stderr)
	case "receipts":
		return runReceipts(args[1:], stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
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

const keyPassphraseEnv = "MINT_KEY_PASSPHRASE"

var keystoreParams = crypto.StandardKeystore

func keyPassphrase() (string, error) {
	return passphrase.NewSource(keyPassphraseEnv, "keystore passphrase").Get()
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("generate-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "wallet.key", "file to write the raw private key to")
	keystorePath := fs.String("keystore", "", "write an encrypted key file here instead of a raw key")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate key: %v\n", err)
		return 1
	}
	target := *out
	if path := strings.TrimSpace(*keystorePath); path != "" {
		target = path
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(stderr, "Error: %s already exists; refusing to overwrite\n", path)
			return 1
		}
		secret, err := keyPassphrase()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := crypto.WriteKeystore(path, key, secret, keystoreParams); err != nil {
			fmt.Fprintf(stderr, "Error: write keystore: %v\n", err)
			return 1
		}
	} else if code := writeRawKey(target, key, stderr); code != 0 {
		return code
	}
	fmt.Fprintf(stdout, "Generated new key and saved to %s\n", target)
	fmt.Fprintf(stdout, "Your address is: %s\n", key.PubKey().Address().String())
	return 0
}

func writeRawKey(path string, key *crypto.PrivateKey, stderr io.Writer) int {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			fmt.Fprintf(stderr, "Error: %s already exists; refusing to overwrite\n", path)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	if _, err := f.Write(key.Bytes()); err != nil {
		_ = f.Close()
		fmt.Fprintf(stderr, "Error: write %s: %v\n", path, err)
		return 1
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(stderr, "Error: close %s: %v\n", path, err)
		return 1
	}
	return 0
}

func runWhoami(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("whoami", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keystorePath := fs.String("keystore", "", "encrypted key file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*keystorePath) == "" {
		fmt.Fprintln(stderr, "Error: --keystore is required")
		return 1
	}
	secret, err := keyPassphrase()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.ReadKeystore(*keystorePath, secret)
	if err != nil {
		fmt.Fprintf(stderr, "Error: unlock %s: %v\n", *keystorePath, err)
		return 1
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		fmt.Fprintln(stderr, "Usage: address <contract-label>")
		return 1
	}
	fmt.Fprintln(stdout, crypto.FormatIdentity(crypto.ContractAddress(args[0])))
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mint-cli [--rpc URL] <command> [flags]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  generate-key [--out FILE | --keystore FILE]                create a local key and print its address")
	fmt.Fprintln(w, "  whoami --keystore FILE                                     print the address of an encrypted key")
	fmt.Fprintln(w, "  address <label>                                            print the contract identity for a deployment label")
	fmt.Fprintln(w, "  preload --sender ADDR --file FILE                          append pool items (owner only)")
	fmt.Fprintln(w, "  set-viewing-key --sender ADDR [--key KEY]                  rotate the admin viewing key")
	fmt.Fprintln(w, "  receive --channel ADDR --sender ADDR [--from ADDR] --amount N [--intent JSON]")
	fmt.Fprintln(w, "                                                             deliver a payment notice")
	fmt.Fprintln(w, "  mint-info --viewer ADDR [--key KEY]                        read mint counters")
	fmt.Fprintln(w, "  receipts --viewer ADDR [--key KEY] [--recipient ADDR] [--action NAME] [--limit N]")
	fmt.Fprintln(w, "  status                                                     show height and halt state")
	fmt.Fprintln(w, "Environment: RPC_URL, MINT_RPC_TOKEN, "+viewingKeyEnv+", "+keyPassphraseEnv)
}
