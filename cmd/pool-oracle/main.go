package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/holiman/uint256"

	"factorpool/crypto"
	"factorpool/native/pool"
	"factorpool/observability/logging"
)

const (
	keygenCommand  = "keygen"
	addressCommand = "address"
	quoteCommand   = "quote"
	signCommand    = "sign"

	defaultPassEnv  = "POOL_ORACLE_PASS"
	defaultKeystore = "oracle.keystore"
)

func main() {
	logging.Setup("pool-oracle", strings.TrimSpace(os.Getenv("POOL_ENV")))

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case keygenCommand:
		err = runKeygen(os.Args[2:])
	case addressCommand:
		err = runAddress(os.Args[2:])
	case quoteCommand:
		err = runQuote(os.Args[2:])
	case signCommand:
		err = runSign(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: pool-oracle <command> [flags]

Commands:
  keygen    generate a new oracle keystore file
  address   print the addresses derived from a keystore
  quote     price a funding request (rating and expected yield)
  sign      sign a funding authorization read from a file or stdin
`)
}

func passphrase(envName string) string {
	return os.Getenv(strings.TrimSpace(envName))
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ExitOnError)
	out := fs.String("out", defaultKeystore, "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	fs.Parse(args)

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := crypto.SaveToKeystore(*out, key, passphrase(*passEnv)); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	addr := key.PubKey().EthAddress()
	fmt.Printf("keystore: %s\n", *out)
	fmt.Printf("address: %s\n", key.PubKey().Address())
	fmt.Printf("signer: 0x%s\n", hex.EncodeToString(addr[:]))
	return nil
}

func runAddress(args []string) error {
	fs := flag.NewFlagSet(addressCommand, flag.ExitOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Path to the oracle keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	fs.Parse(args)

	key, err := crypto.LoadFromKeystore(*keystorePath, passphrase(*passEnv))
	if err != nil {
		return fmt.Errorf("load keystore: %w", err)
	}
	addr := key.PubKey().EthAddress()
	fmt.Printf("address: %s\n", key.PubKey().Address())
	fmt.Printf("signer: 0x%s\n", hex.EncodeToString(addr[:]))
	return nil
}

func runQuote(args []string) error {
	fs := flag.NewFlagSet(quoteCommand, flag.ExitOnError)
	amountStr := fs.String("amount", "", "Principal in asset base units")
	score := fs.Uint("risk", 0, "Risk score (0-100)")
	fs.Parse(args)

	if strings.TrimSpace(*amountStr) == "" {
		return fmt.Errorf("amount required")
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(*amountStr))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	if *score > 255 {
		return fmt.Errorf("risk score out of range")
	}
	riskScore := uint8(*score)

	rating, err := pool.RatingOf(riskScore)
	if err != nil {
		return err
	}
	yield, err := pool.ExpectedYield(amount, riskScore)
	if err != nil {
		return err
	}
	fmt.Printf("rating: %s\n", rating)
	fmt.Printf("yieldBps: %d\n", pool.YieldBpsOf(rating))
	fmt.Printf("expectedYield: %s\n", yield.Dec())
	return nil
}

// signedAuthorization is the envelope handed to whoever submits the funding
// request on-pool.
type signedAuthorization struct {
	Authorization *pool.FundingAuthorization `json:"authorization"`
	Digest        string                     `json:"digest"`
	Signature     string                     `json:"signature"`
}

func runSign(args []string) error {
	fs := flag.NewFlagSet(signCommand, flag.ExitOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Path to the oracle keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	inPath := fs.String("in", "-", "Authorization JSON file, or - for stdin")
	fs.Parse(args)

	raw, err := readInput(*inPath)
	if err != nil {
		return err
	}
	auth := &pool.FundingAuthorization{}
	if err := json.Unmarshal(raw, auth); err != nil {
		return fmt.Errorf("parse authorization: %w", err)
	}

	// The oracle prices the request itself; a submitted yield that disagrees
	// with the risk table is refused rather than silently fixed.
	expectedBps, err := pool.YieldBpsForScore(auth.RiskScore)
	if err != nil {
		return err
	}
	if auth.ExpectedYieldBps == 0 {
		auth.ExpectedYieldBps = expectedBps
	} else if auth.ExpectedYieldBps != expectedBps {
		return fmt.Errorf("expected yield %d bps does not match risk score %d (want %d bps)",
			auth.ExpectedYieldBps, auth.RiskScore, expectedBps)
	}

	key, err := crypto.LoadFromKeystore(*keystorePath, passphrase(*passEnv))
	if err != nil {
		return fmt.Errorf("load keystore: %w", err)
	}
	signature, err := auth.Sign(key)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	out := signedAuthorization{
		Authorization: auth,
		Digest:        "0x" + hex.EncodeToString(auth.Hash()),
		Signature:     "0x" + hex.EncodeToString(signature),
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
