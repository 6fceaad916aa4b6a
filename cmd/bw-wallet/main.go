// Command bw-wallet drives the three-pass slate protocol (§4.10) from
// the command line: init a keystore, run sender round 1 ("send"),
// receiver round ("receive"), and sender round 2 ("finalize"), handing
// off a Slate as a JSON file between invocations the way two separate
// wallet processes would exchange it over email or a pairing session.
//
// Grounded on the teacher's cmd/rubin-consensus-cli's op-dispatch
// switch (a flat Request.Op string routed to one of a handful of
// named operations) rather than its flag.FlagSet-based sibling
// cmd/rubin-node, since a multi-verb CLI is exactly the shape that
// switch already models; flags within each verb use
// github.com/jessevdk/go-flags per SPEC_FULL.md §10's CLI upgrade.
package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"wimble.dev/node/internal/crypto"
	"wimble.dev/node/internal/rpc"
	"wimble.dev/node/wallet/keystore"
	"wimble.dev/node/wallet/slate"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: bw-wallet <init|send|receive|finalize> [options]")
		return 1
	}

	var err error
	switch args[0] {
	case "init":
		err = cmdInit(args[1:])
	case "send":
		err = cmdSend(args[1:])
	case "receive":
		err = cmdReceive(args[1:])
	case "finalize":
		err = cmdFinalize(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		return 1
	}

	if err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "bw-wallet %s: %v\n", args[0], err)
		return 1
	}
	return 0
}

type initOptions struct {
	Wallet     string `long:"wallet" description:"path to the new wallet file" default:"wallet.dat"`
	Passphrase string `long:"passphrase" description:"wallet passphrase" required:"true"`
}

func cmdInit(args []string) error {
	var opts initOptions
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		return err
	}
	if _, err := os.Stat(opts.Wallet); err == nil {
		return fmt.Errorf("%s already exists", opts.Wallet)
	}
	if _, err := keystore.Create(opts.Wallet, []byte(opts.Passphrase), crypto.DefaultScryptParams); err != nil {
		return err
	}
	fmt.Printf("wallet created: %s\n", opts.Wallet)
	return nil
}

// utxoFile is the wallet's view of its own spendable outputs, kept as a
// flat JSON file rather than a synced UTXO index — querying the node
// for a wallet's owned outputs is the façade's job (out of scope per
// spec §1), so this CLI takes the caller's word for what is spendable.
type utxoFile struct {
	Inputs []utxoEntry `json:"inputs"`
}

type utxoEntry struct {
	CommitmentHex string `json:"commitment_hex"`
	Value         uint64 `json:"value"`
	BlindHex      string `json:"blind_hex"`
}

func loadUTXOs(path string) ([]slate.SpendableInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f utxoFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	out := make([]slate.SpendableInput, len(f.Inputs))
	for i, e := range f.Inputs {
		com, err := decodeHexFixed(e.CommitmentHex, len(crypto.Commitment{}))
		if err != nil {
			return nil, fmt.Errorf("input %d commitment: %w", i, err)
		}
		blind, err := decodeHexFixed(e.BlindHex, len(crypto.BlindingFactor{}))
		if err != nil {
			return nil, fmt.Errorf("input %d blind: %w", i, err)
		}
		var in slate.SpendableInput
		copy(in.Commitment[:], com)
		copy(in.Blind[:], blind)
		in.Value = e.Value
		out[i] = in
	}
	return out, nil
}

func decodeHexFixed(s string, n int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d", n, len(b))
	}
	return b, nil
}

type senderContextFile struct {
	Blind       string `json:"blind_hex"`
	Nonce       string `json:"nonce_hex"`
	Offset      string `json:"offset_hex"`
	ChangeValue uint64 `json:"change_value"`
	ChangeBlind string `json:"change_blind_hex"`
}

type sendOptions struct {
	Wallet     string `long:"wallet" required:"true"`
	Passphrase string `long:"passphrase" required:"true"`
	UTXOs      string `long:"utxos" required:"true" description:"JSON file listing this wallet's spendable inputs"`
	KeyIndex   uint32 `long:"key-index" description:"key-derivation index for the change output" default:"0"`
	Amount     uint64 `long:"amount" required:"true"`
	LockHeight uint64 `long:"lock-height"`
	All        bool   `long:"select-all" description:"use every listed input instead of smallest-first selection"`
	SlateOut   string `long:"slate-out" required:"true"`
	ContextOut string `long:"context-out" required:"true" description:"where to write this wallet's private round-1 secrets"`
}

// cmdSend runs sender round 1 (§4.10), writing the outgoing Slate and a
// local-only context file holding the secrets round 2 needs. The
// context file never leaves this machine.
func cmdSend(args []string) error {
	var opts sendOptions
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		return err
	}

	seed, err := keystore.Unlock(opts.Wallet, []byte(opts.Passphrase))
	if err != nil {
		return err
	}
	inputs, err := loadUTXOs(opts.UTXOs)
	if err != nil {
		return err
	}
	derived, err := keystore.DeriveAt(seed, opts.KeyIndex)
	if err != nil {
		return err
	}

	strategy := slate.SmallestInputsFirst
	if opts.All {
		strategy = slate.SelectAll
	}

	s, ctx, err := slate.NewSenderSlate(opts.Amount, opts.LockHeight, strategy, inputs, derived.Blind, derived.ProofNonce)
	if err != nil {
		return err
	}

	if err := writeJSON(opts.SlateOut, s); err != nil {
		return err
	}
	cf := senderContextFile{
		Blind:       hexEncode(ctx.Blind[:]),
		Nonce:       hexEncode(ctx.Nonce[:]),
		Offset:      hexEncode(ctx.Offset[:]),
		ChangeValue: ctx.ChangeValue,
		ChangeBlind: hexEncode(ctx.ChangeBlind[:]),
	}
	if err := writeJSON(opts.ContextOut, cf); err != nil {
		return err
	}
	fmt.Printf("slate written: %s (fee=%d)\n", opts.SlateOut, s.Fee)
	return nil
}

type receiveOptions struct {
	Wallet     string `long:"wallet" required:"true"`
	Passphrase string `long:"passphrase" required:"true"`
	KeyIndex   uint32 `long:"key-index" default:"0"`
	SlateIn    string `long:"slate-in" required:"true"`
	SlateOut   string `long:"slate-out" required:"true"`
}

// cmdReceive runs the receiver round (§4.10).
func cmdReceive(args []string) error {
	var opts receiveOptions
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		return err
	}

	seed, err := keystore.Unlock(opts.Wallet, []byte(opts.Passphrase))
	if err != nil {
		return err
	}
	var s slate.Slate
	if err := readJSON(opts.SlateIn, &s); err != nil {
		return err
	}
	derived, err := keystore.DeriveAt(seed, opts.KeyIndex)
	if err != nil {
		return err
	}

	updated, err := slate.ReceiveSlate(s, derived.Blind, derived.ProofNonce)
	if err != nil {
		return err
	}
	if err := writeJSON(opts.SlateOut, updated); err != nil {
		return err
	}
	fmt.Printf("slate updated: %s\n", opts.SlateOut)
	return nil
}

type finalizeOptions struct {
	SlateIn   string `long:"slate-in" required:"true"`
	ContextIn string `long:"context-in" required:"true"`
}

// cmdFinalize runs sender round 2 (§4.10), printing the finalized
// transaction's wire hex ready for internal/rpc's push_transaction.
func cmdFinalize(args []string) error {
	var opts finalizeOptions
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		return err
	}

	var s slate.Slate
	if err := readJSON(opts.SlateIn, &s); err != nil {
		return err
	}
	var cf senderContextFile
	if err := readJSON(opts.ContextIn, &cf); err != nil {
		return err
	}

	ctx, err := decodeSenderContext(cf)
	if err != nil {
		return err
	}

	tx, err := slate.FinalizeSlate(s, ctx)
	if err != nil {
		return err
	}

	fmt.Println(rpc.EncodeTransaction(tx))
	return nil
}

func decodeSenderContext(cf senderContextFile) (slate.SenderContext, error) {
	var ctx slate.SenderContext
	blind, err := decodeHexFixed(cf.Blind, len(crypto.SecretKey{}))
	if err != nil {
		return ctx, fmt.Errorf("blind: %w", err)
	}
	nonce, err := decodeHexFixed(cf.Nonce, len(crypto.SecretKey{}))
	if err != nil {
		return ctx, fmt.Errorf("nonce: %w", err)
	}
	offset, err := decodeHexFixed(cf.Offset, len(crypto.BlindingFactor{}))
	if err != nil {
		return ctx, fmt.Errorf("offset: %w", err)
	}
	changeBlind, err := decodeHexFixed(cf.ChangeBlind, len(crypto.BlindingFactor{}))
	if err != nil {
		return ctx, fmt.Errorf("change_blind: %w", err)
	}
	copy(ctx.Blind[:], blind)
	copy(ctx.Nonce[:], nonce)
	copy(ctx.Offset[:], offset)
	copy(ctx.ChangeBlind[:], changeBlind)
	ctx.ChangeValue = cf.ChangeValue
	return ctx, nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }
