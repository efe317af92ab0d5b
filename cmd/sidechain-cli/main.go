// Command sidechain-cli is the local devnet/ops companion to sidechain-node:
// it generates witness keypairs, wraps/rotates them into keystore files, and
// prints a genesis block a fresh devnet can bootstrap from. It never talks
// to a running node; every subcommand is a pure local operation over flags,
// files, and stdout.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"sidechain.dev/core/chain"
	"sidechain.dev/core/crypto"
	"sidechain.dev/core/node"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "keygen":
		return runKeygen(rest, stdout, stderr)
	case "keystore-export":
		return runKeystoreExport(rest, stdout, stderr)
	case "keystore-rewrap":
		return runKeystoreRewrap(rest, stdout, stderr)
	case "keystore-show":
		return runKeystoreShow(rest, stdout, stderr)
	case "genesis":
		return runGenesis(rest, stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown subcommand %q\n", sub)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sidechain-cli <subcommand> [flags]")
	_, _ = fmt.Fprintln(w, "  keygen            generate a new witness secp256k1 keypair")
	_, _ = fmt.Fprintln(w, "  keystore-export   wrap a private key into a keystore file")
	_, _ = fmt.Fprintln(w, "  keystore-rewrap   rotate a keystore file's key-encryption-key")
	_, _ = fmt.Fprintln(w, "  keystore-show     print a keystore file's public key and key id")
	_, _ = fmt.Fprintln(w, "  genesis           print a genesis block for a fresh devnet")
}

type keygenOutput struct {
	PrivateKeyHex string `json:"private_key_hex"`
	PublicKeyHex  string `json:"public_key_hex"`
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen failed: %v\n", err)
		return 1
	}
	return writeJSON(stdout, stderr, keygenOutput{
		PrivateKeyHex: hex.EncodeToString(priv),
		PublicKeyHex:  hex.EncodeToString(pub),
	})
}

// kekFlags registers the flags for the two ways a 32-byte key-encryption-key
// can be supplied to a subcommand: a raw hex key, or an Argon2id-derived one from a
// passphrase plus a hex salt. resolveKEK reads back whichever pair was set.
func kekFlags(fs *flag.FlagSet, prefix, label string) (hexFlag, passphraseFlag, saltFlag *string) {
	hexFlag = fs.String(prefix+"kek-hex", "", label+" key-encryption-key, hex-encoded (32 bytes)")
	passphraseFlag = fs.String(prefix+"kek-passphrase", "", label+" key-encryption-key, derived via Argon2id from this passphrase and -"+prefix+"kek-salt-hex")
	saltFlag = fs.String(prefix+"kek-salt-hex", "", "salt for -"+prefix+"kek-passphrase, hex-encoded (16 bytes recommended)")
	return hexFlag, passphraseFlag, saltFlag
}

func resolveKEK(hexVal, passphrase, saltHex string) ([]byte, error) {
	if hexVal != "" {
		return hex.DecodeString(hexVal)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("either a -kek-hex or a -kek-passphrase (with -kek-salt-hex) is required")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("bad -kek-salt-hex: %w", err)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("-kek-salt-hex is required alongside -kek-passphrase")
	}
	return node.DeriveKEK(passphrase, salt), nil
}

func runKeystoreExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keystore-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	privHex := fs.String("priv-hex", "", "witness private key, hex-encoded (32 bytes)")
	pubHex := fs.String("pub-hex", "", "witness public key, hex-encoded (33 bytes compressed)")
	kekHex, kekPass, kekSalt := kekFlags(fs, "", "")
	out := fs.String("out", "", "output keystore file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *privHex == "" || *pubHex == "" || *out == "" {
		_, _ = fmt.Fprintln(stderr, "keystore-export: -priv-hex, -pub-hex, and -out are all required")
		return 2
	}
	priv, err := hex.DecodeString(*privHex)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "bad -priv-hex: %v\n", err)
		return 2
	}
	pub, err := hex.DecodeString(*pubHex)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "bad -pub-hex: %v\n", err)
		return 2
	}
	kek, err := resolveKEK(*kekHex, *kekPass, *kekSalt)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keystore-export: %v\n", err)
		return 2
	}
	if err := node.ExportWrappedKey(*out, pub, priv, kek); err != nil {
		_, _ = fmt.Fprintf(stderr, "export failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "wrote keystore to %s\n", *out)
	return 0
}

func runKeystoreRewrap(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keystore-rewrap", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("in", "", "keystore file to rotate in place")
	oldHex, oldPass, oldSalt := kekFlags(fs, "old-", "current")
	newHex, newPass, newSalt := kekFlags(fs, "new-", "new")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		_, _ = fmt.Fprintln(stderr, "keystore-rewrap: -in is required")
		return 2
	}
	ks, err := node.ReadKeystore(*path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "read keystore: %v\n", err)
		return 1
	}
	oldKEK, err := resolveKEK(*oldHex, *oldPass, *oldSalt)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keystore-rewrap: old key: %v\n", err)
		return 2
	}
	newKEK, err := resolveKEK(*newHex, *newPass, *newSalt)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keystore-rewrap: new key: %v\n", err)
		return 2
	}
	if err := node.RewrapKey(ks, oldKEK, newKEK); err != nil {
		_, _ = fmt.Fprintf(stderr, "rewrap failed: %v\n", err)
		return 1
	}
	b, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "marshal keystore: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*path, b, 0o600); err != nil {
		_, _ = fmt.Fprintf(stderr, "write keystore: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "rotated key-encryption-key for %s\n", *path)
	return 0
}

func runKeystoreShow(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keystore-show", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("in", "", "keystore file to inspect")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		_, _ = fmt.Fprintln(stderr, "keystore-show: -in is required")
		return 2
	}
	ks, err := node.ReadKeystore(*path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "read keystore: %v\n", err)
		return 1
	}
	return writeJSON(stdout, stderr, ks)
}

func runGenesis(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("genesis", flag.ContinueOnError)
	fs.SetOutput(stderr)
	originHash := fs.String("origin-hash", "0", "genesis origin hash")
	anchorBlock := fs.Uint64("anchor-block", 0, "anchor block number the chain starts mirroring from")
	master := fs.String("master", "", "witness name credited as the genesis block's producer")
	timestamp := fs.Int64("timestamp", 0, "genesis block timestamp, ms since epoch")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	genesis := chain.NewGenesisBlock(*originHash, *anchorBlock, *master, *timestamp)
	return writeJSON(stdout, stderr, genesis)
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(stderr, "encode output: %v\n", err)
		return 1
	}
	return 0
}
