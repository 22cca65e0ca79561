// Command keygen manages the ed25519 identity a peer uses to sign
// the manifests it sends (internal/identity). There is no passphrase
// encryption or keystore here — identity.Identity is a bare keypair,
// so the private key file this writes is sensitive on its own.
package main

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quantarax/meshxfer/internal/identity"
)

const (
	identityKeyFile = "identity.key"
	identityPubFile = "identity.pub"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		generateCmd(os.Args[2:])
	case "show":
		showCmd(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("keygen - meshxfer identity key management")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  keygen generate [flags]  - generate a new signing identity")
	fmt.Println("  keygen show [flags]      - print public key and fingerprint")
}

func defaultKeysDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".meshxfer"
	}
	return filepath.Join(home, ".meshxfer")
}

func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	outputDir := fs.String("output-dir", defaultKeysDir(), "key storage directory")
	force := fs.Bool("force", false, "overwrite existing keys")
	fs.Parse(args)

	if err := os.MkdirAll(*outputDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: creating %s: %v\n", *outputDir, err)
		os.Exit(1)
	}

	keyPath := filepath.Join(*outputDir, identityKeyFile)
	pubPath := filepath.Join(*outputDir, identityPubFile)

	if !*force {
		if _, err := os.Stat(keyPath); !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "keygen: %s already exists, pass -force to overwrite\n", keyPath)
			os.Exit(1)
		}
	}

	id, err := identity.Generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: generating identity: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(keyPath, []byte(base64.StdEncoding.EncodeToString(id.Private)+"\n"), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: writing %s: %v\n", keyPath, err)
		os.Exit(1)
	}
	pubB64 := base64.StdEncoding.EncodeToString(id.Public)
	if err := os.WriteFile(pubPath, []byte(pubB64+"\n"), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: writing %s: %v\n", pubPath, err)
		os.Exit(1)
	}

	fmt.Println("Identity generated.")
	fmt.Printf("Public key:  %s\n", pubB64)
	fmt.Printf("Fingerprint: %s\n", fingerprint(id.Public))
	fmt.Printf("Stored in:   %s\n", *outputDir)
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	keysDir := fs.String("keys-dir", defaultKeysDir(), "key storage directory")
	fs.Parse(args)

	pubPath := filepath.Join(*keysDir, identityPubFile)
	raw, err := os.ReadFile(pubPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: reading %s: %v\n", pubPath, err)
		fmt.Fprintln(os.Stderr, "run 'keygen generate' first")
		os.Exit(1)
	}

	pubB64 := strings.TrimRight(string(raw), "\r\n")
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: decoding public key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Public key:  %s\n", pubB64)
	fmt.Printf("Fingerprint: %s\n", fingerprint(ed25519.PublicKey(pub)))
}

func fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return fmt.Sprintf("SHA256:%x", sum[:8])
}

