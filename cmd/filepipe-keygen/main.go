// filepipe-keygen generates the self-signed TLS certificate filepipe-recv
// needs to terminate a QUIC listener. Peer identity beyond the transport
// handshake is out of scope for filepipe; this replaces the teacher's
// Ed25519 identity-keypair tool with a plain cert/key pair generator.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantarax/filepipe/internal/quicutil"
)

var (
	outputDir string
	certName  string
	keyName   string
	force     bool
)

func main() {
	flag.StringVar(&outputDir, "out", ".", "Directory to write the certificate and key into")
	flag.StringVar(&certName, "cert-name", "filepipe.crt", "Certificate file name")
	flag.StringVar(&keyName, "key-name", "filepipe.key", "Private key file name")
	flag.BoolVar(&force, "force", false, "Overwrite an existing certificate/key pair")
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "filepipe-keygen: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", outputDir, err)
	}

	certPath := filepath.Join(outputDir, certName)
	keyPath := filepath.Join(outputDir, keyName)

	if !force {
		if _, err := os.Stat(certPath); err == nil {
			return fmt.Errorf("%s already exists, pass -force to overwrite", certPath)
		}
	}

	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		return fmt.Errorf("generate cert: %w", err)
	}

	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("write cert: %w", err)
	}

	fmt.Printf("Certificate written to %s\n", certPath)
	fmt.Printf("Private key written to %s\n", keyPath)
	fmt.Println("Valid for localhost and 127.0.0.1/::1, 1 year.")
	return nil
}
