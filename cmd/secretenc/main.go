// Command secretenc encrypts a Binance API secret for binance.encrypted_secret_path.
//
// The secret is read from stdin and the password from the environment
// variable named by -password-env:
//
//	echo "$BINANCE_SECRET" | PERPBOT_BINANCE_SECRET_PASSWORD=... secretenc -out secrets/binance.json
//
// With -verify the file is decrypted instead and only its length is printed.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/crypto"
)

func main() {
	out := flag.String("out", "secrets/binance.json", "encrypted secret file")
	passwordEnv := flag.String("password-env", "PERPBOT_BINANCE_SECRET_PASSWORD", "environment variable holding the password")
	verify := flag.Bool("verify", false, "decrypt -out and report instead of encrypting")
	flag.Parse()

	if err := run(*out, os.Getenv(*passwordEnv), *verify); err != nil {
		fmt.Fprintf(os.Stderr, "secretenc: %v\n", err)
		os.Exit(1)
	}
}

func run(path, password string, verify bool) error {
	if password == "" {
		return errors.New("empty password")
	}

	if verify {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{EncryptedPath: path, Password: password})
		if err != nil {
			return err
		}
		fmt.Printf("ok: %s decrypts to a %d character secret\n", path, len(secret))
		return nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read secret from stdin: %w", err)
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return errors.New("empty secret on stdin")
	}

	blob, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
