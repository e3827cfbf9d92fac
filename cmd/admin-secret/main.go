// admin-secret prints an ADMIN_PASSWORD_HASH value for the password read from
// the first line of stdin:
//
//	printf '%s\n' "$ADMIN_PASSWORD" | admin-secret
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"qrlogin/attendance-service/internal/config"
	"qrlogin/attendance-service/internal/credential"
	"qrlogin/attendance-service/internal/directory"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	var iterations int
	flagSet := pflag.NewFlagSet("admin-secret", pflag.ContinueOnError)
	flagSet.IntVar(&iterations, "iterations", cfg.PBKDF2Iterations, "PBKDF2 iterations; must match the service's PBKDF2_ITERATIONS")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if len(password) < directory.MinPasswordLength {
		return errors.New("password is too short")
	}

	hash, salt, err := credential.NewHasher(iterations).Hash(password)
	if err != nil {
		return err
	}
	fmt.Println(credential.EncodeSecret(hash, salt))
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `admin-secret hashes an administrator password for ADMIN_PASSWORD_HASH.

Usage:
  admin-secret [flags] < password.txt

Flags:
`)
	flagSet.PrintDefaults()
}
