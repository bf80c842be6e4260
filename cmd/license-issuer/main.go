// Command license-issuer is the administrative side of Void licensing. It
// generates the issuer key pair, signs license files and checks signatures.
// It never runs on customer machines.
//
//	license-issuer keygen --private <path> --public <path> [--bits 2048]
//	license-issuer issue  --private <path> --email <e> --tier <t> [--days N] --out <file>
//	license-issuer verify --public <path> --file <file>
package main

import (
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/xroachx-ghost/void-sub000/internal/config"
	apierrors "github.com/xroachx-ghost/void-sub000/internal/errors"
	"github.com/xroachx-ghost/void-sub000/internal/infrastructure"
	"github.com/xroachx-ghost/void-sub000/internal/license"
	"github.com/xroachx-ghost/void-sub000/internal/security"
	"github.com/xroachx-ghost/void-sub000/internal/validation"
)

const usage = `Usage: license-issuer <command> [flags]

Commands:
  keygen  --private <path> --public <path> [--bits 2048]
  issue   --private <path> --email <email> --tier <tier> [--days N] --out <file>
  verify  --public <path> --file <file>

Tiers: trial, personal, professional, enterprise. Omit --days for a
perpetual license; trial licenses always last 14 days.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return apierrors.ExitFailure
	}

	logger, err := infrastructure.NewLogger(config.LoggingConfig{Level: "warn", Format: "json", Output: "console"}, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return apierrors.ExitFailure
	}
	validator := validation.NewFileValidator(logger)

	switch args[0] {
	case "keygen":
		err = keygen(args[1:], stdout, stderr, validator)
	case "issue":
		err = issue(args[1:], stdout, stderr, validator)
	case "verify":
		err = verify(args[1:], stdout, stderr, validator)
	case "help", "-h", "--help":
		fmt.Fprint(stderr, usage)
		return apierrors.ExitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return apierrors.ExitFailure
	}

	if err == nil {
		return apierrors.ExitOK
	}
	if errors.Is(err, flag.ErrHelp) {
		return apierrors.ExitOK
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return apierrors.ExitCode(err)
}

func keygen(args []string, stdout, stderr io.Writer, validator *validation.FileValidator) error {
	flags := newFlagSet("keygen", stderr)
	privPath := flags.String("private", "", "output path for the private key (PEM)")
	pubPath := flags.String("public", "", "output path for the public key (PEM)")
	bits := flags.Int("bits", security.MinRSAKeyBits, "RSA key size")
	force := flags.Bool("force", false, "overwrite existing key files")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *privPath == "" || *pubPath == "" {
		return errors.New("keygen: --private and --public are required")
	}
	if !*force {
		for _, p := range []string{*privPath, *pubPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("keygen: %s exists; pass --force to overwrite", p)
			}
		}
	}

	for _, p := range []string{*privPath, *pubPath} {
		if err := validator.ValidateOutputDirectory(p); err != nil {
			return err
		}
	}

	priv, err := security.GenerateRSAKey(*bits)
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	privPEM, err := security.EncodePrivateKeyPEM(priv)
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	pubPEM, err := security.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}

	if err := writeFile(*privPath, privPEM, 0600); err != nil {
		return err
	}
	if err := writeFile(*pubPath, pubPEM, 0644); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Wrote %d-bit key pair\n  private: %s\n  public:  %s\n", *bits, *privPath, *pubPath)
	return nil
}

func issue(args []string, stdout, stderr io.Writer, validator *validation.FileValidator) error {
	flags := newFlagSet("issue", stderr)
	privPath := flags.String("private", "", "issuer private key (PEM)")
	email := flags.String("email", "", "customer email")
	tierName := flags.String("tier", "", "license tier")
	days := flags.Int("days", 0, "duration in days; 0 for perpetual")
	out := flags.String("out", "", "output license file; - for stdout")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *privPath == "" || *out == "" {
		return errors.New("issue: --private and --out are required")
	}

	tier, err := license.ParseTier(*tierName)
	if err != nil {
		return fmt.Errorf("issue: %w", err)
	}

	if err := validator.ValidatePrivateKeyFile(*privPath); err != nil {
		return err
	}
	if *out != "-" {
		if err := validator.ValidateOutputDirectory(*out); err != nil {
			return err
		}
	}

	priv, err := loadPrivateKey(*privPath)
	if err != nil {
		return err
	}
	issuer, err := license.NewIssuer(priv)
	if err != nil {
		return fmt.Errorf("issue: %w", err)
	}

	req := license.IssueRequest{Email: *email, Tier: tier}
	if *days > 0 {
		req.DurationDays = days
	}
	rec, data, err := issuer.Issue(req)
	if err != nil {
		return err
	}

	if *out == "-" {
		_, err = stdout.Write(append(data, '\n'))
		return err
	}
	if err := writeFile(*out, data, 0644); err != nil {
		return err
	}

	expiry := "never"
	if rec.ExpiresAt != nil {
		expiry = rec.ExpiresAt.Format(time.DateOnly)
	}
	fmt.Fprintf(stdout, "Issued %s license %s for %s (expires %s)\n  file: %s\n",
		rec.Tier, rec.LicenseID, rec.CustomerEmail, expiry, *out)
	return nil
}

func verify(args []string, stdout, stderr io.Writer, validator *validation.FileValidator) error {
	flags := newFlagSet("verify", stderr)
	pubPath := flags.String("public", "", "issuer public key (PEM); embedded key when empty")
	file := flags.String("file", "", "license file to check")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("verify: --file is required")
	}

	verifier, err := license.LoadVerifier(*pubPath)
	if err != nil {
		return err
	}
	data, err := validator.ReadLicenseFile(*file)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	rec, err := license.ParseRecord(data)
	if err != nil {
		return err
	}
	if err := verifier.Verify(rec, ""); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Signature OK: %s license %s for %s\n", rec.Tier, rec.LicenseID, rec.CustomerEmail)
	if rec.IsExpired(time.Now()) {
		fmt.Fprintf(stdout, "Note: expired at %s\n", rec.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	flags := flag.NewFlagSet("license-issuer "+name, flag.ContinueOnError)
	flags.SetOutput(stderr)
	return flags
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	priv, err := security.ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("private key %s: %w", path, err)
	}
	return priv, nil
}

func writeFile(path string, data []byte, perm fs.FileMode) error {
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
