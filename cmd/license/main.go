// Command license manages the Void Suite license on this machine.
//
//	license activate --file <path>   bind a license file to this machine
//	license deactivate               release this machine's device slot
//	license status                   validate the installed license
//	license info                     show license details
//	license trial                    start the 14 day trial
//	license fingerprint              print this machine's fingerprint
//	license serve [--addr host:port] run the local license API
//
// Every command accepts --json. The exit code identifies the failure kind.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/xroachx-ghost/void-sub000/internal/app"
	"github.com/xroachx-ghost/void-sub000/internal/config"
	apierrors "github.com/xroachx-ghost/void-sub000/internal/errors"
	"github.com/xroachx-ghost/void-sub000/internal/infrastructure"
	"github.com/xroachx-ghost/void-sub000/internal/license"
	"github.com/xroachx-ghost/void-sub000/internal/validation"
)

const usage = `Usage: license <command> [flags]

Commands:
  activate     --file <path>  Activate a license file on this machine
  deactivate                  Release this machine's device slot
  status                      Validate the installed license
  info                        Show license details
  trial                       Start the 14-day trial
  fingerprint                 Print this machine's fingerprint
  serve        [--addr addr]  Run the local license API

Every command accepts --json and --verbose.
`

// cli holds the command's dependencies so tests can replace them
type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (*config.Config, error)
	newManager func(cfg *config.Config, logger *slog.Logger) (*license.Manager, error)
	serve      func(ctx context.Context, cfg *config.Config, logger *slog.Logger) error
}

func newCLI() *cli {
	return &cli{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		loadConfig: config.Load,
		newManager: func(cfg *config.Config, logger *slog.Logger) (*license.Manager, error) {
			return license.NewManagerFromConfig(cfg.License, license.WithLogger(logger))
		},
		serve: func(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
			application, err := app.NewApplicationFromConfig(cfg, logger)
			if err != nil {
				return err
			}
			return application.Run(ctx)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := newCLI().run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// commandFlags are shared by every subcommand
type commandFlags struct {
	json    bool
	verbose bool
}

func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(c.stderr, usage)
		if len(args) == 0 {
			return apierrors.ExitFailure
		}
		return apierrors.ExitOK
	}

	command, rest := args[0], args[1:]

	fs := flag.NewFlagSet("license "+command, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	var common commandFlags
	fs.BoolVar(&common.json, "json", false, "print machine-readable JSON")
	fs.BoolVar(&common.verbose, "verbose", false, "log at debug level to stderr")

	var file, addr string
	switch command {
	case "activate":
		fs.StringVar(&file, "file", "", "path to the license file (required)")
	case "serve":
		fs.StringVar(&addr, "addr", "", "listen address (default from config, "+config.DefaultServerAddr+")")
	case "deactivate", "status", "info", "trial", "fingerprint":
	default:
		fmt.Fprintf(c.stderr, "unknown command %q\n\n%s", command, usage)
		return apierrors.ExitFailure
	}

	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return apierrors.ExitOK
		}
		return apierrors.ExitFailure
	}
	if command == "activate" && file == "" {
		fmt.Fprintln(c.stderr, "activate: --file is required")
		return apierrors.ExitFailure
	}

	cfg, err := c.loadConfig()
	if err != nil {
		fmt.Fprintf(c.stderr, "error: %v\n", err)
		return apierrors.ExitFailure
	}

	logger, err := c.logger(cfg, common.verbose || command == "serve")
	if err != nil {
		fmt.Fprintf(c.stderr, "error: %v\n", err)
		return apierrors.ExitFailure
	}

	if command == "serve" {
		if addr != "" {
			cfg.Server.Addr = addr
		}
		if err := c.serve(ctx, cfg, logger); err != nil {
			return c.fail(err)
		}
		return apierrors.ExitOK
	}

	// One trace id ties together the log lines of this invocation
	ctx = infrastructure.EnsureTraceID(ctx)

	manager, err := c.newManager(cfg, logger)
	if err != nil {
		fmt.Fprintf(c.stderr, "error: %v\n", err)
		return apierrors.ExitFailure
	}

	out := &printer{w: c.stdout, json: common.json}

	switch command {
	case "activate":
		return c.activate(ctx, manager, logger, out, file)
	case "deactivate":
		return c.deactivate(ctx, manager, out)
	case "status":
		return c.status(ctx, manager, out)
	case "info":
		return c.info(ctx, manager, out)
	case "trial":
		return c.trial(ctx, manager, out)
	default:
		return c.fingerprint(ctx, manager, out)
	}
}

// logger keeps routine manager logs off the terminal unless asked for
func (c *cli) logger(cfg *config.Config, verbose bool) (*slog.Logger, error) {
	logCfg := cfg.Logging
	if verbose {
		if logCfg.Level == "" || logCfg.Level == "info" {
			logCfg.Level = "debug"
		}
	} else {
		logCfg.Level = "error"
	}
	return infrastructure.NewLogger(logCfg, c.stderr)
}

// fail prints the user-facing message for err and returns its exit code
func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "error: %s\n", apierrors.UserMessage(err))
	return apierrors.ExitCode(err)
}

func (c *cli) activate(ctx context.Context, m *license.Manager, logger *slog.Logger, out *printer, path string) int {
	data, err := validation.NewFileValidator(logger).ReadLicenseFile(path)
	if err != nil {
		fmt.Fprintf(c.stderr, "error: %v\n", err)
		return apierrors.ExitFailure
	}

	rec, err := m.Activate(ctx, data)
	if err != nil {
		return c.fail(err)
	}

	out.print(recordView(rec), func(w io.Writer) {
		fmt.Fprintf(w, "License activated on this machine.\n")
		printRecord(w, rec)
	})
	return apierrors.ExitOK
}

func (c *cli) deactivate(ctx context.Context, m *license.Manager, out *printer) int {
	if err := m.Deactivate(ctx); err != nil {
		return c.fail(err)
	}
	out.print(map[string]interface{}{"deactivated": true}, func(w io.Writer) {
		fmt.Fprintln(w, "License deactivated on this machine. The device slot is free.")
	})
	return apierrors.ExitOK
}

func (c *cli) status(ctx context.Context, m *license.Manager, out *printer) int {
	status := m.Validate(ctx)
	out.print(status, func(w io.Writer) {
		printStatus(w, status)
	})
	return stateExitCode(status.State)
}

func (c *cli) info(ctx context.Context, m *license.Manager, out *printer) int {
	info, err := m.Info(ctx)
	if err != nil {
		return c.fail(err)
	}
	out.print(info, func(w io.Writer) {
		printStatus(w, info.Status)
		if info.LicenseID == "" {
			return
		}
		fmt.Fprintf(w, "License ID:  %s\n", info.LicenseID)
		fmt.Fprintf(w, "Customer:    %s\n", info.CustomerEmail)
		if info.IssuedAt != nil {
			fmt.Fprintf(w, "Issued:      %s\n", info.IssuedAt.Format(time.DateOnly))
		}
		devices := fmt.Sprintf("%d of %d", info.DevicesUsed, info.DeviceLimit)
		if info.UnlimitedDevices {
			devices = fmt.Sprintf("%d (unlimited)", info.DevicesUsed)
		}
		fmt.Fprintf(w, "Devices:     %s\n", devices)
		fmt.Fprintf(w, "Commercial:  %s\n", yesNo(info.CommercialUse))
		fmt.Fprintf(w, "Trial used:  %s\n", yesNo(info.TrialUsed))
		if info.FingerprintDegraded {
			fmt.Fprintln(w, "Warning:     machine identity uses the fallback method")
		}
	})
	return apierrors.ExitOK
}

func (c *cli) trial(ctx context.Context, m *license.Manager, out *printer) int {
	rec, err := m.StartTrial(ctx)
	if err != nil {
		return c.fail(err)
	}
	out.print(recordView(rec), func(w io.Writer) {
		fmt.Fprintf(w, "Trial started.\n")
		printRecord(w, rec)
	})
	return apierrors.ExitOK
}

func (c *cli) fingerprint(ctx context.Context, m *license.Manager, out *printer) int {
	fp, err := m.Fingerprint(ctx)
	if err != nil {
		fmt.Fprintf(c.stderr, "error: %v\n", err)
		return apierrors.ExitFailure
	}
	out.print(map[string]interface{}{
		"fingerprint": fp.Fingerprint,
		"method":      fp.Method,
		"degraded":    fp.Degraded,
	}, func(w io.Writer) {
		fmt.Fprintln(w, fp.Fingerprint)
		if fp.Degraded {
			fmt.Fprintf(w, "(method: %s; network identity unavailable)\n", fp.Method)
		}
	})
	return apierrors.ExitOK
}

// stateExitCode lets scripts branch on `license status`
func stateExitCode(state license.State) int {
	switch state {
	case license.StateValid:
		return apierrors.ExitOK
	case license.StateExpired:
		return apierrors.ExitExpired
	case license.StateInvalidSignature:
		return apierrors.ExitInvalidSignature
	case license.StateDeviceMismatch:
		return apierrors.ExitDeviceMismatch
	case license.StateDeactivated, license.StateNoLicense:
		return apierrors.ExitNotActivated
	default:
		return apierrors.ExitFailure
	}
}

// printer writes either JSON or human text
type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) print(v interface{}, text func(io.Writer)) {
	if p.json {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	text(p.w)
}

func recordView(rec *license.Record) map[string]interface{} {
	view := map[string]interface{}{
		"license_id":     rec.LicenseID,
		"customer_email": license.MaskEmail(rec.CustomerEmail),
		"tier":           rec.Tier,
		"issued_at":      rec.IssuedAt,
		"device_limit":   rec.Tier.DeviceLimit(),
		"commercial_use": rec.Tier.CommercialUse(),
	}
	if rec.ExpiresAt != nil {
		view["expires_at"] = rec.ExpiresAt
	}
	if days := rec.DaysRemaining(time.Now()); days != nil {
		view["days_remaining"] = *days
	}
	return view
}

func printRecord(w io.Writer, rec *license.Record) {
	fmt.Fprintf(w, "Tier:        %s\n", rec.Tier)
	fmt.Fprintf(w, "Expires:     %s\n", expiryText(rec.ExpiresAt, rec.DaysRemaining(time.Now())))
}

func printStatus(w io.Writer, status license.Status) {
	fmt.Fprintf(w, "Status:      %s\n", strings.ReplaceAll(string(status.State), "_", " "))
	if status.Tier != "" {
		fmt.Fprintf(w, "Tier:        %s\n", status.Tier)
		fmt.Fprintf(w, "Expires:     %s\n", expiryText(status.ExpiresAt, status.DaysRemaining))
	}
	if status.Message != "" {
		fmt.Fprintf(w, "Note:        %s\n", status.Message)
	}
}

func expiryText(expiresAt *time.Time, days *int) string {
	if expiresAt == nil {
		return "never"
	}
	text := expiresAt.Format(time.DateOnly)
	if days != nil {
		text += fmt.Sprintf(" (%d days remaining)", *days)
	}
	return text
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
