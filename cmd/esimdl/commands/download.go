package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/drunlade/go-esimdl/esim"
	"github.com/drunlade/go-esimdl/internal/config"
	"github.com/drunlade/go-esimdl/internal/tui"
)

func downloadCmd() *cobra.Command {
	var (
		smdp             string
		matchingID       string
		confirmationCode string
		lpa              string
		plain            bool
		sshInsecure      bool
	)

	cmd := &cobra.Command{
		Use:   "download <modem-id>",
		Short: "Download an eSIM profile onto a modem",
		Long: `Download an eSIM profile onto a modem.

The SM-DP+ address and matching ID are given either separately or as an
LPA activation code:

  esimdl download 8e1f... --smdp rsp.example.com --matching-id ABC-123
  esimdl download 8e1f... --lpa 'LPA:1$rsp.example.com$ABC-123'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := buildPayload(lpa, smdp, matchingID, confirmationCode)
			if err != nil {
				return err
			}
			if !esim.ValidTarget(args[0]) {
				return fmt.Errorf("invalid modem id %q", args[0])
			}
			usePlain := plain || cfg.UI.Mode == config.ModePlain || !isTerminal(os.Stdout)
			return runDownload(cmd.Context(), strings.TrimSpace(args[0]), payload, usePlain, sshInsecure)
		},
	}

	f := cmd.Flags()
	f.StringVar(&smdp, "smdp", "", "SM-DP+ server address")
	f.StringVar(&matchingID, "matching-id", "", "activation code (matching ID)")
	f.StringVar(&confirmationCode, "confirmation-code", "", "confirmation code, if already known")
	f.StringVar(&lpa, "lpa", "", "LPA activation code (LPA:1$<smdp>$<matching id>)")
	f.BoolVar(&plain, "plain", false, "line-oriented output instead of the interactive dialog")
	f.String("ssh-host", "", "reach the server through this SSH host (host[:port])")
	f.String("ssh-user", "", "SSH user name")
	f.String("ssh-known-hosts", "", "known_hosts file for SSH host key verification")
	f.BoolVar(&sshInsecure, "ssh-insecure", false, "skip SSH host key verification")
	cmd.MarkFlagsMutuallyExclusive("lpa", "smdp")
	cmd.MarkFlagsMutuallyExclusive("lpa", "matching-id")

	return cmd
}

// buildPayload assembles the start parameters from either an LPA activation
// code or the separate flags
func buildPayload(lpa, smdp, matchingID, confirmationCode string) (esim.Payload, error) {
	var payload esim.Payload
	if strings.TrimSpace(lpa) != "" {
		code, err := esim.ParseActivationCode(lpa)
		if err != nil {
			return esim.Payload{}, err
		}
		if code.ConfirmationCodeRequired && strings.TrimSpace(confirmationCode) == "" {
			fmt.Fprintln(os.Stderr, "Note: this activation code requires a confirmation code; you will be asked for it.")
		}
		payload = code.Payload(confirmationCode)
	} else {
		payload = esim.Payload{
			SMDP:             smdp,
			ActivationCode:   matchingID,
			ConfirmationCode: confirmationCode,
		}.Normalize()
	}

	if err := payload.Validate(); err != nil {
		return esim.Payload{}, err
	}
	return payload, nil
}

func runDownload(parent context.Context, target string, payload esim.Payload, plain, sshInsecure bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, closeLog, err := openLogger(plain, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	transport := esim.NewWebSocketTransport(cfg.Session(), tokenSource(), logger)
	if cfg.SSH.Host != "" {
		tunnel, err := openTunnel(sshInsecure)
		if err != nil {
			return err
		}
		defer tunnel.Close()
		transport.NetDialContext = tunnel.DialContext
	}

	callbacks := &esim.Callbacks{
		OnError: func(err error, context string) {
			logger.Error("%s: %v", context, err)
		},
	}
	opts := []esim.Option{
		esim.WithConfig(cfg.Session()),
		esim.WithSessionLogger(logger),
		esim.WithTransport(transport),
		esim.WithContext(parent),
	}

	if plain {
		return downloadPlain(ctx, target, payload, callbacks, opts)
	}
	return downloadTUI(ctx, target, payload, callbacks, opts)
}

func downloadPlain(ctx context.Context, target string, payload esim.Payload, callbacks *esim.Callbacks, opts []esim.Option) error {
	changes := make(chan esim.Snapshot, 32)
	done := make(chan struct{})
	callbacks.OnChange = func(snap esim.Snapshot) {
		select {
		case changes <- snap:
		case <-done:
		}
	}

	session := esim.NewSession(target, append(opts, esim.WithCallbacks(callbacks))...)
	defer session.Close()
	defer close(done)

	fmt.Fprintf(os.Stderr, "Downloading profile onto modem %s\n", target)
	_, err := runPlain(ctx, session, payload, changes, newPrompter(os.Stdin, os.Stderr))
	return err
}

func downloadTUI(ctx context.Context, target string, payload esim.Payload, callbacks *esim.Callbacks, opts []esim.Option) error {
	fwd := &tui.Forwarder{}
	callbacks.OnChange = fwd.OnChange

	session := esim.NewSession(target, append(opts, esim.WithCallbacks(callbacks))...)
	defer session.Close()

	final, err := tui.Run(ctx, session, fwd, target, payload)
	if ctx.Err() != nil {
		// interrupted: make sure the server stops the download
		session.CancelDownload()
		return errCancelled
	}
	if err != nil {
		return err
	}
	if final.Err() != nil {
		return final.Err()
	}

	snap := final.Snapshot()
	switch snap.State {
	case esim.StateCompleted:
		if name := snap.DownloadedName(); name != "" {
			fmt.Printf("Profile %q installed on modem %s\n", name, target)
		} else {
			fmt.Printf("Profile installed on modem %s\n", target)
		}
		return nil
	case esim.StateError:
		return downloadError(snap)
	default:
		return errCancelled
	}
}

// openTunnel connects to the configured SSH host. The password comes from
// ESIMDL_SSH_PASSWORD or is read from the terminal.
func openTunnel(insecure bool) (*esim.SSHTunnel, error) {
	if cfg.SSH.User == "" {
		return nil, errors.New("--ssh-user is required with --ssh-host")
	}

	addr := cfg.SSH.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	password := os.Getenv("ESIMDL_SSH_PASSWORD")
	if password == "" {
		if !stdinIsTerminal() {
			return nil, errors.New("ESIMDL_SSH_PASSWORD is required when stdin is not a terminal")
		}
		fmt.Fprintf(os.Stderr, "%s@%s's password: ", cfg.SSH.User, addr)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		password = string(b)
	}

	knownHosts := cfg.SSH.KnownHosts
	if insecure {
		knownHosts = ""
	}
	sshConfig, err := esim.SSHClientConfig(cfg.SSH.User, password, knownHosts)
	if err != nil {
		return nil, err
	}
	return esim.DialSSHTunnel(addr, sshConfig)
}
