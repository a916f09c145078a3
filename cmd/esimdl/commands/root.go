// Package commands implements the esimdl command line.
package commands

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drunlade/go-esimdl/esim"
	"github.com/drunlade/go-esimdl/internal/config"
	"github.com/drunlade/go-esimdl/internal/tokenstore"
)

var (
	configPath string
	logFile    string
	verbose    bool

	cfg config.Config
)

// Execute runs the root command
func Execute() error {
	root := &cobra.Command{
		Use:           "esimdl",
		Short:         "Download eSIM profiles onto sigmo-managed modems",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			cfg = c
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.config/esimdl/config.toml)")
	pf.String("origin", "", "sigmo server address, e.g. http://10.10.10.101:9527")
	pf.String("api-base", "", "API location, absolute or relative to the origin (default /api/v1)")
	pf.Duration("timeout", 0, "WebSocket handshake timeout")
	pf.String("token", "", "API token (overrides the saved token)")
	pf.String("token-file", "", "token file location")
	pf.String("ui", "", "user interface: tui or plain")
	pf.StringVar(&logFile, "log", "", "session log file (for debugging)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log session activity to stderr in plain mode")

	root.AddCommand(downloadCmd(), tokenCmd())
	return root.Execute()
}

// openLogger returns the session logger and a function releasing it
func openLogger(plain bool, stderr io.Writer) (esim.Logger, func(), error) {
	switch {
	case logFile != "":
		l, err := esim.NewFileLogger(logFile)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { l.Close() }, nil
	case verbose && plain:
		return esim.NewWriterLogger(stderr), func() {}, nil
	default:
		return esim.NoopLogger{}, func() {}, nil
	}
}

func tokenStore() *tokenstore.Store {
	return tokenstore.New(cfg.Auth.TokenFile)
}

// tokenSource prefers a configured token over the saved one
func tokenSource() esim.TokenSource {
	store := tokenStore()
	configured := strings.TrimSpace(cfg.Auth.Token)
	return esim.TokenFunc(func() string {
		if configured != "" {
			return configured
		}
		return store.Token()
	})
}

func stdinIsTerminal() bool {
	return isTerminal(os.Stdin)
}
