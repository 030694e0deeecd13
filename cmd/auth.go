package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/redact-cli/config"
	"github.com/otherjamesbrown/redact-cli/credentials"
)

// TokenStore is the subset of *credentials.Store the auth commands use.
type TokenStore interface {
	Save(creds *credentials.Credentials) error
	Load() (*credentials.Credentials, error)
	Delete() error
	ActiveToken() (string, credentials.Source, error)
	KeyDescription() string
	Path() string
}

// AuthCommandDeps holds the dependencies for the auth commands.
type AuthCommandDeps struct {
	LoadConfig func() (*config.CLIConfig, error)
	OpenStore  func() (TokenStore, error)
	// ReadSecret prompts for the token without echo.
	ReadSecret func(prompt string) (string, error)
	Stdin      io.Reader
	Out        io.Writer
}

// DefaultAuthDeps returns the default dependencies for production use.
func DefaultAuthDeps() *AuthCommandDeps {
	return &AuthCommandDeps{
		LoadConfig: config.LoadConfig,
		OpenStore: func() (TokenStore, error) {
			return credentials.NewStore()
		},
		ReadSecret: readSecret,
		Stdin:      os.Stdin,
		Out:        os.Stdout,
	}
}

func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NewAuthCommand creates the auth command group.
func NewAuthCommand(deps *AuthCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultAuthDeps()
	}

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the PII Analysis Service token",
		Long: `Manage the bearer token sent to the PII Analysis Service.

The token is stored in ~/.redact/credentials.yaml, encrypted with a key held
in the system keyring. On hosts without a keyring, set REDACT_PASSPHRASE or
REDACT_ENCRYPTION_KEY. REDACT_API_TOKEN overrides the stored token.`,
	}

	cmd.AddCommand(newAuthSetTokenCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))
	cmd.AddCommand(newAuthClearCommand(deps))
	return cmd
}

func newAuthSetTokenCommand(deps *AuthCommandDeps) *cobra.Command {
	var token string
	var nonInteractive bool

	cmd := &cobra.Command{
		Use:   "set-token",
		Short: "Store the analyzer token",
		Example: `  redact auth set-token
  echo "$TOKEN" | redact auth set-token --non-interactive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			switch {
			case token != "":
			case nonInteractive:
				line, err := bufio.NewReader(deps.Stdin).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("reading token: %w", err)
				}
				token = line
			default:
				if token, err = deps.ReadSecret("Analyzer token: "); err != nil {
					return fmt.Errorf("reading token: %w", err)
				}
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("token must not be empty")
			}

			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("opening credential store: %w", err)
			}
			if err := store.Save(&credentials.Credentials{AnalyzerToken: token, AnalyzerURL: cfg.AnalyzerURL}); err != nil {
				return err
			}
			fmt.Fprintf(deps.Out, "Token %s saved to %s\n", credentials.MaskToken(token), store.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Token value (visible in shell history; prefer the prompt)")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Read the token from stdin")
	return cmd
}

type authStatus struct {
	Configured  bool   `json:"configured" yaml:"configured"`
	Source      string `json:"source,omitempty" yaml:"source,omitempty"`
	Token       string `json:"token,omitempty" yaml:"token,omitempty"`
	AnalyzerURL string `json:"analyzer_url" yaml:"analyzer_url"`
	StoredFor   string `json:"stored_for,omitempty" yaml:"stored_for,omitempty"`
	Key         string `json:"key" yaml:"key"`
	Path        string `json:"path" yaml:"path"`
}

func newAuthStatusCommand(deps *AuthCommandDeps) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which token will be used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			format, err := outputFormat(cfg, output)
			if err != nil {
				return err
			}
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("opening credential store: %w", err)
			}

			token, source, err := store.ActiveToken()
			if err != nil {
				return err
			}
			st := authStatus{
				Configured:  token != "",
				Source:      string(source),
				Token:       credentials.MaskToken(token),
				AnalyzerURL: cfg.AnalyzerURL,
				Key:         store.KeyDescription(),
				Path:        store.Path(),
			}
			if source == credentials.SourceStore {
				if creds, err := store.Load(); err == nil {
					st.StoredFor = creds.AnalyzerURL
				}
			}

			return writeOutput(deps.Out, format, st, func(w io.Writer) error {
				if !st.Configured {
					fmt.Fprintln(w, "No token configured. Requests are sent without Authorization.")
				} else {
					fmt.Fprintf(w, "Token:     %s (from %s)\n", st.Token, st.Source)
				}
				fmt.Fprintf(w, "Analyzer:  %s\n", st.AnalyzerURL)
				if st.StoredFor != "" && st.StoredFor != st.AnalyzerURL {
					fmt.Fprintf(w, "Warning:   token was stored for %s\n", st.StoredFor)
				}
				fmt.Fprintf(w, "Key:       %s\n", st.Key)
				fmt.Fprintf(w, "File:      %s\n", st.Path)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newAuthClearCommand(deps *AuthCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("opening credential store: %w", err)
			}
			if err := store.Delete(); err != nil {
				return err
			}
			fmt.Fprintln(deps.Out, "Stored token removed.")
			if os.Getenv(credentials.EnvToken) != "" {
				fmt.Fprintf(deps.Out, "%s is still set and will be used.\n", credentials.EnvToken)
			}
			return nil
		},
	}
}
