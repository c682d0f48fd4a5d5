package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	consolefmt "github.com/greg-hellings/datadash/pkg/report/format"
	"github.com/greg-hellings/datadash/pkg/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type loginFlags struct {
	username      string
	passwordStdin bool
}

func newLoginCmd(a *app) *cobra.Command {
	var flags loginFlags
	c := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Long: strings.TrimSpace(`
Verify a username and password against the backend and store the session.
The password is read without echo from the terminal, or from standard input
with --password-stdin.

Examples:
  datadash login -u demo
  echo "$PASSWORD" | datadash login -u demo --password-stdin
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLogin(cmd, flags)
		},
	}
	c.Flags().StringVarP(&flags.username, "username", "u", "", "Username (prompted when empty)")
	c.Flags().BoolVar(&flags.passwordStdin, "password-stdin", false, "Read the password from standard input")
	return c
}

func (a *app) runLogin(cmd *cobra.Command, flags loginFlags) error {
	reader := bufio.NewReader(a.in)

	username := strings.TrimSpace(flags.username)
	if username == "" {
		fmt.Fprint(a.errOut, "Username: ")
		line, err := readLine(reader)
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = line
	}

	password, err := a.readPassword(reader, flags.passwordStdin)
	if err != nil {
		return err
	}
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}

	svc, err := a.services()
	if err != nil {
		return err
	}
	ctx, cancel := a.commandContext(cmd.Context())
	defer cancel()

	if err := svc.client.Login(ctx, svc.store, username, password); err != nil {
		return err
	}
	a.logger.Info("Logged in", "username", username, "api_base_url", svc.client.BaseURL())
	fmt.Fprintf(a.out, "Logged in as %s\n", username)
	return nil
}

// readPassword reads without echo when stdin is a terminal, otherwise one line.
func (a *app) readPassword(reader *bufio.Reader, fromStdin bool) (string, error) {
	if f, ok := a.in.(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.errOut, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.errOut)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	if !fromStdin {
		fmt.Fprint(a.errOut, "Password: ")
	}
	line, err := readLine(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return line, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.sessionStore()
			if err := store.Clear(); err != nil {
				return fmt.Errorf("failed to clear session: %w", err)
			}
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

type whoami struct {
	Username   string `json:"username" yaml:"username" toml:"username"`
	UserID     int    `json:"user_id" yaml:"user_id" toml:"user_id"`
	APIBaseURL string `json:"api_base_url" yaml:"api_base_url" toml:"api_base_url"`
	Credential string `json:"credential" yaml:"credential" toml:"credential"`
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services()
			if err != nil {
				return err
			}
			ctx, cancel := a.commandContext(cmd.Context())
			defer cancel()

			user, err := svc.client.Me(ctx)
			if err != nil {
				return err
			}
			cred, _ := svc.store.Credential()
			stored := svc.store.Username()
			if credUser, _, perr := session.ParseCredential(cred); perr != nil || credUser != stored || credUser != user.Username {
				a.logger.Warn("Stored session does not match the signed-in user",
					"stored_username", stored, "credential_username", credUser, "server_username", user.Username, "error", perr)
				fmt.Fprintf(a.errOut, "Warning: stored session is for %q but the server signed in %q; run 'datadash login' again\n", stored, user.Username)
			}
			info := whoami{
				Username:   user.Username,
				UserID:     user.ID,
				APIBaseURL: svc.client.BaseURL(),
				Credential: session.RedactCredential(cred),
			}
			return a.emit(info, func(_ *consolefmt.ConsoleFormatter, w io.Writer) error {
				fmt.Fprintf(w, "Username:   %s\n", info.Username)
				fmt.Fprintf(w, "API:        %s\n", info.APIBaseURL)
				_, err := fmt.Fprintf(w, "Credential: %s\n", info.Credential)
				return err
			})
		},
	}
}
