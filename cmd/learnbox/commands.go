package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jrsteele09/learnbox-auth/identity"
	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/session"
	"github.com/jrsteele09/learnbox-auth/tenants"
	"github.com/jrsteele09/learnbox-auth/tokenstore"
	"golang.org/x/term"
)

const commandHelp = `  signup <email> <username> [college]   create an account and send a verification email
  login <email> [college]                sign in, optionally scoped to a college id
  logout                                 end the session on this device
  status                                 show the session state
  verify [code]                          re-check email verification (dev: apply code first)
  resend                                 resend the verification email
  reset-password <email>                 email a password reset code
  confirm-reset <code>                   set a new password with a reset code
  colleges                               list colleges
  select <college|none>                  change the selected college
  token                                  show the stored token record
  refresh                                rotate the access token
  mail                                   dev: show sent verification and reset messages
  help                                   show this list
  quit                                   leave the prompt
`

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
)

var stdin = bufio.NewReader(os.Stdin)

func (a *app) repl(ctx context.Context) error {
	fmt.Println("Type help for commands.")
	for {
		cyan.Print("learnbox> ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}
		if err := a.exec(ctx, args); err != nil {
			red.Printf("error: %s\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (a *app) exec(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	before := a.orch.Snapshot().Seq
	switch cmd {
	case "help":
		fmt.Print(commandHelp)
		return nil

	case "signup":
		if len(rest) < 2 {
			return errors.New("usage: signup <email> <username> [college]")
		}
		secret, err := readSecret("Password: ")
		if err != nil {
			return err
		}
		return a.outcome(before, a.orch.SignUp(ctx, session.SignUpRequest{
			Credential: identity.Credential{Email: rest[0], Secret: secret},
			Username:   rest[1],
			Selection:  selectionArg(rest, 2),
		}))

	case "login":
		if len(rest) < 1 {
			return errors.New("usage: login <email> [college]")
		}
		secret, err := readSecret("Password: ")
		if err != nil {
			return err
		}
		return a.outcome(before, a.orch.SignIn(ctx, identity.Credential{Email: rest[0], Secret: secret}, selectionArg(rest, 1)))

	case "logout":
		return a.outcome(before, a.orch.Logout(ctx))

	case "status":
		printSnapshot(a.orch.Snapshot())
		return nil

	case "verify":
		if len(rest) > 0 {
			if a.devProvider == nil {
				return errors.New("verification codes are applied from the email link")
			}
			if err := a.devProvider.ApplyVerificationCode(rest[0]); err != nil {
				return err
			}
		}
		return a.outcome(before, a.orch.CheckVerification(ctx))

	case "resend":
		return a.outcome(before, a.orch.ResendVerification(ctx))

	case "reset-password":
		if len(rest) < 1 {
			return errors.New("usage: reset-password <email>")
		}
		if err := a.identity.RequestPasswordReset(ctx, rest[0]); err != nil {
			return userError(err)
		}
		green.Println("If the address is registered, a reset email is on its way.")
		return nil

	case "confirm-reset":
		if len(rest) < 1 {
			return errors.New("usage: confirm-reset <code>")
		}
		secret, err := readSecret("New password: ")
		if err != nil {
			return err
		}
		if err := a.identity.ConfirmPasswordReset(ctx, rest[0], secret); err != nil {
			return userError(err)
		}
		green.Println("Password updated. You can now log in.")
		return nil

	case "colleges":
		list, err := a.directory.List(ctx)
		if err != nil {
			return err
		}
		for _, t := range list {
			fmt.Printf("  %-4d %-8s %s\n", t.ID, t.Code, t.Name)
		}
		return nil

	case "select":
		if len(rest) < 1 {
			return errors.New("usage: select <college|none>")
		}
		return a.outcome(before, a.orch.Revalidate(ctx, tenants.Selection(rest[0])))

	case "token":
		rec, err := a.store.Load(ctx)
		if errors.Is(err, tokenstore.ErrEmpty) {
			yellow.Println("No stored session.")
			return nil
		}
		if err != nil {
			return err
		}
		printRecord(rec)
		return nil

	case "refresh":
		if err := a.orch.Refresh(ctx); err != nil {
			return a.outcome(before, err)
		}
		green.Println("Access token refreshed.")
		return nil

	case "mail":
		if a.devProvider == nil {
			return errors.New("mail is only available with the dev provider")
		}
		for _, m := range a.devProvider.Outbox() {
			fmt.Printf("  %s  %-18s %-32s code=%s\n", m.SentAt.Format(time.Kitchen), m.Kind, m.To, m.Code)
		}
		return nil
	}
	return fmt.Errorf("unknown command %q, try help", cmd)
}

// outcome drops errors whose resulting state the observer already printed.
// A session error that published nothing is reported by its message.
func (a *app) outcome(before uint64, err error) error {
	if err == nil || errors.Is(err, session.ErrSuperseded) {
		return nil
	}
	var serr *session.Error
	if !errors.As(err, &serr) {
		return err
	}
	if a.orch.Snapshot().Seq != before {
		return nil
	}
	return errors.New(serr.Message)
}

func userError(err error) error {
	var idErr *identity.Error
	if errors.As(err, &idErr) {
		return errors.New(idErr.Message())
	}
	return err
}

func selectionArg(args []string, i int) tenants.Selection {
	if len(args) > i {
		return tenants.Selection(args[i])
	}
	return tenants.SelectionNone
}

func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// render is the session observer for the terminal.
func render(s session.Snapshot) {
	printSnapshot(s)
}

func printSnapshot(s session.Snapshot) {
	switch s.State {
	case session.StateAuthenticated:
		green.Printf("● %s", s.State)
		fmt.Printf("  %s (%s)", s.Profile.DisplayName(), s.Profile.PrimaryRole())
		if !s.Selection.IsNone() {
			gray.Printf("  college %s", s.Selection)
		}
		fmt.Println()
	case session.StateAuthenticating:
		cyan.Printf("● %s", s.State)
		gray.Printf("  %s\n", s.Email)
	case session.StatePendingVerification:
		yellow.Printf("● %s", s.State)
		fmt.Printf("  %s\n", s.Message)
	case session.StateTenantMismatch, session.StateError:
		red.Printf("● %s", s)
		fmt.Printf("  %s\n", s.Message)
	default:
		gray.Printf("● %s", s.State)
		if s.Message != "" {
			fmt.Printf("  %s", s.Message)
		}
		fmt.Println()
	}
}

func printRecord(rec *tokenstore.Record) {
	fmt.Printf("  user     %s <%s>\n", rec.User.Username, rec.User.Email)
	fmt.Printf("  roles    %v\n", rec.User.Roles)
	fmt.Printf("  access   %s\n", abbreviate(rec.Tokens.Access))
	fmt.Printf("  refresh  %s\n", abbreviate(rec.Tokens.Refresh))
	if exp, ok := rec.Tokens.AccessExpiry(); ok {
		fmt.Printf("  expires  %s", exp.Local().Format(time.RFC3339))
		if rec.Tokens.AccessExpired(time.Now()) {
			red.Println("  expired, run refresh")
		} else {
			fmt.Printf(" (%s)\n", time.Until(exp).Round(time.Second))
		}
	}
	gray.Printf("  saved    %s\n", rec.SavedAt.Local().Format(time.RFC3339))
}

func abbreviate(s string) string {
	if len(s) <= 24 {
		return s
	}
	return s[:12] + "…" + s[len(s)-8:]
}
