package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/autherr"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"login":               loginCommand,
	"register":            registerCommand,
	"social":              socialCommand,
	"restore":             restoreCommand,
	"refresh":             refreshCommand,
	"logout":              logoutCommand,
	"whoami":              whoamiCommand,
	"verify-email":        verifyEmailCommand,
	"resend-verification": resendVerificationCommand,
}

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprint(os.Stderr, usage)
		return errors.Errorf("unknown command %q", name)
	}
	return cmd(ctx, a, args)
}

func loginCommand(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password, prompted when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := prompt(email, "email"); err != nil {
		return err
	}
	if err := prompt(password, "password"); err != nil {
		return err
	}

	result, err := a.store.Login(ctx, *email, *password)
	if err != nil {
		return describe(err)
	}
	if result.RequiresEmailVerification {
		fmt.Println("Check your inbox: the email address must be verified before signing in.")
		return nil
	}
	return printUser(a.store)
}

func registerCommand(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var form sessions.RegistrationForm
	fs.StringVar(&form.Email, "email", "", "account email")
	fs.StringVar(&form.Password, "password", "", "account password")
	fs.StringVar(&form.FirstName, "first-name", "", "first name")
	fs.StringVar(&form.LastName, "last-name", "", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := prompt(&form.Email, "email"); err != nil {
		return err
	}
	if err := prompt(&form.Password, "password"); err != nil {
		return err
	}
	form.Password2 = form.Password

	result, err := a.store.Register(ctx, form)
	if err != nil {
		return describe(err)
	}
	if result.RequiresEmailVerification {
		fmt.Println("Account created. Follow the link in the verification email, then run verify-email.")
		return nil
	}
	return printUser(a.store)
}

func socialCommand(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("social", flag.ContinueOnError)
	provider := fs.String("provider", "google", "google or microsoft")
	if err := fs.Parse(args); err != nil {
		return err
	}

	negotiator, stop, err := a.negotiator(ctx)
	if err != nil {
		return err
	}
	defer stop()

	fmt.Printf("Complete the %s sign in in your browser (Ctrl+C to abort).\n", *provider)
	if err := negotiator.Login(ctx, *provider); err != nil {
		return describe(err)
	}
	return printUser(a.store)
}

func restoreCommand(ctx context.Context, a *app, _ []string) error {
	if err := a.store.RestoreSession(ctx); err != nil {
		return describe(err)
	}
	if !a.store.IsAuthenticated() {
		fmt.Println("No stored session.")
		return nil
	}
	return printUser(a.store)
}

func refreshCommand(ctx context.Context, a *app, _ []string) error {
	if err := a.restored(ctx); err != nil {
		return err
	}
	if err := a.store.RefreshSessionTokens(ctx); err != nil {
		return describe(err)
	}
	fmt.Println("Session tokens rotated.")
	return nil
}

func logoutCommand(ctx context.Context, a *app, _ []string) error {
	if err := a.store.RestoreSession(ctx); err != nil {
		log.Debug().Err(err).Msg("stored session was already invalid")
	}
	a.store.Logout(ctx)
	fmt.Println("Signed out.")
	return nil
}

func whoamiCommand(ctx context.Context, a *app, _ []string) error {
	if err := a.restored(ctx); err != nil {
		return err
	}
	return printUser(a.store)
}

func verifyEmailCommand(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("verify-email", flag.ContinueOnError)
	key := fs.String("key", "", "verification key from the email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := prompt(key, "verification key"); err != nil {
		return err
	}

	result, err := a.store.VerifyEmail(ctx, *key)
	if err != nil {
		return describe(err)
	}
	if result.Conflict {
		fmt.Println("The email address is already verified.")
		return nil
	}
	fmt.Println("Email verified.")
	if a.store.IsAuthenticated() {
		return printUser(a.store)
	}
	return nil
}

func resendVerificationCommand(ctx context.Context, a *app, _ []string) error {
	result, err := a.store.ResendEmailVerification(ctx)
	if err != nil {
		return describe(err)
	}
	if result.Conflict {
		fmt.Println("A verification email was sent recently, try again later.")
		return nil
	}
	fmt.Println("Verification email sent.")
	return nil
}

// restored revalidates the stored session and requires one to exist.
func (a *app) restored(ctx context.Context) error {
	if err := a.store.RestoreSession(ctx); err != nil {
		return describe(err)
	}
	if !a.store.IsAuthenticated() {
		return errors.New("not signed in, run login or social first")
	}
	return nil
}

type whoami struct {
	State     string             `json:"state"`
	User      *sessions.AuthUser `json:"user,omitempty"`
	Profile   json.RawMessage    `json:"profile,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

func printUser(store *sessions.Store) error {
	out := whoami{
		State:   store.State().String(),
		User:    store.User(),
		Profile: store.Profile(),
	}
	if expiry, ok := store.AccessTokenExpiry(); ok {
		out.ExpiresAt = &expiry
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(out), "[printUser]")
}

// describe turns a normalized error into one line per field for the terminal.
func describe(err error) error {
	ae := autherr.Normalize(err)
	if len(ae.Fields) == 0 {
		return ae
	}
	fields := make([]string, 0, len(ae.Fields))
	for field := range ae.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	lines := []string{ae.Message}
	for _, field := range fields {
		lines = append(lines, fmt.Sprintf("  %s: %s", field, strings.Join(ae.Fields[field], "; ")))
	}
	return errors.New(strings.Join(lines, "\n"))
}

var stdin = bufio.NewReader(os.Stdin)

// prompt reads a line from stdin when *value is empty.
func prompt(value *string, label string) error {
	if *value != "" {
		return nil
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return errors.Wrapf(err, "read %s", label)
	}
	*value = strings.TrimSpace(line)
	return nil
}
