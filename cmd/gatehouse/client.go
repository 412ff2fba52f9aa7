// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/session"
)

// clientFunc runs one client operation against a wired runtime.
type clientFunc func(ctx context.Context, cmd *cobra.Command, rt *runtime) error

// withClient wires a runtime whose one-time tokens are printed to the
// command output, runs fn, and tears the runtime down.
func withClient(flags *globalFlags, deps *Deps, fn clientFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, flags)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		rt, err := newRuntime(ctx, cfg, clientLogger(cmd, cfg, flags), deps, runtimeOptions{
			delivery: printDelivery(cmd.OutOrStdout()),
		})
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(ctx, cmd, rt)
	}
}

// printDelivery hands one-time tokens to the terminal user.
func printDelivery(w io.Writer) session.Delivery {
	return session.DeliveryFunc(func(_ context.Context, msg session.Message) error {
		label := "Verification"
		if msg.Kind == auth.OneTimePasswordReset {
			label = "Password reset"
		}
		_, err := fmt.Fprintf(w, "%s token for %s: %s (expires %s)\n",
			label, msg.Email, msg.Token, msg.ExpiresAt.Local().Format(time.RFC1123))
		return err //nolint:wrapcheck // terminal write
	})
}

// restored hydrates the persisted session and returns it, or an
// Unauthorized error when nobody is logged in.
func restored(ctx context.Context, rt *runtime) (session.Session, error) {
	if _, err := rt.manager.Restore(ctx); err != nil {
		return session.Session{}, err //nolint:wrapcheck // already coded
	}
	cur, ok := rt.manager.Current()
	if !ok {
		return session.Session{}, auth.NewUnauthorizedError("not logged in")
	}
	return cur, nil
}

func printUser(cmd *cobra.Command, u auth.PublicUser) {
	cmd.Printf("ID:       %s\n", u.ID)
	cmd.Printf("Email:    %s\n", u.Email)
	cmd.Printf("Role:     %s\n", u.Role)
	cmd.Printf("Verified: %t\n", u.EmailVerified)
	p := u.Profile
	for _, field := range []struct{ name, value string }{
		{auth.FieldFirstName, p.FirstName},
		{auth.FieldLastName, p.LastName},
		{auth.FieldPhone, p.Phone},
		{auth.FieldBusinessName, p.BusinessName},
		{auth.FieldBusinessType, p.BusinessType},
	} {
		if field.value != "" {
			cmd.Printf("%-9s %s\n", field.name+":", field.value)
		}
	}
}

func newClientCmds(flags *globalFlags, deps *Deps) []*cobra.Command {
	return []*cobra.Command{
		newRegisterCmd(flags, deps),
		newLoginCmd(flags, deps),
		newLogoutCmd(flags, deps),
		newWhoamiCmd(flags, deps),
		newRefreshCmd(flags, deps),
		newPasswordResetCmd(flags, deps),
		newVerifyEmailCmd(flags, deps),
		newProfileCmd(flags, deps),
		newAuditCmd(flags, deps),
	}
}

func newRegisterCmd(flags *globalFlags, deps *Deps) *cobra.Command {
	var in auth.RegistrationInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = withClient(flags, deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
		res, err := rt.manager.Register(ctx, in)
		if err != nil {
			return err //nolint:wrapcheck // already coded
		}
		cmd.Printf("Registered and logged in as %s\n", res.User.Email)
		return nil
	})

	f := cmd.Flags()
	f.StringVar(&in.Email, "email", "", "email address")
	f.StringVar(&in.Password, "password", "", "password")
	f.StringVar(&in.ConfirmPassword, "confirm", "", "password confirmation")
	f.StringVar(&in.Role, "role", string(auth.RoleIndividual), "individual or business")
	f.StringVar(&in.Profile.FirstName, "first-name", "", "first name")
	f.StringVar(&in.Profile.LastName, "last-name", "", "last name")
	f.StringVar(&in.Profile.Phone, "phone", "", "phone number")
	f.StringVar(&in.Profile.BusinessName, "business-name", "", "business name")
	f.StringVar(&in.Profile.BusinessType, "business-type", "", "business type")
	f.StringVar(&in.Profile.TaxID, "tax-id", "", "tax identifier")
	return cmd
}

func newLoginCmd(flags *globalFlags, deps *Deps) *cobra.Command {
	var in session.LoginInput
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the session",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = withClient(flags, deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
		res, err := rt.manager.Login(ctx, in)
		if err != nil {
			return err //nolint:wrapcheck // already coded
		}
		cmd.Printf("Logged in as %s until %s\n", res.User.Email, res.Tokens.RefreshExpiresAt.Local().Format(time.RFC1123))
		return nil
	})

	f := cmd.Flags()
	f.StringVar(&in.Email, "email", "", "email address")
	f.StringVar(&in.Password, "password", "", "password")
	f.BoolVar(&in.Remember, "remember", false, "keep the session for the extended lifetime")
	return cmd
}

func newLogoutCmd(flags *globalFlags, deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the persisted session",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = withClient(flags, deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
		if _, err := rt.manager.Restore(ctx); err != nil {
			return err //nolint:wrapcheck // already coded
		}
		if rt.manager.State() == session.Unauthenticated {
			cmd.Println("Not logged in")
			return nil
		}
		rt.manager.Logout(ctx)
		cmd.Println("Logged out")
		return nil
	})
	return cmd
}

func newWhoamiCmd(flags *globalFlags, deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = withClient(flags, deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
		cur, err := restored(ctx, rt)
		if auth.IsKind(err, auth.KindUnauthorized) {
			cmd.Println("Not logged in")
			return nil
		}
		if err != nil {
			return err
		}
		printUser(cmd, cur.User)
		cmd.Printf("Access:   valid until %s\n", cur.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	})
	return cmd
}

func newRefreshCmd(flags *globalFlags, deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Mint a new access token from the refresh token",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = withClient(flags, deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
		if _, err := restored(ctx, rt); err != nil {
			return err
		}
		s, err := rt.manager.RefreshAccessToken(ctx)
		if err != nil {
			return err //nolint:wrapcheck // already coded
		}
		if s == nil {
			return auth.NewUnauthorizedError("session ended, log in again")
		}
		cmd.Printf("Access token valid until %s\n", s.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	})
	return cmd
}

func newPasswordResetCmd(flags *globalFlags, deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password-reset",
		Short: "Recover access to an account",
	}

	var email string
	request := &cobra.Command{
		Use:   "request",
		Short: "Issue a password reset token",
		Args:  cobra.NoArgs,
	}
	request.RunE = withClient(flags, deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
		if err := rt.manager.RequestPasswordReset(ctx, email); err != nil {
			return err //nolint:wrapcheck // already coded
		}
		cmd.Println("If the account exists, a reset token has been issued")
		return nil
	})
	request.Flags().StringVar(&email, "email", "", "account email")

	var token, password, confirm string
	complete := &cobra.Command{
		Use:   "complete",
		Short: "Set a new password with a reset token",
		Args:  cobra.NoArgs,
	}
	complete.RunE = withClient(flags, deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
		if err := rt.manager.ResetPassword(ctx, token, password, confirm); err != nil {
			return err //nolint:wrapcheck // already coded
		}
		cmd.Println("Password updated")
		return nil
	})
	complete.Flags().StringVar(&token, "token", "", "reset token")
	complete.Flags().StringVar(&password, "password", "", "new password")
	complete.Flags().StringVar(&confirm, "confirm", "", "new password confirmation")

	cmd.AddCommand(request, complete)
	return cmd
}

func newVerifyEmailCmd(flags *globalFlags, deps *Deps) *cobra.Command {
	var token, userID string
	var resend bool
	cmd := &cobra.Command{
		Use:   "verify-email",
		Short: "Confirm the email address with a verification token",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = withClient(flags, deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
		if resend {
			if _, err := restored(ctx, rt); err != nil {
				return err
			}
			return rt.manager.ResendVerification(ctx) //nolint:wrapcheck // already coded
		}
		if userID == "" {
			cur, err := restored(ctx, rt)
			if err != nil {
				return oops.With("hint", "pass --user-id when not logged in").Wrap(err)
			}
			userID = cur.User.ID
		} else if _, err := rt.manager.Restore(ctx); err != nil {
			return err //nolint:wrapcheck // already coded
		}
		if !rt.manager.VerifyEmail(ctx, userID, token) {
			return auth.NewInvalidTokenError("verification failed")
		}
		cmd.Println("Email verified")
		return nil
	})
	cmd.Flags().StringVar(&token, "token", "", "verification token")
	cmd.Flags().StringVar(&userID, "user-id", "", "account ID (default: the logged-in user)")
	cmd.Flags().BoolVar(&resend, "resend", false, "issue a new verification token instead")
	return cmd
}

func newProfileCmd(flags *globalFlags, deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the logged-in user's profile",
	}

	set := &cobra.Command{
		Use:   "set KEY=VALUE...",
		Short: "Update profile fields",
		Long: fmt.Sprintf(`Update profile fields. Allowed keys: %s.`, strings.Join([]string{
			auth.FieldFirstName, auth.FieldLastName, auth.FieldPhone,
			auth.FieldBusinessName, auth.FieldBusinessType,
		}, ", ")),
		Args: cobra.MinimumNArgs(1),
	}
	set.RunE = func(cmd *cobra.Command, args []string) error {
		fields, err := parseAssignments(args)
		if err != nil {
			return err
		}
		update, err := auth.ParseProfileUpdate(fields)
		if err != nil {
			return err //nolint:wrapcheck // already coded
		}
		return withClient(flags, deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
			cur, err := restored(ctx, rt)
			if err != nil {
				return err
			}
			pub, err := rt.manager.UpdateProfile(ctx, cur.User.ID, update)
			if err != nil {
				return err //nolint:wrapcheck // already coded
			}
			printUser(cmd, *pub)
			return nil
		})(cmd, args)
	}

	cmd.AddCommand(set)
	return cmd
}

// parseAssignments splits key=value arguments.
func parseAssignments(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, auth.NewValidationError(arg + ": expected key=value")
		}
		fields[key] = value
	}
	return fields, nil
}

func newAuditCmd(flags *globalFlags, deps *Deps) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent audited actions of the logged-in user",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = withClient(flags, deps, func(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
		if rt.backend.History == nil {
			return oops.Code("AUDIT_UNAVAILABLE").
				With("driver", rt.cfg.Store.Driver).
				Errorf("the %s store keeps no audit history", rt.cfg.Store.Driver)
		}
		cur, err := restored(ctx, rt)
		if err != nil {
			return err
		}
		// Flush queued entries so this session's own actions are listed.
		if err := rt.audit.Close(); err != nil {
			return err //nolint:wrapcheck // already coded
		}
		entries, err := rt.backend.History.ListByUser(ctx, cur.User.ID, limit)
		if err != nil {
			return err //nolint:wrapcheck // already coded
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-18s", e.Timestamp.Local().Format(time.RFC3339), e.Action)
			if form := e.Metadata["form"]; form != "" {
				line += " " + form
			}
			cmd.Println(strings.TrimRight(line, " "))
		}
		return nil
	})
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	return cmd
}
