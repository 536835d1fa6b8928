package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/auth"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/config"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/validation"
)

// credentials are the form fields accepted on the command line.
type credentials struct {
	name            string
	email           string
	password        string
	confirmPassword string
	passwordStdin   bool
}

func (c *credentials) bind(cmd *cobra.Command, withSignUp bool) {
	f := cmd.Flags()
	f.StringVar(&c.email, "email", "", "Email address")
	f.StringVar(&c.password, "password", os.Getenv("PORTAL_PASSWORD"), "Password (or PORTAL_PASSWORD)")
	f.BoolVar(&c.passwordStdin, "password-stdin", false, "Read the password from stdin")
	if withSignUp {
		f.StringVar(&c.name, "name", "", "Full name (sign-up only)")
		f.StringVar(&c.confirmPassword, "confirm-password", "", "Password confirmation (sign-up only, defaults to --password)")
	}
}

func (c *credentials) resolve(stdin io.Reader) error {
	if c.passwordStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		c.password = strings.TrimRight(line, "\r\n")
	}
	if c.confirmPassword == "" {
		c.confirmPassword = c.password
	}
	return nil
}

func (c *credentials) fill(o *auth.Orchestrator) {
	_ = o.UpdateField(validation.FieldName, c.name)
	_ = o.UpdateField(validation.FieldEmail, c.email)
	_ = o.UpdateField(validation.FieldPassword, c.password)
	_ = o.UpdateField(validation.FieldConfirmPassword, c.confirmPassword)
}

// withPortal builds the portal for one command and tears it down after.
func withPortal(cmd *cobra.Command, cfg *config.PortalConfig, mode validation.Mode, run func(context.Context, *portal) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	p, err := newPortal(ctx, cfg, mode)
	if err != nil {
		return err
	}
	defer p.Close()
	return describe(run(ctx, p))
}

func runForm(cmd *cobra.Command, cfg *config.PortalConfig, mode validation.Mode, creds *credentials) error {
	if err := creds.resolve(cmd.InOrStdin()); err != nil {
		return err
	}
	return withPortal(cmd, cfg, mode, func(ctx context.Context, p *portal) error {
		creds.fill(p.auth)
		if err := p.auth.Submit(ctx); err != nil {
			return err
		}
		return printUser(cmd.OutOrStdout(), p.auth.State().User)
	})
}

func submitCmd(cfg *config.PortalConfig, mode *string) *cobra.Command {
	var creds credentials
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit the auth form in the mode selected by --mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForm(cmd, cfg, auth.ModeFromQuery(*mode), &creds)
		},
	}
	creds.bind(cmd, true)
	return cmd
}

func signInCmd(cfg *config.PortalConfig) *cobra.Command {
	var creds credentials
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForm(cmd, cfg, validation.ModeSignIn, &creds)
		},
	}
	creds.bind(cmd, false)
	return cmd
}

func signUpCmd(cfg *config.PortalConfig) *cobra.Command {
	var creds credentials
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForm(cmd, cfg, validation.ModeSignUp, &creds)
		},
	}
	creds.bind(cmd, true)
	return cmd
}

func oauthCmd(cfg *config.PortalConfig) *cobra.Command {
	return &cobra.Command{
		Use:       "oauth <google|github|apple>",
		Short:     "Sign in with a third-party provider in the browser",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(gateway.ProviderGoogle), string(gateway.ProviderGitHub), string(gateway.ProviderApple)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPortal(cmd, cfg, validation.ModeSignIn, func(ctx context.Context, p *portal) error {
				kind := gateway.ProviderKind(strings.ToLower(args[0]))
				if err := p.auth.SignInWithThirdParty(ctx, kind); err != nil {
					return err
				}
				return printUser(cmd.OutOrStdout(), p.auth.State().User)
			})
		},
	}
}

func signOutCmd(cfg *config.PortalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPortal(cmd, cfg, validation.ModeSignIn, func(ctx context.Context, p *portal) error {
				if err := p.auth.SignOut(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
				return nil
			})
		},
	}
}

func refreshCmd(cfg *config.PortalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the session tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPortal(cmd, cfg, validation.ModeSignIn, func(ctx context.Context, p *portal) error {
				if err := p.auth.RefreshSession(ctx); err != nil {
					return err
				}
				if rec := p.store.Identity(); rec != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Session valid until %s\n", rec.ExpiresAt.Local().Format("2006-01-02 15:04"))
				}
				return nil
			})
		},
	}
}

func whoamiCmd(cfg *config.PortalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPortal(cmd, cfg, validation.ModeSignIn, func(ctx context.Context, p *portal) error {
				st := p.auth.State()
				if !st.IsAuthenticated {
					return auth.ErrNotAuthenticated
				}
				return printUser(cmd.OutOrStdout(), st.User)
			})
		},
	}
}

func profileCmd(cfg *config.PortalConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage your profile",
	}

	var name, phone, image string
	update := &cobra.Command{
		Use:   "update",
		Short: "Update profile fields; only flags that are set are changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			var u models.ProfileUpdate
			if cmd.Flags().Changed("name") {
				u.Name = &name
			}
			if cmd.Flags().Changed("phone") {
				u.PhoneNumber = &phone
			}
			if cmd.Flags().Changed("image") {
				u.ProfileImage = &image
			}
			return withPortal(cmd, cfg, validation.ModeSignIn, func(ctx context.Context, p *portal) error {
				profile, err := p.auth.UpdateProfile(ctx, u)
				if err != nil {
					return err
				}
				return printUser(cmd.OutOrStdout(), profile)
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "Display name")
	update.Flags().StringVar(&phone, "phone", "", "Phone number; empty clears it")
	update.Flags().StringVar(&image, "image", "", "Profile image URL; empty clears it")

	var yes bool
	del := &cobra.Command{
		Use:   "delete",
		Short: "Deactivate your account and sign out",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete the account without --yes")
			}
			return withPortal(cmd, cfg, validation.ModeSignIn, func(ctx context.Context, p *portal) error {
				if err := p.auth.DeleteAccount(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Account deactivated.")
				return nil
			})
		},
	}
	del.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")

	cmd.AddCommand(update, del)
	return cmd
}

func passwordResetCmd(cfg *config.PortalConfig) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "password-reset",
		Short: "Email a link to choose a new password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPortal(cmd, cfg, validation.ModeSignIn, func(ctx context.Context, p *portal) error {
				_ = p.auth.UpdateField(validation.FieldEmail, email)
				if err := p.auth.SendPasswordReset(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Password reset email sent successfully.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address of the account")

	var (
		token string
		creds credentials
	)
	confirm := &cobra.Command{
		Use:   "confirm",
		Short: "Choose a new password with the token from a reset link",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := creds.resolve(cmd.InOrStdin()); err != nil {
				return err
			}
			return withPortal(cmd, cfg, validation.ModeSignIn, func(ctx context.Context, p *portal) error {
				creds.fill(p.auth)
				if err := p.auth.ConfirmPasswordReset(ctx, token); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Password has been reset. Sign in with the new password.")
				return nil
			})
		},
	}
	f := confirm.Flags()
	f.StringVar(&token, "token", "", "Token from the reset link")
	f.StringVar(&creds.password, "password", os.Getenv("PORTAL_PASSWORD"), "New password (or PORTAL_PASSWORD)")
	f.BoolVar(&creds.passwordStdin, "password-stdin", false, "Read the new password from stdin")
	f.StringVar(&creds.confirmPassword, "confirm-password", "", "Password confirmation, defaults to --password")

	cmd.AddCommand(confirm)
	return cmd
}

func printUser(w io.Writer, p *models.Profile) error {
	if p == nil {
		return auth.ErrNotAuthenticated
	}
	out := struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Email    string `json:"email"`
		Initials string `json:"initials"`
		Role     string `json:"role"`
		Status   string `json:"status"`
	}{p.ID, p.DisplayName(), p.Email, p.Initials(), string(p.Role), string(p.Status)}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// describe turns orchestrator errors into what the user should read.
func describe(err error) error {
	var verr *auth.ValidationError
	var ferr *auth.FlowError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &verr):
		names := make([]string, 0, len(verr.Fields))
		for name, msg := range verr.Fields {
			if msg != "" {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		lines := make([]string, len(names))
		for i, name := range names {
			lines[i] = fmt.Sprintf("  %s: %s", name, verr.Fields[name])
		}
		return fmt.Errorf("please fix the following:\n%s", strings.Join(lines, "\n"))
	case errors.As(err, &ferr):
		return errors.New(ferr.Message)
	case errors.Is(err, auth.ErrNotAuthenticated):
		return errors.New("not signed in")
	default:
		return err
	}
}
