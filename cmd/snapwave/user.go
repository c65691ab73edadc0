// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package main

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/snapwave/snapwave/internal/auth"
	"github.com/snapwave/snapwave/internal/notify"
)

// UserService is the part of auth.CredentialService the user commands call.
type UserService interface {
	Register(ctx context.Context, params auth.RegisterParams) (*auth.User, error)
	IssueResetToken(ctx context.Context, email string) (*auth.IssuedToken, error)
	IssueVerificationToken(ctx context.Context, userID ulid.ULID) (*auth.IssuedToken, error)
	ResetPassword(ctx context.Context, token, newPassword string) (*auth.User, error)
	VerifyEmail(ctx context.Context, token string) (*auth.User, error)
}

// NewUserCmd creates the user administration command group.
func NewUserCmd() *cobra.Command {
	return newUserCmdWithDeps(nil)
}

func newUserCmdWithDeps(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Administer user accounts",
		Long: `Create accounts and issue or redeem password-reset and verification
tokens directly against the database. Tokens are printed to stdout.`,
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUserCreate(cmd, deps)
		},
	}
	create.Flags().String("email", "", "email address")
	create.Flags().String("username", "", "username")
	create.Flags().String("password", "", "initial password")
	create.Flags().String("full-name", "", "display name")
	create.Flags().Bool("verified", false, "mark the email address as verified")
	for _, name := range []string{"email", "username", "password"} {
		_ = create.MarkFlagRequired(name) //nolint:errcheck // flag is defined above
	}
	cmd.AddCommand(create)

	resetRequest := &cobra.Command{
		Use:   "reset-request EMAIL",
		Short: "Issue a password-reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserIssue(cmd, deps, notify.KindPasswordReset, func(ctx context.Context, svc UserService) (*auth.IssuedToken, error) {
				return svc.IssueResetToken(ctx, args[0])
			})
		},
	}
	cmd.AddCommand(resetRequest)

	reset := &cobra.Command{
		Use:   "reset TOKEN",
		Short: "Set a new password using a reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserReset(cmd, deps, args[0])
		},
	}
	reset.Flags().String("password", "", "new password")
	_ = reset.MarkFlagRequired("password") //nolint:errcheck // flag is defined above
	cmd.AddCommand(reset)

	cmd.AddCommand(&cobra.Command{
		Use:   "verify-request USER_ID",
		Short: "Issue an email verification token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return runUserIssue(cmd, deps, notify.KindEmailVerification, func(ctx context.Context, svc UserService) (*auth.IssuedToken, error) {
				return svc.IssueVerificationToken(ctx, id)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify TOKEN",
		Short: "Verify an email address using a verification token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserService(cmd, deps, func(ctx context.Context, svc UserService) error {
				user, err := svc.VerifyEmail(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Printf("Verified %s (%s)\n", user.Email, user.ID)
				return nil
			})
		},
	})

	return cmd
}

// withUserService connects to the database and runs fn with the account service.
func withUserService(cmd *cobra.Command, deps *Deps, fn func(context.Context, UserService) error) error {
	deps = deps.withDefaults()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	pool, err := connect(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, err := deps.UserServiceFactory(cfg, pool, logger)
	if err != nil {
		return err
	}
	return fn(ctx, svc)
}

func runUserCreate(cmd *cobra.Command, deps *Deps) error {
	flags := cmd.Flags()
	params := auth.RegisterParams{}
	var err error
	if params.Email, err = flags.GetString("email"); err != nil {
		return oops.With("flag", "email").Wrap(err)
	}
	if params.Username, err = flags.GetString("username"); err != nil {
		return oops.With("flag", "username").Wrap(err)
	}
	if params.Password, err = flags.GetString("password"); err != nil {
		return oops.With("flag", "password").Wrap(err)
	}
	if params.FullName, err = flags.GetString("full-name"); err != nil {
		return oops.With("flag", "full-name").Wrap(err)
	}
	verified, err := flags.GetBool("verified")
	if err != nil {
		return oops.With("flag", "verified").Wrap(err)
	}

	return withUserService(cmd, deps, func(ctx context.Context, svc UserService) error {
		user, err := svc.Register(ctx, params)
		if err != nil {
			return err
		}
		cmd.Printf("Created user %s (%s)\n", user.Username, user.ID)

		if !verified {
			return nil
		}
		issued, err := svc.IssueVerificationToken(ctx, user.ID)
		if err != nil {
			return oops.With("operation", "issue verification token").With("user_id", user.ID.String()).Wrap(err)
		}
		if _, err := svc.VerifyEmail(ctx, issued.Token); err != nil {
			return oops.With("operation", "verify email").With("user_id", user.ID.String()).Wrap(err)
		}
		cmd.Println("Email address marked as verified")
		return nil
	})
}

func runUserIssue(
	cmd *cobra.Command,
	deps *Deps,
	kind notify.Kind,
	issue func(context.Context, UserService) (*auth.IssuedToken, error),
) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	links, err := notify.NewLinks(cfg.Frontend.URL)
	if err != nil {
		return err
	}

	return withUserService(cmd, deps, func(ctx context.Context, svc UserService) error {
		issued, err := issue(ctx, svc)
		if err != nil {
			return err
		}
		cmd.Printf("User:    %s <%s>\n", issued.Username, issued.Email)
		cmd.Printf("Token:   %s\n", issued.Token)
		cmd.Printf("Link:    %s\n", links.For(kind, issued.Token))
		cmd.Printf("Expires: %s\n", issued.ExpiresAt.UTC().Format(time.RFC3339))
		return nil
	})
}

func runUserReset(cmd *cobra.Command, deps *Deps, token string) error {
	password, err := cmd.Flags().GetString("password")
	if err != nil {
		return oops.With("flag", "password").Wrap(err)
	}
	return withUserService(cmd, deps, func(ctx context.Context, svc UserService) error {
		user, err := svc.ResetPassword(ctx, token, password)
		if err != nil {
			return err
		}
		cmd.Printf("Password reset for %s\n", user.Username)
		return nil
	})
}

func parseUserID(arg string) (ulid.ULID, error) {
	id, err := ulid.ParseStrict(arg)
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_USER_ID").With("input", arg).Wrap(err)
	}
	return id, nil
}
