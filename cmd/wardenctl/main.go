package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"warden.dev/internal/app"
	"warden.dev/internal/config"
	"warden.dev/internal/migrate"
	"warden.dev/internal/obs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		timeout time.Duration
		a       *app.App
	)

	root := &cobra.Command{
		Use:           "wardenctl",
		Short:         "Administrative tasks for the warden auth service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg := config.Load()
			if _, err := obs.InitLogger(obs.LogConfig{Env: cfg.AppEnv, Level: cfg.LogLevel, Service: "wardenctl"}); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			cmd.SetContext(ctx)
			cobra.OnFinalize(cancel)

			var err error
			if a, err = app.New(ctx, cfg); err != nil {
				return err
			}
			cobra.OnFinalize(func() {
				_ = a.Close()
				_ = obs.Sync()
			})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")

	getApp := func() *app.App { return a }
	root.AddCommand(newMigrateCmd(getApp), newSeedCmd(getApp), newUserCmd(getApp))
	return root
}

func migrator(a *app.App) (*migrate.Manager, error) {
	m := a.Migrator()
	if m == nil {
		return nil, errors.New("DATABASE_URL is required for migrations")
	}
	return m, nil
}

func newMigrateCmd(getApp func() *app.App) *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator(getApp())
			if err != nil {
				return err
			}
			applied, err := m.Up(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "up to date")
			}
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator(getApp())
			if err != nil {
				return err
			}
			name, err := m.Down(cmd.Context())
			if errors.Is(err, migrate.ErrNothingApplied) {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator(getApp())
			if err != nil {
				return err
			}
			history, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}
			for _, item := range history {
				fmt.Fprintln(cmd.OutOrStdout(), item)
			}
			return nil
		},
	})
	return cmd
}

func newSeedCmd(getApp func() *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default roles, permissions and accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := getApp().Seed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded roles=%d permissions=%d users=%d\n", rep.Roles, rep.Permissions, rep.Users)
			return nil
		},
	}
}

func newUserCmd(getApp func() *app.App) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage accounts"}

	var email, password, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an active local account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			svc := getApp().RBAC
			roleID := ""
			if role != "" {
				id, err := svc.GetRoleIDByName(cmd.Context(), role)
				if err != nil {
					return fmt.Errorf("role %q: %w", role, err)
				}
				roleID = id
			}
			user, err := svc.CreateUser(cmd.Context(), email, password, roleID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "login email")
	create.Flags().StringVar(&password, "password", "", "initial password")
	create.Flags().StringVar(&role, "role", "", "role name (defaults to the default role)")
	cmd.AddCommand(create)
	return cmd
}
