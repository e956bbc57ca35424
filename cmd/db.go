package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"regexp"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mobius/internal/envfile"
)

var safeDBIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// isSafeDBIdentifier accepts only identifiers that can be interpolated
// into psql statements without quoting tricks.
func isSafeDBIdentifier(s string) bool {
	return safeDBIdentifier.MatchString(s)
}

// stateDSN builds the postgres DSN, URL-encoding the password so shell
// metacharacters survive.
func stateDSN(user, password, host string, port int, name string) string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s",
		user, url.QueryEscape(password), host, port, name)
}

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "State database management",
	}
	cmd.AddCommand(dbBootstrapLocalCmd())
	return cmd
}

// dbBootstrapLocalCmd provisions a local PostgreSQL role and database
// for the state store, then records the DSN in the env file. Linux
// only, must run as root since it drives apt and the postgres user.
func dbBootstrapLocalCmd() *cobra.Command {
	var (
		envFile     string
		dbName      string
		dbUser      string
		dbPassword  string
		dbHost      string
		dbPort      int
		skipInstall bool
		noRestart   bool
		yes         bool
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "bootstrap-local",
		Short: "Provision a local PostgreSQL database for the state store",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if os.Geteuid() != 0 {
				fmt.Fprintln(out, "db bootstrap-local should be run as root (it installs packages and talks to the postgres superuser)")
				return fmt.Errorf("not running as root")
			}
			if !isSafeDBIdentifier(dbName) {
				return fmt.Errorf("unsafe database name %q", dbName)
			}
			if !isSafeDBIdentifier(dbUser) {
				return fmt.Errorf("unsafe database user %q", dbUser)
			}
			if dbPassword == "" {
				buf := make([]byte, 24)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				dbPassword = hex.EncodeToString(buf)
			}

			steps := buildBootstrapSteps(dbName, dbUser, dbPassword, skipInstall, noRestart)
			if dryRun {
				fmt.Fprintln(out, "dry run, would execute:")
				for _, step := range steps {
					fmt.Fprintf(out, "  %s\n", step.describe)
				}
				fmt.Fprintf(out, "  write MOBIUS_STATE_DSN to %s\n", envFile)
				return nil
			}

			if !yes {
				confirmed := false
				err := huh.NewConfirm().
					Title(fmt.Sprintf("Create role %q and database %q on local PostgreSQL?", dbUser, dbName)).
					Value(&confirmed).
					Run()
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(out, "aborted")
					return nil
				}
			}

			for _, step := range steps {
				fmt.Fprintf(out, "-> %s\n", step.describe)
				c := exec.CommandContext(cmd.Context(), step.cmd[0], step.cmd[1:]...)
				c.Stdout = out
				c.Stderr = cmd.ErrOrStderr()
				if err := c.Run(); err != nil {
					if step.ignoreErr {
						fmt.Fprintf(out, "   (ignored: %v)\n", err)
						continue
					}
					return fmt.Errorf("%s: %w", step.describe, err)
				}
			}

			dsn := stateDSN(dbUser, dbPassword, dbHost, dbPort, dbName)
			if err := envfile.Upsert(envFile, map[string]string{"MOBIUS_STATE_DSN": dsn}); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote MOBIUS_STATE_DSN to %s\n", envFile)
			fmt.Fprintln(out, "enable the state layer with state.enabled = true and restart the gateway")
			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "env file to record the DSN in")
	cmd.Flags().StringVar(&dbName, "db-name", "mobius", "database name")
	cmd.Flags().StringVar(&dbUser, "db-user", "mobius", "database role")
	cmd.Flags().StringVar(&dbPassword, "db-password", "", "role password (generated when empty)")
	cmd.Flags().StringVar(&dbHost, "db-host", "127.0.0.1", "host recorded in the DSN")
	cmd.Flags().IntVar(&dbPort, "db-port", 5432, "port recorded in the DSN")
	cmd.Flags().BoolVar(&skipInstall, "skip-install", false, "assume PostgreSQL is already installed")
	cmd.Flags().BoolVar(&noRestart, "no-restart", false, "do not restart the postgresql service")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without executing it")
	return cmd
}

type bootstrapStep struct {
	describe  string
	cmd       []string
	ignoreErr bool
}

func buildBootstrapSteps(dbName, dbUser, dbPassword string, skipInstall, noRestart bool) []bootstrapStep {
	var steps []bootstrapStep
	if !skipInstall {
		steps = append(steps,
			bootstrapStep{describe: "apt-get update", cmd: []string{"apt-get", "update"}},
			bootstrapStep{describe: "install postgresql", cmd: []string{"apt-get", "install", "-y", "postgresql"}},
		)
	}
	psql := func(sql string) []string {
		return []string{"runuser", "-u", "postgres", "--", "psql", "-v", "ON_ERROR_STOP=1", "-c", sql}
	}
	steps = append(steps,
		bootstrapStep{
			describe:  fmt.Sprintf("create role %s", dbUser),
			cmd:       psql(fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD '%s'", dbUser, dbPassword)),
			ignoreErr: true, // role may already exist
		},
		bootstrapStep{
			describe: fmt.Sprintf("set password for %s", dbUser),
			cmd:      psql(fmt.Sprintf("ALTER ROLE %s WITH LOGIN PASSWORD '%s'", dbUser, dbPassword)),
		},
		bootstrapStep{
			describe:  fmt.Sprintf("create database %s", dbName),
			cmd:       psql(fmt.Sprintf("CREATE DATABASE %s OWNER %s", dbName, dbUser)),
			ignoreErr: true, // database may already exist
		},
	)
	if !noRestart {
		steps = append(steps, bootstrapStep{
			describe: "restart postgresql",
			cmd:      []string{"systemctl", "restart", "postgresql"},
		})
	}
	return steps
}
