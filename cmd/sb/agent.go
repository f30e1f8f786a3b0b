package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/store"
	"golang.org/x/term"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent account commands",
	}

	cmd.AddCommand(newAgentAddCmd())
	cmd.AddCommand(newAgentListCmd())
	return cmd
}

func newAgentAddCmd() *cobra.Command {
	var (
		configPath string
		name       string
		email      string
		password   string
		capacity   int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an agent account",
		Long: `Registers an agent that can log in to the dispatch API.
Without --password the password is read from the terminal, or from the
first line of stdin when it is not a terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentAdd(cmd, configPath, registry.NewAgent{
				Name:     name,
				Email:    email,
				Password: password,
				Capacity: capacity,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email (required)")
	cmd.Flags().StringVar(&password, "password", "", "login password (prompted when empty)")
	cmd.Flags().IntVar(&capacity, "capacity", 0, "concurrent tickets (defaults to desk.default_capacity)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func runAgentAdd(cmd *cobra.Command, configPath string, na registry.NewAgent) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if na.Capacity == 0 {
		na.Capacity = cfg.Desk.DefaultCapacity
	}
	if na.Password == "" {
		na.Password, err = readPassword(cmd)
		if err != nil {
			return err
		}
	}

	s := store.New(gormDB)
	w := store.NewWriter(s)
	defer w.Close()
	reg, err := registry.New(registry.Opts{Store: s, Writer: w})
	if err != nil {
		return err
	}
	if err := reg.Load(cmd.Context()); err != nil {
		return err
	}
	a, err := reg.Add(cmd.Context(), na)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Agent %d registered: %s <%s>, capacity %d\n", a.ID, a.Name, a.Email, a.Capacity)
	return nil
}

// readPassword prompts on the terminal with echo off, or reads one line from
// a non-terminal stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return "", fmt.Errorf("read password: no input")
	}
	pw := strings.TrimRight(scanner.Text(), "\r\n")
	if pw == "" {
		return "", fmt.Errorf("read password: empty password")
	}
	return pw, nil
}

func newAgentListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agent accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}

func runAgentList(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	agents, err := store.New(gormDB).ListAgents(cmd.Context())
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Fprintln(out, "No agents registered.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tSTATUS\tCAPACITY\tHANDLED\tLAST SEEN")
	for _, a := range agents {
		lastSeen := "-"
		if a.LastSeenAt != nil {
			lastSeen = a.LastSeenAt.Format(time.DateTime)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n", a.ID, a.Name, a.Email, a.Status, a.Capacity, a.TotalHandled, lastSeen)
	}
	return w.Flush()
}
