package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/offtrack/offtrack-core/internal/config"
	"github.com/offtrack/offtrack-core/internal/security"
)

var setPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Read the server password from stdin and store it encrypted",
	RunE:  runSetPassword,
}

func init() {
	rootCmd.AddCommand(setPasswordCmd)
}

func runSetPassword(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	password, err := readSecret(cmd.InOrStdin())
	if err != nil {
		return err
	}

	sealed, err := security.NewSealer(config.GetDataDir()).Seal(password)
	if err != nil {
		return err
	}
	cfg.Server.Password = sealed
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Password saved to", path)
	return nil
}

// readSecret reads one line, without its line ending
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	return line, nil
}
