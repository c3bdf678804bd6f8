package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otomed/otomed3/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("OtoMed Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Mastodon.BaseURL = prompt(scanner, "Mastodon server URL", cfg.Mastodon.BaseURL)
		cfg.Mastodon.AccessToken = prompt(scanner, "Mastodon access token", cfg.Mastodon.AccessToken)

		cfg.LLM.BaseURL = prompt(scanner, "Chat model base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, "Chat model API key", cfg.LLM.APIKey)
		cfg.LLM.Model = prompt(scanner, "Chat model name", cfg.LLM.Model)

		cfg.Image.BaseURL = prompt(scanner, "Image model base URL", cfg.Image.BaseURL)
		cfg.Image.APIKey = prompt(scanner, "Image model API key", cfg.Image.APIKey)
		cfg.Image.Model = prompt(scanner, "Image model name", cfg.Image.Model)

		cfg.Cursor.Backend = prompt(scanner, "Cursor backend (file, sqlite, redis)", cfg.Cursor.Backend)
		if cfg.Cursor.Backend == "redis" {
			cfg.Cursor.RedisURL = prompt(scanner, "Redis URL", cfg.Cursor.RedisURL)
		}

		// Operator alerts are optional.
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token for alerts (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			chat := ""
			if cfg.Telegram.ChatID != 0 {
				chat = strconv.FormatInt(cfg.Telegram.ChatID, 10)
			}
			if id, err := strconv.ParseInt(prompt(scanner, "Telegram chat id", chat), 10, 64); err == nil {
				cfg.Telegram.ChatID = id
			}
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		if err := cfg.Validate(); err != nil {
			fmt.Println("Warning:", err)
		}
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
