package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// Config is the client-side state saved under the user's home directory.
type Config struct {
	BaseURL   string `json:"base_url"`
	AuthToken string `json:"auth_token"`
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".durakv")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "cli_config.json"), nil
}

func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{BaseURL: "http://localhost:8080"}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func doRequest(cfg *Config, method, path string, body io.Reader) (*http.Response, error) {
	url := strings.TrimRight(cfg.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", cfg.AuthToken)
	}
	return (&http.Client{}).Do(req)
}

func requestOrFail(method, path string, body io.Reader) ([]byte, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	resp, err := doRequest(cfg, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// --- Cobra root and commands ---

var rootCmd = &cobra.Command{
	Use:   "kvctl",
	Short: "durakv client CLI",
}

var connectCmd = &cobra.Command{
	Use:   "connect <base-url> [token]",
	Short: "Save the server address and auth token",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.BaseURL = strings.TrimRight(args[0], "/")
		if len(args) == 2 {
			cfg.AuthToken = args[1]
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Println("saved", cfg.BaseURL)
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Store a value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetInt64("ttl")
		body, err := json.Marshal(map[string]interface{}{
			"key": args[0], "value": args[1], "ttl": ttl,
		})
		if err != nil {
			return err
		}
		if _, err := requestOrFail(http.MethodPost, "/put", bytes.NewReader(body)); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := requestOrFail(http.MethodGet, "/get?key="+args[0], nil)
		if err != nil {
			return err
		}
		fmt.Println(strings.TrimSpace(string(out)))
		return nil
	},
}

var delCmd = &cobra.Command{
	Use:   "del <key>",
	Short: "Delete a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := requestOrFail(http.MethodDelete, "/delete?key="+args[0], nil); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List live keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := requestOrFail(http.MethodGet, "/keys", nil)
		if err != nil {
			return err
		}
		fmt.Println(strings.TrimSpace(string(out)))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show engine statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := requestOrFail(http.MethodGet, "/stats", nil)
		if err != nil {
			return err
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, out, "", "  "); err != nil {
			fmt.Println(strings.TrimSpace(string(out)))
			return nil
		}
		fmt.Println(pretty.String())
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Force a durable flush",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := requestOrFail(http.MethodPost, "/flush?sync=true", nil); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Rewrite the data log to reclaim dead space",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := requestOrFail(http.MethodPost, "/compact", nil); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

func main() {
	putCmd.Flags().Int64("ttl", 0, "expiry in milliseconds (0 = none)")
	rootCmd.AddCommand(connectCmd, putCmd, getCmd, delCmd, keysCmd, statsCmd, flushCmd, compactCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
