package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"jobchat/internal/api"
	"jobchat/internal/config"
)

// AddUser asks the running server's admin API to create an account.
func AddUser(email string, cfg *config.Config) error {
	reqBody, err := json.Marshal(api.AddAccountRequest{Email: email})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/accounts", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add user (Status: %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result api.AddAccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nAccount Created Successfully!\n")
	fmt.Printf("Email:     %s\n", result.Email)
	fmt.Printf("Password:  %s\n", result.Password)
	fmt.Printf("Sign in:   %s\n\n", strings.TrimSuffix(cfg.BaseURL, "/"))
	fmt.Println("Please share the password with the user over a secure channel.")
	return nil
}
