package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"stakestream/crypto"
)

const defaultKeyFile = "wallet.key"

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		printUsage()
		return
	}

	switch args[0] {
	case "generate-key":
		generateKey(keyFileArg(args))
	case "show-address":
		showAddress(keyFileArg(args))
	case "pool":
		showPool()
	case "balance":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: please provide an address.")
			printUsage()
			os.Exit(1)
		}
		showBalance(args[1])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: stakestream-cli <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  generate-key [file]   - Generates a new key and saves it (default wallet.key)")
	fmt.Println("  show-address [file]   - Prints the address of a saved key")
	fmt.Println("  pool                  - Shows the current pool snapshot")
	fmt.Println("  balance <address>     - Shows the wrapped balance and staked position")
	fmt.Println()
	fmt.Printf("The gateway endpoint defaults to %s; override with STAKESTREAM_API.\n", defaultEndpoint)
}

func keyFileArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return defaultKeyFile
}

func generateKey(path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Refusing to overwrite existing key file %s\n", path)
		os.Exit(1)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, key.Bytes(), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save key to %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("Generated new key and saved to %s\n", path)
	fmt.Printf("Your address is: %s\n", key.Address())
	fmt.Println("Store this file securely; a lost key cannot be recovered.")
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("key file %s not found, run generate-key first", path)
		}
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	return key, nil
}

func showAddress(path string) {
	key, err := loadKey(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(key.Address())
}

const defaultEndpoint = "http://127.0.0.1:8547"

func endpoint() string {
	if v := os.Getenv("STAKESTREAM_API"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultEndpoint
}

func getJSON(path string, dst interface{}) error {
	resp, err := http.Get(endpoint() + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func showPool() {
	var pool struct {
		TotalStaked         string `json:"totalStaked"`
		RewardRate          string `json:"rewardRate"`
		RewardPerUnitStored string `json:"rewardPerUnitStored"`
		LastUpdateTime      uint64 `json:"lastUpdateTime"`
		PeriodFinish        uint64 `json:"periodFinish"`
	}
	if err := getJSON("/v1/pool", &pool); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("Pool snapshot:")
	fmt.Printf("  Total staked:     %s\n", pool.TotalStaked)
	fmt.Printf("  Reward rate:      %s\n", pool.RewardRate)
	fmt.Printf("  Reward per unit:  %s\n", pool.RewardPerUnitStored)
	fmt.Printf("  Last update:      %d\n", pool.LastUpdateTime)
	fmt.Printf("  Period finish:    %d\n", pool.PeriodFinish)
}

func showBalance(addr string) {
	if _, err := crypto.DecodeAddress(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid address: %v\n", err)
		os.Exit(1)
	}
	var balance struct {
		Balance string `json:"balance"`
	}
	if err := getJSON("/v1/token/balances/"+addr, &balance); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var participant struct {
		Staked string `json:"staked"`
		Owed   string `json:"owed"`
	}
	if err := getJSON("/v1/pool/participants/"+addr, &participant); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("State for: %s\n", addr)
	fmt.Printf("  Balance:  %s\n", balance.Balance)
	fmt.Printf("  Staked:   %s\n", participant.Staked)
	fmt.Printf("  Owed:     %s\n", participant.Owed)
}
