package walletloader

import (
	"bufio"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const defaultWalletFilePath = "data/wallets.txt"

// Entry is one account from the wallet file. Key is nil for watch-only addresses.
type Entry struct {
	Address string
	Key     *ecdsa.PrivateKey
}

// CanSign reports whether the entry holds a private key.
func (e Entry) CanSign() bool {
	return e.Key != nil
}

// LogFunc receives loader diagnostics.
type LogFunc func(msg string, args ...any)

// LoadWallets reads accounts from path, one per line: a hex private key (with or without 0x)
// for a signing account, or a 0x-prefixed address for a watch-only account. Blank lines and
// lines starting with # are skipped. An empty path means data/wallets.txt.
func LoadWallets(path string, logInfo LogFunc) ([]Entry, error) {
	if path == "" {
		path = defaultWalletFilePath
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet file %s: %w", path, err)
	}
	defer file.Close()

	var entries []Entry
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := ParseEntry(line)
		if err != nil {
			if logInfo != nil {
				// The line may be a key; never log it.
				logInfo("Skipping invalid wallet line", "file", path, "line_number", lineNum, "error", err)
			}
			continue
		}
		key := strings.ToLower(entry.Address)
		if _, dup := seen[key]; dup {
			if logInfo != nil {
				logInfo("Skipping duplicate wallet", "file", path, "line_number", lineNum, "address", entry.Address)
			}
			continue
		}
		seen[key] = struct{}{}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning wallet file %s: %w", path, err)
	}

	if logInfo != nil {
		logInfo("Wallets loaded successfully from file", "count", len(entries), "path", path)
	}
	return entries, nil
}

// ParseEntry parses a single wallet line.
func ParseEntry(line string) (Entry, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(line, "0x"), "0X")
	switch {
	case len(trimmed) == 64:
		key, err := crypto.HexToECDSA(trimmed)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid private key: %w", err)
		}
		return Entry{Address: crypto.PubkeyToAddress(key.PublicKey).Hex(), Key: key}, nil
	case strings.HasPrefix(line, "0x") && common.IsHexAddress(line):
		return Entry{Address: common.HexToAddress(line).Hex()}, nil
	default:
		return Entry{}, fmt.Errorf("neither a private key nor an address (length %d)", len(line))
	}
}
