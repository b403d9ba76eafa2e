package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	geth "github.com/ethereum/go-ethereum/crypto"

	"proofnet/internal/chain/cometbft"
	"proofnet/internal/crypto"
	"proofnet/internal/types"
)

// Generates authority keys for a local network. Each key goes to its own
// directory so it can be used as one node's key_dir, and the resulting
// validator set is written as the CometBFT app_state.
func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <out_dir> <count>\n", os.Args[0])
		os.Exit(1)
	}

	outDir := os.Args[1]
	count, err := strconv.Atoi(os.Args[2])
	if err != nil || count <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid count %q\n", os.Args[2])
		os.Exit(1)
	}

	set := types.ValidatorSet{ID: 1}
	for i := 0; i < count; i++ {
		priv, err := geth.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(outDir, fmt.Sprintf("node%d", i))
		if err := os.MkdirAll(dir, 0o700); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", dir, err)
			os.Exit(1)
		}
		if err := geth.SaveECDSA(filepath.Join(dir, "authority.key"), priv); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write key: %v\n", err)
			os.Exit(1)
		}
		pub := crypto.CompressPublicKey(&priv.PublicKey)
		set.Validators = append(set.Validators, pub)
		fmt.Printf("node%d %s %s\n", i, pub.Hex(), crypto.DeriveAddress(pub).Hex())
	}
	if err := set.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid validator set: %v\n", err)
		os.Exit(1)
	}

	state, _ := json.MarshalIndent(cometbft.GenesisState{ValidatorSet: set}, "", "  ")
	if err := os.WriteFile(filepath.Join(outDir, "app_state.json"), state, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write app_state.json: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Generated authority keys")
}
