package evm

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402labs/x402-go"
)

// Well-known anvil development mnemonic. NEVER use in production.
const testMnemonic = "test test test test test test test test test test test junk"

func TestWithMnemonic(t *testing.T) {
	tests := []struct {
		name         string
		mnemonic     string
		accountIndex uint32
		wantAddress  string
		wantErr      error
	}{
		{
			name:         "account 0",
			mnemonic:     testMnemonic,
			accountIndex: 0,
			// m/44'/60'/0'/0/0 of the anvil mnemonic.
			wantAddress: testAddress,
		},
		{
			name:         "account 1",
			mnemonic:     testMnemonic,
			accountIndex: 1,
			wantAddress:  "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		},
		{
			name:     "invalid mnemonic",
			mnemonic: "invalid mnemonic phrase",
			wantErr:  x402.ErrInvalidMnemonic,
		},
		{
			name:     "empty mnemonic",
			mnemonic: "",
			wantErr:  x402.ErrInvalidMnemonic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewSigner(
				WithMnemonic(tt.mnemonic, tt.accountIndex),
				WithNetwork("base"),
				WithToken(baseUSDC, "USDC", 6),
			)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewSigner() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSigner() error = %v", err)
			}

			if got := signer.Address(); got != common.HexToAddress(tt.wantAddress) {
				t.Errorf("Address() = %s, want %s", got.Hex(), tt.wantAddress)
			}
		})
	}
}

func TestWithMnemonicDeterministic(t *testing.T) {
	newSigner := func() *Signer {
		t.Helper()
		signer, err := NewSigner(
			WithMnemonic(testMnemonic, 3),
			WithNetwork("base"),
			WithToken(baseUSDC, "USDC", 6),
		)
		if err != nil {
			t.Fatalf("NewSigner() error = %v", err)
		}
		return signer
	}

	first := newSigner().Address()
	second := newSigner().Address()
	if first != second {
		t.Errorf("same mnemonic and index derived %s and %s", first.Hex(), second.Hex())
	}
}

func TestWithKeystore(t *testing.T) {
	tmpDir := t.TempDir()
	password := "testpassword123"

	privateKey, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("failed to parse test key: %v", err)
	}

	ks := keystore.NewKeyStore(tmpDir, keystore.LightScryptN, keystore.LightScryptP)
	account, err := ks.ImportECDSA(privateKey, password)
	if err != nil {
		t.Fatalf("failed to create keystore: %v", err)
	}

	tests := []struct {
		name         string
		keystorePath string
		password     string
		wantErr      error
	}{
		{
			name:         "correct password",
			keystorePath: account.URL.Path,
			password:     password,
		},
		{
			name:         "wrong password",
			keystorePath: account.URL.Path,
			password:     "wrongpassword",
			wantErr:      x402.ErrInvalidKeystore,
		},
		{
			name:         "missing file",
			keystorePath: filepath.Join(tmpDir, "nonexistent.json"),
			password:     password,
			wantErr:      x402.ErrInvalidKeystore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewSigner(
				WithKeystore(tt.keystorePath, tt.password),
				WithNetwork("base"),
				WithToken(baseUSDC, "USDC", 6),
			)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewSigner() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSigner() error = %v", err)
			}

			if signer.Address() != account.Address {
				t.Errorf("Address() = %s, want %s", signer.Address().Hex(), account.Address.Hex())
			}
		})
	}
}

func TestWithKeystoreMalformed(t *testing.T) {
	tmpDir := t.TempDir()

	invalidJSON := filepath.Join(tmpDir, "invalid.json")
	if err := os.WriteFile(invalidJSON, []byte("not valid json"), 0o600); err != nil {
		t.Fatalf("failed to write keystore file: %v", err)
	}

	malformed := filepath.Join(tmpDir, "malformed.json")
	data, _ := json.Marshal(map[string]interface{}{
		"crypto": map[string]interface{}{"cipher": "unknown"},
	})
	if err := os.WriteFile(malformed, data, 0o600); err != nil {
		t.Fatalf("failed to write keystore file: %v", err)
	}

	for _, path := range []string{invalidJSON, malformed} {
		_, err := NewSigner(
			WithKeystore(path, "password"),
			WithNetwork("base"),
			WithToken(baseUSDC, "USDC", 6),
		)
		if !errors.Is(err, x402.ErrInvalidKeystore) {
			t.Errorf("NewSigner() with %s: error = %v, want %v", filepath.Base(path), err, x402.ErrInvalidKeystore)
		}
	}
}

func TestDeriveEthereumKey(t *testing.T) {
	seed := []byte("deterministic test seed for derivation, at least long enough")

	key0, err := deriveEthereumKey(seed, 0)
	if err != nil {
		t.Fatalf("deriveEthereumKey(0) error = %v", err)
	}
	key1, err := deriveEthereumKey(seed, 1)
	if err != nil {
		t.Fatalf("deriveEthereumKey(1) error = %v", err)
	}

	addr0 := crypto.PubkeyToAddress(key0.PublicKey)
	addr1 := crypto.PubkeyToAddress(key1.PublicKey)
	if addr0 == addr1 {
		t.Error("different indices derived the same key")
	}

	key0Again, err := deriveEthereumKey(seed, 0)
	if err != nil {
		t.Fatalf("deriveEthereumKey(0) error = %v", err)
	}
	if addr0 != crypto.PubkeyToAddress(key0Again.PublicKey) {
		t.Error("same seed and index derived different keys")
	}
}
