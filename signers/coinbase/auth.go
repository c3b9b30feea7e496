package coinbase

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/x402labs/x402-go"
)

// apiHost is the hostname bound into JWT uri claims. CDP validates the
// claim against the host that served the request.
const apiHost = "api.cdp.coinbase.com"

// Auth holds CDP API credentials and mints the JWTs that authenticate
// requests. Bearer tokens authorize ordinary calls; signing endpoints
// additionally require an X-Wallet-Auth token that binds the request
// body. Auth is immutable after construction and safe for concurrent
// use.
type Auth struct {
	keyID string

	// apiKey signs bearer tokens. ECDSA P-256 (ES256) or Ed25519
	// (EdDSA).
	apiKey interface{}

	// walletKey signs wallet auth tokens when a wallet secret was
	// configured. Nil means the API key signs those too.
	walletKey interface{}
}

// apiKeyClaims is the CDP JWT claim set: standard registered claims plus
// the request binding fields CDP verifies.
type apiKeyClaims struct {
	*jwt.Claims

	// URI is "{METHOD} {host}{path}" for the request the token
	// authorizes.
	URI string `json:"uri"`

	// ReqHash is the hex SHA-256 of the request body, set only on
	// wallet auth tokens.
	ReqHash string `json:"reqHash,omitempty"`
}

// NewAuth parses CDP credentials. The key secret accepts the formats CDP
// issues: PEM (SEC 1 EC or PKCS #8) and bare base64 (raw Ed25519 key or
// seed, or PKCS #8 DER). The wallet secret is optional and accepts the
// same formats.
func NewAuth(keyID, keySecret, walletSecret string) (*Auth, error) {
	if keyID == "" {
		return nil, x402.NewConfigurationError("CDP API key ID must not be empty")
	}
	if keySecret == "" {
		return nil, x402.NewConfigurationError("CDP API key secret must not be empty")
	}

	apiKey, err := parsePrivateKey(keySecret)
	if err != nil {
		return nil, fmt.Errorf("parse CDP API key secret: %w", err)
	}

	a := &Auth{keyID: keyID, apiKey: apiKey}
	if walletSecret != "" {
		walletKey, err := parsePrivateKey(walletSecret)
		if err != nil {
			return nil, fmt.Errorf("parse CDP wallet secret: %w", err)
		}
		a.walletKey = walletKey
	}
	return a, nil
}

// BearerToken mints the JWT sent as the Authorization bearer. Tokens
// expire after two minutes.
func (a *Auth) BearerToken(method, path string) (string, error) {
	return a.signJWT(a.apiKey, method, path, nil, 2*time.Minute)
}

// WalletAuthToken mints the X-Wallet-Auth JWT required by signing
// endpoints. The token carries a SHA-256 hash of the request body and
// expires after one minute. It is signed with the wallet secret when one
// was configured, otherwise with the API key.
func (a *Auth) WalletAuthToken(method, path string, body []byte) (string, error) {
	key := a.walletKey
	if key == nil {
		key = a.apiKey
	}

	var bodyHash []byte
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		bodyHash = sum[:]
	}
	return a.signJWT(key, method, path, bodyHash, time.Minute)
}

func (a *Auth) signJWT(key interface{}, method, path string, bodyHash []byte, lifetime time.Duration) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: algorithmFor(key), Key: key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", a.keyID),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}

	now := time.Now()
	claims := apiKeyClaims{
		Claims: &jwt.Claims{
			Subject:   a.keyID,
			Issuer:    "coinbase-cloud",
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(lifetime)),
		},
		URI: fmt.Sprintf("%s %s%s", method, apiHost, path),
	}
	if len(bodyHash) > 0 {
		claims.ReqHash = hex.EncodeToString(bodyHash)
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWT: %w", err)
	}
	return token, nil
}

func algorithmFor(key interface{}) jose.SignatureAlgorithm {
	if _, ok := key.(*ecdsa.PrivateKey); ok {
		return jose.ES256
	}
	return jose.EdDSA
}

// parsePrivateKey decodes a CDP secret into a signing key, accepting PEM
// armor or bare base64, and rejecting key types CDP never issues.
func parsePrivateKey(secret string) (interface{}, error) {
	var key interface{}

	if block, _ := pem.Decode([]byte(secret)); block != nil {
		var err error
		key, err = x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse PEM private key: %w", err)
			}
		}
	} else {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(secret))
		if err != nil {
			return nil, fmt.Errorf("secret is neither PEM nor base64")
		}
		switch len(raw) {
		case ed25519.PrivateKeySize:
			key = ed25519.PrivateKey(raw)
		case ed25519.SeedSize:
			key = ed25519.NewKeyFromSeed(raw)
		default:
			key, err = x509.ParsePKCS8PrivateKey(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to parse base64 private key: %w", err)
			}
		}
	}

	switch key.(type) {
	case *ecdsa.PrivateKey, ed25519.PrivateKey:
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T: must be ECDSA or Ed25519", key)
	}
}
