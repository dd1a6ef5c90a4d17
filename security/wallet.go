package security

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

var (
	ErrBadSignature = errors.New("signature does not match wallet")
	ErrBadWallet    = errors.New("unsupported wallet address")
)

const (
	ChainEVM    = "evm"
	ChainSolana = "solana"
)

// AuthMessage is the text a wallet signs to log in.
type AuthMessage struct {
	Wallet   string    `json:"wallet"`
	Chain    string    `json:"chain"`
	Message  string    `json:"message"`
	Nonce    string    `json:"nonce"`
	IssuedAt time.Time `json:"issuedAt"`
}

func (m AuthMessage) Format() string {
	return fmt.Sprintf("Wallet:%s\nMessage:%s\nNonce:%s\n", m.Wallet, m.Message, m.Nonce)
}

// WalletChain classifies an address; EVM addresses are 0x-prefixed hex, Solana keys base58.
func WalletChain(wallet string) (string, error) {
	if isEvmAddress(wallet) {
		return ChainEVM, nil
	}
	if _, err := solana.PublicKeyFromBase58(wallet); err == nil {
		return ChainSolana, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadWallet, wallet)
}

// NormalizeWallet lower-cases EVM addresses; Solana keys are case sensitive.
func NormalizeWallet(wallet string) string {
	wallet = strings.TrimSpace(wallet)
	if isEvmAddress(wallet) {
		return strings.ToLower(wallet)
	}
	return wallet
}

// Verify checks sig over m.Format(). EVM accepts personal_sign then falls back to eth_sign;
// Solana takes an ed25519 signature in base58 or base64.
func (m AuthMessage) Verify(sig string) error {
	msg := []byte(m.Format())

	if isEvmAddress(m.Wallet) {
		raw, ok := decodeSigFlexible(sig)
		if !ok || !normalizeV(raw) {
			return ErrBadSignature
		}
		for _, digest := range [][]byte{personalMessageHash(msg), gethcrypto.Keccak256(msg)} {
			pub, err := gethcrypto.SigToPub(digest, raw)
			if err != nil {
				continue
			}
			if strings.EqualFold(gethcrypto.PubkeyToAddress(*pub).Hex(), m.Wallet) {
				return nil
			}
		}
		return ErrBadSignature
	}

	pk, err := solana.PublicKeyFromBase58(m.Wallet)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadWallet, err)
	}
	raw, err := base58.Decode(strings.TrimSpace(sig))
	if err != nil || len(raw) != ed25519.SignatureSize {
		raw, err = base64.StdEncoding.DecodeString(strings.TrimSpace(sig))
		if err != nil {
			return ErrBadSignature
		}
	}
	if !ed25519.Verify(pk[:], msg, raw) {
		return ErrBadSignature
	}
	return nil
}

func isEvmAddress(s string) bool {
	if len(s) != 42 {
		return false
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// personalMessageHash is the EIP-191 digest used by personal_sign.
func personalMessageHash(message []byte) []byte {
	prefix := []byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message)))
	return gethcrypto.Keccak256(prefix, message)
}

// decodeSigFlexible takes hex (with or without 0x) first, then base64.
func decodeSigFlexible(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	hexPart := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if b, err := hex.DecodeString(hexPart); err == nil {
		return b, true
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	return nil, false
}

// normalizeV maps v of 27/28 and EIP-155 values onto 0/1 in place.
func normalizeV(sig []byte) bool {
	if len(sig) != 65 {
		return false
	}
	v := sig[64]
	switch {
	case v == 27 || v == 28:
		sig[64] = v - 27
	case v >= 35:
		sig[64] = (v - 35) % 2
	case v <= 1:
	default:
		return false
	}
	return true
}
