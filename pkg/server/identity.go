package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// connectionID derives a stable, irreversible identifier for a peer from the
// server-held secret, the server URI and the peer endpoint. The id never
// depends on client-supplied data alone, so clients cannot predict each
// other's ids or recover network topology from them.
func connectionID(cfg *Config, uri, ip string, port int) (string, error) {
	var (
		h   hash.Hash
		err error
	)
	switch cfg.ConnectionIDAlgo {
	case "", AlgoBlake2b:
		h, err = blake2b.New256(blake2bKey(cfg.ConnectionIDSecret))
		if err != nil {
			return "", fmt.Errorf("server: derive connection id: %w", err)
		}
	case AlgoSHA256:
		h = hmac.New(sha256.New, []byte(cfg.ConnectionIDSecret))
	default:
		return "", fmt.Errorf("server: unknown connection id algorithm %q", cfg.ConnectionIDAlgo)
	}
	fmt.Fprintf(h, "%s|%s|%d", uri, ip, port)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// blake2bKey compresses oversized secrets: BLAKE2b keys are capped at 64
// bytes.
func blake2bKey(secret string) []byte {
	if len(secret) <= 64 {
		return []byte(secret)
	}
	sum := blake2b.Sum256([]byte(secret))
	return sum[:]
}
