package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spritz-hq/spritz/adapters/store"
	"github.com/spritz-hq/spritz/adapters/tokenizer"
	"github.com/spritz-hq/spritz/core"
	"github.com/spritz-hq/spritz/ports"
	"github.com/spritz-hq/spritz/safe"
	"github.com/spritz-hq/spritz/service"
	"github.com/spritz-hq/spritz/vault"
)

// nullPublisher drops events; transport tests assert HTTP behavior only.
type nullPublisher struct{}

func (nullPublisher) PublishLogin(ctx context.Context, address, authMethod string) error { return nil }
func (nullPublisher) PublishLogout(ctx context.Context, address, tokenID string) error   { return nil }
func (nullPublisher) PublishSecurity(ctx context.Context, event ports.SecurityEvent) error {
	return nil
}

// stubChain serves the vault and wallet endpoints with canned chain state.
type stubChain struct {
	status *core.VaultStatus
}

func (s *stubChain) IsDeployed(ctx context.Context, addr common.Address) (bool, error) {
	return s.status != nil && s.status.IsDeployed, nil
}

func (s *stubChain) VaultStatus(ctx context.Context, vaultAddr common.Address) (*core.VaultStatus, error) {
	if s.status == nil {
		return nil, core.ErrVaultNotFound
	}
	return s.status, nil
}

func (s *stubChain) VaultNonce(ctx context.Context, vaultAddr common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (s *stubChain) TransactionHash(ctx context.Context, tx *core.VaultTransaction) (common.Hash, error) {
	return crypto.Keccak256Hash([]byte("tx")), nil
}

func (s *stubChain) DomainSeparator(ctx context.Context, contract common.Address) (common.Hash, error) {
	return common.Hash{}, nil
}

func (s *stubChain) ExecTransaction(ctx context.Context, tx *core.VaultTransaction, signatures []byte) (common.Hash, error) {
	return crypto.Keccak256Hash([]byte("submitted")), nil
}

func newTestRouter(t *testing.T, chain *stubChain) (*gin.Engine, *store.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemoryStore()
	log := slog.Default()

	tok, err := tokenizer.NewJWTTokenizer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	deriver, err := safe.NewDeriver(safe.CanonicalParams(), safe.CanonicalSignerParams())
	require.NoError(t, err)
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          "localhost",
		RPDisplayName: "Spritz",
		RPOrigins:     []string{"http://localhost:3000"},
	})
	require.NoError(t, err)

	events := nullPublisher{}
	auth := service.NewAuthService(mem, mem, tok, events, deriver, log)
	rescue := service.NewRescueService(mem, mem, mem, tok, events, log, 0, 0)
	ceremony := service.NewCeremonyService(wa, mem, mem, mem, events, deriver, auth, rescue, log)
	aggregator := vault.NewAggregator(chain, log)

	handlers := NewHandlers(auth, ceremony, aggregator, deriver, chain, mem, log)
	return SetupRouter(handlers), mem
}

func postJSON(router *gin.Engine, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func loginForToken(t *testing.T, router *gin.Engine) (string, common.Address) {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	rec := postJSON(router, "/auth/challenge", gin.H{"address": owner.Hex()}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var challengeResp struct {
		Challenge string `json:"challenge"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challengeResp))

	digest := crypto.Keccak256(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(challengeResp.Challenge), challengeResp.Challenge)),
	)
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27

	rec = postJSON(router, "/auth/login", gin.H{
		"challenge": challengeResp.Challenge,
		"signature": hexutil.Encode(sig),
		"address":   owner.Hex(),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var loginResp struct {
		Status string `json:"status"`
		Token  string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loginResp))
	require.Equal(t, "ok", loginResp.Status)
	require.NotEmpty(t, loginResp.Token)
	return loginResp.Token, owner
}

func TestWalletLoginOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t, &stubChain{})
	token, owner := loginForToken(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var user core.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, owner.Hex(), user.WalletAddress)
	assert.NotEmpty(t, user.SmartWalletAddress)
}

func TestChallengeRejectsBadAddress(t *testing.T) {
	router, _ := newTestRouter(t, &stubChain{})

	rec := postJSON(router, "/auth/challenge", gin.H{"address": "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginReplayReturnsBadRequest(t *testing.T) {
	router, _ := newTestRouter(t, &stubChain{})

	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	rec := postJSON(router, "/auth/challenge", gin.H{"address": owner.Hex()}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var challengeResp struct {
		Challenge string `json:"challenge"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challengeResp))

	digest := crypto.Keccak256(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(challengeResp.Challenge), challengeResp.Challenge)),
	)
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27

	body := gin.H{
		"challenge": challengeResp.Challenge,
		"signature": hexutil.Encode(sig),
		"address":   owner.Hex(),
	}
	rec = postJSON(router, "/auth/login", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(router, "/auth/login", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	router, _ := newTestRouter(t, &stubChain{})

	for _, path := range []string{"/api/me", "/api/authorize", "/api/wallet"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := postJSON(router, "/vault/can-sign", gin.H{"vault": "0x1", "candidates": []string{}}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVaultCanSignOverHTTP(t *testing.T) {
	ownerA := common.HexToAddress("0x1111111111111111111111111111111111111111")
	chain := &stubChain{status: &core.VaultStatus{
		IsDeployed: true,
		Owners:     []common.Address{ownerA},
		Threshold:  1,
	}}
	router, _ := newTestRouter(t, chain)
	token, _ := loginForToken(t, router)

	rec := postJSON(router, "/vault/can-sign", gin.H{
		"vault":      "0x4444444444444444444444444444444444444444",
		"candidates": []string{ownerA.Hex()},
	}, map[string]string{"Authorization": "Bearer " + token})

	require.Equal(t, http.StatusOK, rec.Code)
	var elig vault.Eligibility
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &elig))
	assert.True(t, elig.Eligible)
	assert.Equal(t, 1, elig.Threshold)
}

func TestVaultExecuteInsufficientSignatures(t *testing.T) {
	ownerA := common.HexToAddress("0x1111111111111111111111111111111111111111")
	ownerB := common.HexToAddress("0x2222222222222222222222222222222222222222")
	chain := &stubChain{status: &core.VaultStatus{
		IsDeployed: true,
		Owners:     []common.Address{ownerA, ownerB},
		Threshold:  2,
	}}
	router, _ := newTestRouter(t, chain)
	token, _ := loginForToken(t, router)

	rec := postJSON(router, "/vault/execute", gin.H{
		"vault": "0x4444444444444444444444444444444444444444",
		"to":    ownerB.Hex(),
		"value": "0.5",
		"signatures": []gin.H{{
			"owner":     ownerA.Hex(),
			"kind":      "eoa",
			"signature": hexutil.Encode(bytes.Repeat([]byte{0x11}, 65)),
		}},
	}, map[string]string{"Authorization": "Bearer " + token})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp struct {
		Have int `json:"have"`
		Need int `json:"need"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Have)
	assert.Equal(t, 2, resp.Need)
}

func TestRegisterBeginIgnoresClaimedAddress(t *testing.T) {
	router, _ := newTestRouter(t, &stubChain{})

	// An anonymous caller cannot pre-bind the credential to someone else's
	// address; the ceremony runs under the anonymous handle.
	rec := postJSON(router, "/auth/webauthn/register/begin", gin.H{
		"address": "0x000000000000000000000000000000000000dEaD",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		PublicKey struct {
			User struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "spritz", resp.PublicKey.User.Name)
}

func TestRegisterBeginBindsSessionAddress(t *testing.T) {
	router, _ := newTestRouter(t, &stubChain{})
	token, owner := loginForToken(t, router)

	rec := postJSON(router, "/auth/webauthn/register/begin", gin.H{},
		map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		PublicKey struct {
			User struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, owner.Hex(), resp.PublicKey.User.Name)
}

func TestLogoutClearsCookie(t *testing.T) {
	router, _ := newTestRouter(t, &stubChain{})
	token, _ := loginForToken(t, router)

	rec := postJSON(router, "/auth/logout", gin.H{}, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)

	var cleared bool
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookie && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "logout must clear the session cookie")
}
