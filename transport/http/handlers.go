package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"

	"github.com/spritz-hq/spritz/core"
	"github.com/spritz-hq/spritz/ports"
	"github.com/spritz-hq/spritz/safe"
	"github.com/spritz-hq/spritz/service"
	"github.com/spritz-hq/spritz/vault"
)

// SessionCookie is the HTTP-only cookie carrying the session token alongside
// the bearer header.
const SessionCookie = "spritz_session"

const sessionCookieMaxAge = 7 * 24 * 60 * 60

// Handlers holds the HTTP surface over the auth and vault services.
type Handlers struct {
	auth     *service.AuthService
	ceremony *service.CeremonyService
	vault    *vault.Aggregator
	deriver  *safe.Deriver
	chain    ports.ChainBackend
	users    ports.UserStore
	log      *slog.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(
	auth *service.AuthService,
	ceremony *service.CeremonyService,
	aggregator *vault.Aggregator,
	deriver *safe.Deriver,
	chain ports.ChainBackend,
	users ports.UserStore,
	log *slog.Logger,
) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		auth:     auth,
		ceremony: ceremony,
		vault:    aggregator,
		deriver:  deriver,
		chain:    chain,
		users:    users,
		log:      log,
	}
}

// Challenge issues a single-use nonce for a wallet-signature login.
func (h *Handlers) Challenge(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	nonce, err := h.auth.CreateWalletChallenge(c.Request.Context(), req.Address, c.ClientIP())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": nonce})
}

// Login verifies a wallet signature over a previously issued challenge.
func (h *Handlers) Login(c *gin.Context) {
	var req struct {
		Challenge string `json:"challenge" binding:"required"`
		Signature string `json:"signature" binding:"required"`
		Address   string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	outcome, err := h.auth.WalletLogin(c.Request.Context(), req.Challenge, req.Signature, req.Address)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.renderOutcome(c, outcome)
}

// BeginRegistration returns WebAuthn registration options. The owner address
// is never taken from the request body: binding a credential to an address
// requires proof of control, so it comes from the caller's session or from a
// redeemed rescue grant. Without either, the signup is anonymous and the
// identity is derived from the key itself at finish.
func (h *Handlers) BeginRegistration(c *gin.Context) {
	var req struct {
		RescueToken string `json:"rescue_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	var (
		options *protocol.CredentialCreation
		err     error
	)
	if req.RescueToken != "" {
		options, err = h.ceremony.BeginRescueRegistration(c.Request.Context(), req.RescueToken, c.ClientIP())
	} else {
		options, err = h.ceremony.BeginRegistration(c.Request.Context(), h.sessionAddress(c), c.ClientIP())
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, options)
}

// sessionAddress returns the address of a valid session carried by the
// request, or "" when the caller is anonymous.
func (h *Handlers) sessionAddress(c *gin.Context) string {
	token := bearerToken(c)
	if token == "" {
		return ""
	}
	session, err := h.auth.ValidateSession(c.Request.Context(), token)
	if err != nil {
		return ""
	}
	return session.Address
}

// FinishRegistration consumes the registration challenge and stores the new
// credential. The body is the raw WebAuthn attestation response.
func (h *Handlers) FinishRegistration(c *gin.Context) {
	response, err := protocol.ParseCredentialCreationResponseBody(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed attestation response"})
		return
	}

	outcome, err := h.ceremony.FinishRegistration(c.Request.Context(), response, c.ClientIP())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.renderOutcome(c, outcome)
}

// BeginAuthentication returns WebAuthn assertion options.
func (h *Handlers) BeginAuthentication(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	options, err := h.ceremony.BeginAuthentication(c.Request.Context(), req.Address, c.ClientIP())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, options)
}

// FinishAuthentication consumes the authentication challenge and verifies the
// assertion. An orphaned credential yields a rescue offer instead of a 404.
func (h *Handlers) FinishAuthentication(c *gin.Context) {
	response, err := protocol.ParseCredentialRequestResponseBody(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed assertion response"})
		return
	}

	outcome, err := h.ceremony.FinishAuthentication(c.Request.Context(), response, c.ClientIP())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.renderOutcome(c, outcome)
}

// Logout publishes the logout event and clears the session cookie. The token
// itself remains valid until expiry.
func (h *Handlers) Logout(c *gin.Context) {
	token := bearerToken(c)
	if token != "" {
		if err := h.auth.Logout(c.Request.Context(), token); err != nil && !errors.Is(err, core.ErrTokenExpired) {
			h.respondError(c, err)
			return
		}
	}
	c.SetCookie(SessionCookie, "", -1, "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the authenticated user's row.
func (h *Handlers) Me(c *gin.Context) {
	address := c.GetString(ContextAddress)
	user, err := h.users.Get(c.Request.Context(), address)
	if err == core.ErrUserNotFound {
		c.JSON(http.StatusOK, gin.H{"address": address})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Authorize confirms the middleware accepted the caller's token.
func (h *Handlers) Authorize(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"authorized": true,
		"address":    c.GetString(ContextAddress),
		"method":     c.GetString(ContextAuthMethod),
	})
}

// SmartWallet returns the caller's derived wallet address and its deployment
// state.
func (h *Handlers) SmartWallet(c *gin.Context) {
	address := c.GetString(ContextAddress)

	var smartWallet common.Address
	if user, err := h.users.Get(c.Request.Context(), address); err == nil && user.SmartWalletAddress != "" {
		smartWallet = common.HexToAddress(user.SmartWalletAddress)
	} else {
		derived, derr := h.deriver.OwnerAddress(common.HexToAddress(address))
		if derr != nil {
			h.respondError(c, derr)
			return
		}
		smartWallet = derived
	}

	deployed, err := h.chain.IsDeployed(c.Request.Context(), smartWallet)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":        smartWallet.Hex(),
		"is_deployed":    deployed,
		"params_version": h.deriver.Params().Version,
	})
}

func (h *Handlers) renderOutcome(c *gin.Context, outcome core.AuthOutcome) {
	switch o := outcome.(type) {
	case *core.OutcomeReady:
		c.SetCookie(SessionCookie, o.AuthToken, sessionCookieMaxAge, "/", "", true, true)
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"token":  o.AuthToken,
			"user":   o.User,
		})
	case *core.OutcomeNeedsPasskey:
		c.JSON(http.StatusOK, gin.H{
			"status":  "needs_passkey",
			"address": o.WalletAddress,
		})
	case *core.OutcomeRescueAvailable:
		c.JSON(http.StatusOK, gin.H{
			"status":                      "rescue_available",
			"rescue_address":              o.RescueAddress,
			"rescue_token":                o.RescueToken,
			"requires_email_verification": o.RequiresEmailVerification,
			"masked_email":                o.MaskedEmail,
		})
	default:
		h.log.Error("unhandled auth outcome type")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// respondError maps domain sentinels onto HTTP statuses. Messages stay
// generic; detail goes to the log, not the attacker.
func (h *Handlers) respondError(c *gin.Context, err error) {
	var insufficient *core.InsufficientSignaturesError
	switch {
	case errors.Is(err, core.ErrMissingFields),
		errors.Is(err, core.ErrInvalidAddress),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrMalformedBytes),
		errors.Is(err, core.ErrChallengeNotFound),
		errors.Is(err, core.ErrChallengeExpired),
		errors.Is(err, core.ErrChallengeAlreadyUsed),
		errors.Is(err, core.ErrChallengeWrongCeremony):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidSignature),
		errors.Is(err, core.ErrVerificationFailed),
		errors.Is(err, core.ErrTokenExpired),
		errors.Is(err, core.ErrRescueNotAvailable):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
	case errors.Is(err, core.ErrCounterRegression),
		errors.Is(err, core.ErrNotAnOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrCredentialNotFound),
		errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrVaultNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrDuplicateCredential):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrRescueRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "insufficient signatures",
			"have":  insufficient.Have,
			"need":  insufficient.Need,
		})
	case errors.Is(err, core.ErrChainRead):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chain unavailable"})
	default:
		h.log.Error("request failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
