package http

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter wires the gin router. Vault routes require a session because
// co-signing is always done on behalf of an authenticated owner.
func SetupRouter(h *Handlers) *gin.Engine {
	router := gin.Default()

	auth := router.Group("/auth")
	{
		auth.POST("/challenge", h.Challenge)
		auth.POST("/login", h.Login)
		auth.POST("/webauthn/register/begin", h.BeginRegistration)
		auth.POST("/webauthn/register/finish", h.FinishRegistration)
		auth.POST("/webauthn/login/begin", h.BeginAuthentication)
		auth.POST("/webauthn/login/finish", h.FinishAuthentication)
		auth.POST("/logout", h.Logout)
	}

	api := router.Group("/api")
	api.Use(AuthMiddleware(h.auth))
	{
		api.GET("/me", h.Me)
		api.GET("/authorize", h.Authorize)
		api.GET("/wallet", h.SmartWallet)
	}

	vaultGroup := router.Group("/vault")
	vaultGroup.Use(AuthMiddleware(h.auth))
	{
		vaultGroup.POST("/can-sign", h.VaultCanSign)
		vaultGroup.POST("/hash", h.VaultTransactionHash)
		vaultGroup.POST("/execute", h.VaultExecute)
	}

	return router
}
