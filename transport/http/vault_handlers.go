package http

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/spritz-hq/spritz/core"
)

// vaultTransactionRequest is the shared transaction payload. Value is a
// human-denominated ETH amount; Data and signatures are 0x-hex.
type vaultTransactionRequest struct {
	Vault string `json:"vault" binding:"required"`
	To    string `json:"to" binding:"required"`
	Value string `json:"value"`
	Data  string `json:"data"`
	Nonce *int64 `json:"nonce"`
}

func (r *vaultTransactionRequest) toTransaction() (*core.VaultTransaction, error) {
	if !common.IsHexAddress(r.Vault) || !common.IsHexAddress(r.To) {
		return nil, core.ErrInvalidAddress
	}

	value := new(big.Int)
	if r.Value != "" {
		eth, err := decimal.NewFromString(r.Value)
		if err != nil || eth.IsNegative() {
			return nil, core.ErrMissingFields
		}
		value = eth.Mul(decimal.New(1, 18)).BigInt()
	}

	var data []byte
	if r.Data != "" {
		decoded, err := hexutil.Decode(r.Data)
		if err != nil {
			return nil, core.ErrMalformedBytes
		}
		data = decoded
	}

	tx := &core.VaultTransaction{
		Vault: common.HexToAddress(r.Vault),
		To:    common.HexToAddress(r.To),
		Value: value,
		Data:  data,
	}
	if r.Nonce != nil {
		tx.Nonce = big.NewInt(*r.Nonce)
	}
	return tx, nil
}

// VaultCanSign reports whether any candidate address may co-sign on the vault.
func (h *Handlers) VaultCanSign(c *gin.Context) {
	var req struct {
		Vault      string   `json:"vault" binding:"required"`
		Candidates []string `json:"candidates" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !common.IsHexAddress(req.Vault) {
		h.respondError(c, core.ErrInvalidAddress)
		return
	}
	candidates := make([]common.Address, 0, len(req.Candidates))
	for _, cand := range req.Candidates {
		if !common.IsHexAddress(cand) {
			h.respondError(c, core.ErrInvalidAddress)
			return
		}
		candidates = append(candidates, common.HexToAddress(cand))
	}

	eligibility, err := h.vault.CanSign(c.Request.Context(), common.HexToAddress(req.Vault), candidates, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eligibility)
}

// VaultTransactionHash returns the vault contract's hash for the transaction,
// the value each owner must sign.
func (h *Handlers) VaultTransactionHash(c *gin.Context) {
	var req vaultTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	tx, err := req.toTransaction()
	if err != nil {
		h.respondError(c, err)
		return
	}

	hash, err := h.vault.ComputeTransactionHash(c.Request.Context(), tx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": hash.Hex()})
}

// VaultExecute submits the transaction with the collected owner signatures.
func (h *Handlers) VaultExecute(c *gin.Context) {
	var req struct {
		vaultTransactionRequest
		Signatures []struct {
			Owner     string `json:"owner" binding:"required"`
			Kind      string `json:"kind" binding:"required"`
			Signature string `json:"signature" binding:"required"`
		} `json:"signatures" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	tx, err := req.toTransaction()
	if err != nil {
		h.respondError(c, err)
		return
	}

	signatures := make([]core.OwnerSignature, 0, len(req.Signatures))
	for _, sig := range req.Signatures {
		if !common.IsHexAddress(sig.Owner) {
			h.respondError(c, core.ErrInvalidAddress)
			return
		}
		raw, derr := hexutil.Decode(sig.Signature)
		if derr != nil {
			h.respondError(c, core.ErrMalformedBytes)
			return
		}
		kind := core.SignerEOA
		if sig.Kind == "contract" {
			kind = core.SignerContract
		}
		signatures = append(signatures, core.OwnerSignature{
			Owner:     common.HexToAddress(sig.Owner),
			Kind:      kind,
			Signature: raw,
		})
	}

	txHash, err := h.vault.Execute(c.Request.Context(), tx, signatures)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tx_hash": txHash.Hex()})
}
