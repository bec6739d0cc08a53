package core

// AuthOutcome is the discriminated result of an authentication attempt. Every
// consumer switches on the concrete type; there is no bag of optional fields.
type AuthOutcome interface {
	isAuthOutcome()
}

// OutcomeReady means the caller is authenticated as WalletAddress.
type OutcomeReady struct {
	User      *User
	AuthToken string
}

// OutcomeNeedsPasskey means the identity exists but has no usable passkey and
// the client should start a registration ceremony.
type OutcomeNeedsPasskey struct {
	WalletAddress string
}

// OutcomeRescueAvailable means the presented credential is orphaned and a
// rate-limited re-link is on offer.
type OutcomeRescueAvailable struct {
	RescueAddress             string
	RescueToken               string
	RequiresEmailVerification bool
	MaskedEmail               string
}

func (OutcomeReady) isAuthOutcome()           {}
func (OutcomeNeedsPasskey) isAuthOutcome()    {}
func (OutcomeRescueAvailable) isAuthOutcome() {}
