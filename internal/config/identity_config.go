package config

const (
	ProviderOIDC = "oidc"
	ProviderDev  = "dev"
)

type Identity struct {
	file *FileConfig
}

var _ IdentityConfig = Identity{}

// GetIdentityProvider returns "oidc" or "dev". The dev provider is in-memory.
func (i Identity) GetIdentityProvider() string {
	return lookup("IDENTITY_PROVIDER", i.file.Identity.Provider, ProviderDev)
}

func (i Identity) GetOIDCIssuer() string {
	return lookup("OIDC_ISSUER", i.file.Identity.Issuer, "")
}

func (i Identity) GetOIDCClientID() string {
	return lookup("OIDC_CLIENT_ID", i.file.Identity.ClientID, "learnbox-web")
}

func (i Identity) GetOIDCClientSecret() string {
	return lookup("OIDC_CLIENT_SECRET", i.file.Identity.ClientSecret, "")
}

// GetAccountsURL is the base URL of the provider's account endpoints
// (sign-up, verification email, password reset).
func (i Identity) GetAccountsURL() string {
	return lookup("IDENTITY_ACCOUNTS_URL", i.file.Identity.AccountsURL, i.GetOIDCIssuer()+"/accounts")
}

func (i Identity) GetPasswordMinLength() int {
	return lookupInt("PASSWORD_MIN_LENGTH", i.file.Identity.PasswordMinLength, 8)
}
