package domain

// TenantCredentials holds the per-tenant secrets required to operate the bot.
// The channel account fields are ciphertext envelopes; plaintext is never
// persisted and is only held for the scope of a single webhook invocation.
type TenantCredentials struct {
	RecordID string
	TenantID string
	// ChannelAccountSID and ChannelAuthToken are encrypted envelopes
	// (base64 JSON {iv, value}) decrypted on demand by internal/crypt.
	ChannelAccountSID string
	ChannelAuthToken  string
	// NLUCredentialsRef points at externally stored JSON key material for
	// the intent engine.
	NLUCredentialsRef string
}
