package domain

// TenantKey identifies one scheduling domain: a social platform plus the
// account being posted to. All locking and checkpointing is scoped to it.
type TenantKey struct {
	Platform string
	Account  string
}

// String renders the key as "platform/account" for lock keys and log lines.
func (k TenantKey) String() string {
	return k.Platform + "/" + k.Account
}

// IsZero reports whether either half of the key is missing.
func (k TenantKey) IsZero() bool {
	return k.Platform == "" || k.Account == ""
}
