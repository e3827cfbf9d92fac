package credential

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// AdminAccount holds the single administrator credential that gates the
// admin surface. The secret is stored as "<salt-hex>:<hash-hex>".
type AdminAccount struct {
	user   string
	hash   string
	salt   string
	hasher *Hasher
}

// EncodeSecret joins a Hash result into the form ParseAdminAccount reads.
func EncodeSecret(hash, salt string) string {
	return salt + ":" + hash
}

// ParseAdminAccount decodes secret and checks that it is usable.
func ParseAdminAccount(user, secret string, hasher *Hasher) (*AdminAccount, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, errors.New("admin user is required")
	}
	salt, hash, ok := strings.Cut(strings.TrimSpace(secret), ":")
	if !ok {
		return nil, corruptError{reason: "admin secret is not salt:hash"}
	}
	if hasher == nil {
		hasher = NewHasher(MinIterations)
	}
	account := &AdminAccount{user: user, hash: hash, salt: salt, hasher: hasher}
	if _, err := hasher.Verify("", hash, salt); err != nil {
		return nil, err
	}
	return account, nil
}

func (a *AdminAccount) User() string {
	return a.user
}

// Verify reports whether user and password match the account. The key is
// always derived so a wrong user name costs the same as a wrong password.
func (a *AdminAccount) Verify(user, password string) (bool, error) {
	ok, err := a.hasher.Verify(password, a.hash, a.salt)
	if err != nil {
		return false, err
	}
	sameUser := subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) == 1
	return ok && sameUser, nil
}
