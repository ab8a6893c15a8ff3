package api

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// AdminCredentialHeader carries the plaintext admin credential, checked
// against a bcrypt hash loaded at startup.
const AdminCredentialHeader = "X-Admin-Credential"

// AdminGate protects operator endpoints. It never explains which part
// of the check failed.
type AdminGate struct {
	credHash []byte
}

func NewAdminGate(credHash string) *AdminGate {
	return &AdminGate{credHash: []byte(credHash)}
}

// Check reports whether the request carries a valid admin credential.
func (g *AdminGate) Check(r *http.Request) bool {
	cred := r.Header.Get(AdminCredentialHeader)
	if cred == "" || len(g.credHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(g.credHash, []byte(cred)) == nil
}

// Require is chi middleware rejecting requests without the credential.
func (g *AdminGate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Check(r) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
