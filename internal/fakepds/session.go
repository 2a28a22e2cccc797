package fakepds

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/skytab/pkg/httpx"
	"github.com/aussiebroadwan/skytab/pkg/jwtx"
	"github.com/aussiebroadwan/skytab/pkg/slogx"
)

type sessionOutput struct {
	AccessJwt  string         `json:"accessJwt"`
	RefreshJwt string         `json:"refreshJwt"`
	Handle     string         `json:"handle"`
	DID        string         `json:"did"`
	Email      string         `json:"email,omitempty"`
	DIDDoc     map[string]any `json:"didDoc,omitempty"`
	Active     bool           `json:"active"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	var in struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Identifier == "" || in.Password == "" {
		httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRequest", "identifier and password are required")
		return
	}

	s.mu.Lock()
	did := s.identities[in.Identifier]
	acct, ok := s.accounts[did]
	if !ok || !acct.checkPassword(in.Password) {
		s.mu.Unlock()
		log.Info("login rejected", "identifier", in.Identifier)
		httpx.WriteXRPCError(w, http.StatusUnauthorized, "AuthenticationRequired", "Invalid identifier or password")
		return
	}
	out, err := s.issueLocked(acct)
	s.mu.Unlock()

	if err != nil {
		log.Error("issue session", "err", err)
		httpx.WriteXRPCError(w, http.StatusInternalServerError, "InternalServerError", "failed to issue session")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	raw, ok := httpx.BearerToken(r)
	if !ok {
		httpx.WriteXRPCError(w, http.StatusUnauthorized, "AuthenticationRequired", "missing refresh token")
		return
	}

	claims, err := s.signer.Verify(raw, jwtx.ScopeRefresh)
	if err != nil {
		writeTokenError(w, err)
		return
	}

	s.mu.Lock()
	did, live := s.liveReauth[claims.ID]
	if !live || did != claims.Subject {
		s.mu.Unlock()
		httpx.WriteXRPCError(w, http.StatusBadRequest, "ExpiredToken", "Token has been revoked")
		return
	}
	delete(s.liveReauth, claims.ID)
	acct := s.accounts[did]
	out, err := s.issueLocked(acct)
	s.mu.Unlock()

	if err != nil {
		log.Error("issue session", "err", err)
		httpx.WriteXRPCError(w, http.StatusInternalServerError, "InternalServerError", "failed to issue session")
		return
	}
	log.Debug("session refreshed", "did", did)
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	raw, ok := httpx.BearerToken(r)
	if !ok {
		httpx.WriteXRPCError(w, http.StatusUnauthorized, "AuthenticationRequired", "missing refresh token")
		return
	}
	claims, err := s.signer.Verify(raw, jwtx.ScopeRefresh)
	if err != nil {
		writeTokenError(w, err)
		return
	}

	s.mu.Lock()
	delete(s.liveReauth, claims.ID)
	s.mu.Unlock()

	httpx.NoCache(w)
	w.WriteHeader(http.StatusOK)
}

// issueLocked mints a token pair for acct.
func (s *Server) issueLocked(acct *Account) (sessionOutput, error) {
	now := s.now()

	access := jwtx.NewClaims(acct.DID, jwtx.ScopeAccess, "", s.accessTTL, now)
	accessJwt, err := s.signer.Sign(access)
	if err != nil {
		return sessionOutput{}, err
	}
	refresh := jwtx.NewClaims(acct.DID, jwtx.ScopeRefresh, "", s.refreshTTL, now)
	refreshJwt, err := s.signer.Sign(refresh)
	if err != nil {
		return sessionOutput{}, err
	}

	s.liveAccess[access.ID] = acct.DID
	s.liveReauth[refresh.ID] = acct.DID

	out := sessionOutput{
		AccessJwt:  accessJwt,
		RefreshJwt: refreshJwt,
		Handle:     acct.Handle,
		DID:        acct.DID,
		Email:      acct.Email,
		Active:     true,
	}
	if s.endpoint != "" {
		out.DIDDoc = map[string]any{
			"id":          acct.DID,
			"alsoKnownAs": []string{"at://" + acct.Handle},
			"service": []map[string]any{{
				"id":              "#atproto_pds",
				"type":            "AtprotoPersonalDataServer",
				"serviceEndpoint": s.endpoint,
			}},
		}
	}
	return out, nil
}

// viewer authenticates the request's access token. A request without one
// is anonymous (""). ok is false when an error response was written.
func (s *Server) viewer(w http.ResponseWriter, r *http.Request) (did string, ok bool) {
	raw, present := httpx.BearerToken(r)
	if !present {
		return "", true
	}

	claims, err := s.signer.Verify(raw, jwtx.ScopeAccess)
	if err != nil {
		writeTokenError(w, err)
		return "", false
	}

	s.mu.Lock()
	owner, live := s.liveAccess[claims.ID]
	s.mu.Unlock()
	if !live || owner != claims.Subject {
		httpx.WriteXRPCError(w, http.StatusBadRequest, "ExpiredToken", "Token has expired")
		return "", false
	}
	return owner, true
}

func (s *Server) requireViewer(w http.ResponseWriter, r *http.Request) (string, bool) {
	did, ok := s.viewer(w, r)
	if !ok {
		return "", false
	}
	if did == "" {
		httpx.WriteXRPCError(w, http.StatusUnauthorized, "AuthenticationRequired", "Authentication Required")
		return "", false
	}
	return did, true
}

func writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		httpx.WriteXRPCError(w, http.StatusBadRequest, "ExpiredToken", "Token has expired")
	default:
		httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidToken", "Token could not be verified")
	}
}
