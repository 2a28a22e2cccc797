package fakepds

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/skytab/pkg/httpx"
	"github.com/aussiebroadwan/skytab/pkg/model"
	"github.com/aussiebroadwan/skytab/pkg/slogx"
)

type createRecordInput struct {
	Repo       string          `json:"repo"`
	Collection string          `json:"collection"`
	Record     json.RawMessage `json:"record"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	viewer, ok := s.requireViewer(w, r)
	if !ok {
		return
	}

	var in createRecordInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRequest", "malformed body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ownsRepoLocked(viewer, in.Repo) {
		httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRequest", "repo does not belong to the authenticated account")
		return
	}

	switch in.Collection {
	case model.CollectionPost:
		var rec struct {
			Type string `json:"$type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(in.Record, &rec); err != nil || rec.Type != model.CollectionPost {
			httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRecord", "invalid post record")
			return
		}
		if strings.TrimSpace(rec.Text) == "" {
			httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRecord", "post text is required")
			return
		}
		p := s.insertPostLocked(viewer, rec.Text, s.now(), "", nil)
		log.Debug("post created", "uri", p.uri)
		writeCreated(w, p.uri, p.cid)

	case model.CollectionLike:
		var rec struct {
			Type    string `json:"$type"`
			Subject struct {
				URI string `json:"uri"`
				CID string `json:"cid"`
			} `json:"subject"`
		}
		if err := json.Unmarshal(in.Record, &rec); err != nil || rec.Type != model.CollectionLike {
			httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRecord", "invalid like record")
			return
		}
		p, found := s.postsByURI[rec.Subject.URI]
		if !found || p.deleted {
			httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRecord", "subject not found")
			return
		}
		uri := s.likeLocked(viewer, p)
		writeCreated(w, uri, "bafyreilike")

	default:
		httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRequest", "unsupported collection "+in.Collection)
	}
}

func (s *Server) ownsRepoLocked(viewer, repo string) bool {
	if repo == viewer {
		return true
	}
	return s.identities[repo] == viewer
}

func writeCreated(w http.ResponseWriter, uri, cid string) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"uri":              uri,
		"cid":              cid,
		"commit":           map[string]string{"cid": cid, "rev": "3k000000000"},
		"validationStatus": "valid",
	})
}
