package session

import (
	"encoding/json"
	"strings"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/xrpc"
)

// Session lexicon methods.
const (
	NSIDCreateSession  = "com.atproto.server.createSession"
	NSIDRefreshSession = "com.atproto.server.refreshSession"
	NSIDDeleteSession  = "com.atproto.server.deleteSession"
)

type createSessionInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// sessionOutput is shared by createSession and refreshSession.
type sessionOutput struct {
	AccessJwt  string          `json:"accessJwt"`
	RefreshJwt string          `json:"refreshJwt"`
	Handle     string          `json:"handle"`
	DID        string          `json:"did"`
	DIDDoc     json.RawMessage `json:"didDoc,omitempty"`
}

func decodeSessionOutput(op string, resp *xrpc.Response) (sessionOutput, error) {
	var out sessionOutput
	if err := resp.Decode(op, &out); err != nil {
		return sessionOutput{}, err
	}
	switch {
	case out.AccessJwt == "":
		return sessionOutput{}, apierr.Malformed(op, "missing accessJwt")
	case out.RefreshJwt == "":
		return sessionOutput{}, apierr.Malformed(op, "missing refreshJwt")
	case out.DID == "":
		return sessionOutput{}, apierr.Malformed(op, "missing did")
	}
	return out, nil
}

type didDocument struct {
	ID      string `json:"id"`
	Service []struct {
		ID              string `json:"id"`
		Type            string `json:"type"`
		ServiceEndpoint any    `json:"serviceEndpoint"`
	} `json:"service"`
}

// pdsEndpoint returns the #atproto_pds service endpoint from a DID document,
// or "" when there is none usable.
func pdsEndpoint(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var doc didDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	for _, svc := range doc.Service {
		if !strings.HasSuffix(svc.ID, "#atproto_pds") {
			continue
		}
		endpoint, ok := svc.ServiceEndpoint.(string)
		if !ok {
			continue
		}
		if _, err := xrpc.ParseService(endpoint); err != nil {
			continue
		}
		return xrpc.NormalizeService(endpoint)
	}
	return ""
}
