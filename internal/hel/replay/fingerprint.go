// Package replay implements the Record/Replay collaborator (spec §4.K):
// recording every HTTP transaction a source's resilience.Wrapper sends to
// a fixture file, and replaying those fixtures back without any network
// traffic. Both the Recorder and the Player satisfy httpexec.Doer, so
// either drops in wherever resilience.New normally takes a live
// *httpexec.Executor.
package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprint computes the hex SHA-256 of method, url, and the request
// body's canonical form, joined by newlines (spec §4.K, §6 "Record/replay
// file layout"). A JSON body is canonicalized by round-tripping through
// encoding/json, which sorts object keys; a non-JSON body is hashed as-is.
func fingerprint(method, url string, body []byte) string {
	canonical := canonicalizeBody(body)
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte("\n"))
	h.Write([]byte(url))
	h.Write([]byte("\n"))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalizeBody(body []byte) []byte {
	if len(body) == 0 {
		return body
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return canon
}
