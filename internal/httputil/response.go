package httputil

import (
	"encoding/json"
	"net/http"
)

const rfc9110 = "https://datatracker.ietf.org/doc/html/rfc9110#section-"

// problemTypes maps statuses this API emits to their RFC 9110 sections
var problemTypes = map[int]string{
	http.StatusBadRequest:            rfc9110 + "15.5.1",
	http.StatusUnauthorized:          rfc9110 + "15.5.2",
	http.StatusForbidden:             rfc9110 + "15.5.4",
	http.StatusNotFound:              rfc9110 + "15.5.5",
	http.StatusConflict:              rfc9110 + "15.5.10",
	http.StatusRequestEntityTooLarge: rfc9110 + "15.5.14",
	http.StatusInternalServerError:   rfc9110 + "15.6.1",
	http.StatusServiceUnavailable:    rfc9110 + "15.6.4",
}

// Problem is an RFC 7807 body. Extensions are flattened next to the standard
// members, so {"current_state": "public"} sits beside "status".
type Problem struct {
	Status     int
	Detail     string
	Extensions map[string]interface{}
}

// MarshalJSON flattens extensions. Standard members win on key collisions.
func (p Problem) MarshalJSON() ([]byte, error) {
	body := make(map[string]interface{}, len(p.Extensions)+4)
	for k, v := range p.Extensions {
		body[k] = v
	}

	typ, ok := problemTypes[p.Status]
	if !ok {
		typ = "about:blank"
	}
	body["type"] = typ
	body["title"] = http.StatusText(p.Status)
	body["status"] = p.Status
	if p.Detail != "" {
		body["detail"] = p.Detail
	}
	return json.Marshal(body)
}

// RespondJSON writes data as JSON. Encoding happens before any header is
// sent so a failure can still become a 500.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	write(w, status, "application/json", payload)
}

// RespondError writes a problem response without extensions
func RespondError(w http.ResponseWriter, status int, detail string) {
	RespondErrorWithExtras(w, status, detail, nil)
}

// RespondErrorWithExtras writes a problem response carrying extra members
func RespondErrorWithExtras(w http.ResponseWriter, status int, detail string, extras map[string]interface{}) {
	payload, err := json.Marshal(Problem{Status: status, Detail: detail, Extensions: extras})
	if err != nil {
		write(w, http.StatusInternalServerError, "text/plain; charset=utf-8", []byte("internal server error"))
		return
	}
	write(w, status, "application/problem+json", payload)
}

func write(w http.ResponseWriter, status int, contentType string, payload []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
