package httpx

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"login_name":"bob","typo_field":1}`))

	var body struct {
		LoginName string `json:"login_name"`
	}
	err := DecodeJSON(r, &body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "typo_field")
}

func TestDecodeJSONCapsBodySize(t *testing.T) {
	huge := `{"login_name":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	r := httptest.NewRequest("POST", "/", strings.NewReader(huge))

	var body struct {
		LoginName string `json:"login_name"`
	}
	err := DecodeJSON(r, &body)
	assert.Error(t, err)
}

func TestProblemWritesRFC7807Body(t *testing.T) {
	w := httptest.NewRecorder()
	Problem(w, 409, "Conflict", "login name taken")

	assert.Equal(t, 409, w.Code)
	assert.Equal(t, "application/problem+json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"title":"Conflict"`)
	assert.Contains(t, w.Body.String(), `"detail":"login name taken"`)
}
