package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
)

type itemBody struct {
	Name  string          `json:"name" validate:"required,max=10"`
	Price decimal.Decimal `json:"price" validate:"money"`
}

type ticketBody struct {
	Mode  string           `json:"service_mode" validate:"required,service_mode"`
	Items []itemBody       `json:"items" validate:"required,min=1,dive"`
	Tip   *decimal.Decimal `json:"tip" validate:"omitempty,money"`
}

func post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func details(t *testing.T, err error) map[string]string {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	d, _ := typed.Details().(map[string]string)
	return d
}

func TestDecodeJSONBodyAcceptsValidTicket(t *testing.T) {
	var dest ticketBody
	err := DecodeJSONBody(post(`{"service_mode":"menu+order","items":[{"name":"Latte","price":"4.50"}],"tip":"1"}`), &dest)
	require.NoError(t, err)
	assert.True(t, dest.Items[0].Price.Equal(decimal.RequireFromString("4.5")))
}

func TestDecodeJSONBodyReportsFieldPaths(t *testing.T) {
	var dest ticketBody
	err := DecodeJSONBody(post(`{"service_mode":"delivery","items":[{"name":"","price":"-1"}],"tip":"0.001"}`), &dest)

	d := details(t, err)
	assert.Equal(t, "must be menu-only or menu+order", d["service_mode"])
	assert.Equal(t, "is required", d["items[0].name"])
	assert.Contains(t, d["items[0].price"], "non-negative")
	assert.Contains(t, d, "tip")
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	tests := map[string]string{
		"empty":         ``,
		"unknown field": `{"service_mode":"menu-only","items":[{"name":"a","price":"1"}],"table":"4"}`,
		"trailing data": `{"service_mode":"menu-only","items":[{"name":"a","price":"1"}]} {}`,
		"wrong type":    `{"service_mode":7}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			var dest ticketBody
			err := DecodeJSONBody(post(body), &dest)
			require.Error(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
		})
	}
}

func TestDecodeJSONBodyEnforcesSizeLimit(t *testing.T) {
	var dest ticketBody
	body := `{"service_mode":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	err := DecodeJSONBody(post(body), &dest)
	require.Error(t, err)
	assert.Contains(t, pkgerrors.As(err).Message(), "exceeds")
}

func TestParseQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=20&unreadOnly=true&bad=x", nil)

	limit, err := ParseQueryInt(r, "limit", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 20, limit)

	limit, err = ParseQueryInt(r, "missing", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 25, limit)

	_, err = ParseQueryInt(r, "bad", 25, 1, 100)
	assert.Error(t, err)

	unread, err := ParseQueryBool(r, "unreadOnly", false)
	require.NoError(t, err)
	assert.True(t, unread)

	_, err = ParseQueryBool(r, "bad", false)
	assert.Error(t, err)
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "Ana", SanitizeString("  Ana  ", 10))
	assert.Equal(t, "Tab", SanitizeString("Table 12", 3))
	assert.Equal(t, "x", SanitizeString(" x ", 0))
}
