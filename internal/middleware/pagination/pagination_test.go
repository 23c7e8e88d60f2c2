package pagination_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencrafts-io/interventoria/internal/middleware/pagination"
)

func TestParsePageParams(t *testing.T) {
	cases := map[string]pagination.PageParams{
		"/":                        {Page: 1, PageSize: pagination.DefaultPageSize, Offset: 0},
		"/?page=3&page_size=10":    {Page: 3, PageSize: 10, Offset: 20},
		"/?page=-1&page_size=1000": {Page: 1, PageSize: pagination.DefaultPageSize, Offset: 0},
		"/?page=x":                 {Page: 1, PageSize: pagination.DefaultPageSize, Offset: 0},
	}
	for target, want := range cases {
		got := pagination.ParsePageParams(httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, want, got, target)
	}
}

func TestBuildPaginatedResponse(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://portal.local/api/audit/access?page=2&page_size=10", nil)
	params := pagination.ParsePageParams(r)

	resp := pagination.BuildPaginatedResponse(r, 25, []int{1}, params)
	assert.Equal(t, int64(25), resp.Count)
	require.NotNil(t, resp.Next)
	require.NotNil(t, resp.Previous)
	assert.Equal(t, "http://portal.local/api/audit/access?page=3&page_size=10", *resp.Next)
	assert.Equal(t, "http://portal.local/api/audit/access?page=1&page_size=10", *resp.Previous)

	last := pagination.BuildPaginatedResponse(r, 20, nil, params)
	assert.Nil(t, last.Next)
}
