package router

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passgate/passgate/internal/pkg/constants"
)

const openAPIPath = "../../../public/docs/v1/openapi.yml"

var fiberParam = regexp.MustCompile(`:(\w+)`)

func loadOpenAPI(t *testing.T) *openapi3.T {
	t.Helper()
	doc, err := openapi3.NewLoader().LoadFromFile(openAPIPath)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	return doc
}

func TestOpenAPIDocumentsEveryV1Route(t *testing.T) {
	doc := loadOpenAPI(t)
	env := newTestEnv(t, nil)

	seen := 0
	for _, r := range env.app.GetRoutes(true) {
		if !strings.HasPrefix(r.Path, constants.APIV1Route+"/") {
			continue
		}
		switch r.Method {
		case http.MethodGet, http.MethodPost, http.MethodPut:
		default:
			continue
		}
		seen++

		path := fiberParam.ReplaceAllString(strings.TrimPrefix(r.Path, constants.APIV1Route), "{$1}")
		item := doc.Paths.Find(path)
		if !assert.NotNil(t, item, "route %s %s is not documented", r.Method, r.Path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(r.Method), "route %s %s has no documented operation", r.Method, r.Path)
	}
	assert.Greater(t, seen, 10)
}

func TestOpenAPIHasNoUnservedPaths(t *testing.T) {
	doc := loadOpenAPI(t)
	env := newTestEnv(t, nil)

	served := map[string]bool{}
	for _, r := range env.app.GetRoutes(true) {
		served[fiberParam.ReplaceAllString(r.Path, "{$1}")] = true
	}
	for path := range doc.Paths.Map() {
		assert.True(t, served[constants.APIV1Route+path], "documented path %s is not routed", path)
	}
}
