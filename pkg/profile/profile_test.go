package profile

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	Mount(g)

	testCases := []struct {
		path   string
		status int
	}{
		{PathPrefix + "/", http.StatusOK},
		{PathPrefix + "/cmdline", http.StatusOK},
		{PathPrefix + "/goroutine?debug=1", http.StatusOK},
		{PathPrefix + "/unknown", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.status, w.Code)
		})
	}
}
