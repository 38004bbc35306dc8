package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkgErrors "github.com/vogiaan1904/ticketbottle-admission/pkg/errors"
)

func TestError_UsesClassification(t *testing.T) {
	rec := httptest.NewRecorder()
	httpErr := pkgErrors.NewHTTPError(http.StatusGone, "ADM020", "Gone").WithDetails(map[string]int{"position": 3})

	require.NoError(t, Error(rec, fmt.Errorf("wrapped: %w", httpErr)))
	assert.Equal(t, http.StatusGone, rec.Code)

	var body Resp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ADM020", body.ErrorCode)
	assert.Equal(t, map[string]any{"position": float64(3)}, body.Errors)
}

func TestError_UnclassifiedIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, Error(rec, errors.New("boom")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}
