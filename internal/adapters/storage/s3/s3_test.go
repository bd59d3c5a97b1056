package s3

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scenerender/internal/pkg/errors"
)

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(Config{Endpoint: "localhost:9000"})
	assert.True(t, errors.IsValidation(err))
}

func TestMapErr(t *testing.T) {
	s := &Storage{bucket: "scenes"}

	err := s.mapErr(minio.ErrorResponse{StatusCode: http.StatusNotFound, Code: "NoSuchKey"}, "s3.stat", "models/x.glb")
	assert.True(t, errors.IsNotFound(err))

	err = s.mapErr(minio.ErrorResponse{StatusCode: http.StatusForbidden, Code: "AccessDenied"}, "s3.stat", "models/x.glb")
	assert.True(t, errors.IsCode(err, errors.CodeUnavailable))
}

func TestPresignDoesNotNeedNetwork(t *testing.T) {
	s, err := New(Config{
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		Bucket:    "scenes",
		AccessKey: "minio",
		SecretKey: "minio123",
		PathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "s3", s.Provider())

	out, err := s.GetSignedURL(context.Background(), "models/r1.glb", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, out.URL, "/scenes/models/r1.glb")
	assert.Contains(t, out.URL, "X-Amz-Signature=")
}
