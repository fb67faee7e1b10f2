package media

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"write-paid/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var keyPattern = regexp.MustCompile(`^courses/[0-9a-f-]{36}-[a-z0-9-]+(\.[a-z0-9]+)?$`)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		filename string
		suffix   string
	}{
		{filename: "Intro Lesson.MP4", suffix: "-intro-lesson.mp4"},
		{filename: "../../etc/passwd", suffix: "-passwd"},
		{filename: "обложка.png", suffix: "-oblozhka.png"},
		{filename: "   ", suffix: "-file"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			key := ObjectKey(tt.filename)
			assert.Regexp(t, keyPattern, key)
			assert.True(t, strings.HasSuffix(key, tt.suffix), key)
		})
	}
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent")

	signer, err := NewSigner(context.Background(), config.StorageConfig{
		Endpoint:        "https://account.r2.cloudflarestorage.com",
		Region:          "auto",
		Bucket:          "course-media",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		PublicBaseURL:   "https://cdn.example.com",
	}, zap.NewNop())
	require.NoError(t, err)
	return signer
}

func TestSignUpload(t *testing.T) {
	signer := newTestSigner(t)

	upload, err := signer.SignUpload(context.Background(), "Lesson 1.mp4", "video/mp4")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, upload.Method)
	assert.Regexp(t, keyPattern, upload.Key)
	assert.True(t, strings.HasPrefix(upload.UploadURL, "https://account.r2.cloudflarestorage.com/course-media/courses/"), upload.UploadURL)
	assert.Contains(t, upload.UploadURL, "X-Amz-Signature=")
	assert.Contains(t, upload.UploadURL, "X-Amz-Expires=900")
	assert.Equal(t, "https://cdn.example.com/"+upload.Key, upload.PublicURL)
}

func TestSignUploadRejectsUnsupportedType(t *testing.T) {
	signer := newTestSigner(t)

	_, err := signer.SignUpload(context.Background(), "script.sh", "application/x-sh")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
