package imagestore

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndRead(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	data := []byte("fake image bytes")
	ref, err := s.Save("pothole.jpg", bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ref, "_pothole.jpg"))

	got, err := s.Read(ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSave_UniqueRefs(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	a, err := s.Save("same.jpg", strings.NewReader("one"))
	require.NoError(t, err)
	b, err := s.Save("same.jpg", strings.NewReader("two"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	gotA, err := s.Read(a)
	require.NoError(t, err)
	assert.Equal(t, "one", string(gotA))
}

func TestSave_SanitizesPath(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	ref, err := s.Save("../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	assert.NotContains(t, ref, "..")
	assert.True(t, strings.HasSuffix(ref, "_passwd"))
}

func TestRead_Missing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read("does-not-exist.jpg")
	assert.Error(t, err)
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "image/png", MediaType("abc_photo.PNG"))
	assert.Equal(t, "image/gif", MediaType("abc_anim.gif"))
	assert.Equal(t, "image/webp", MediaType("abc_pic.webp"))
	assert.Equal(t, "image/jpeg", MediaType("abc_photo.jpg"))
	assert.Equal(t, "image/jpeg", MediaType("no-extension"))
}
