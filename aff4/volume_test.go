package aff4

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarbonWolf/aff4/internal/aff4rdf"
	"github.com/CarbonWolf/aff4/internal/image"
)

func TestVolumeCreateWriteImageReopenAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.aff4")

	vol, err := Create(path, aff4rdf.URN(""), Options{})
	require.NoError(t, err)

	streamURN := aff4rdf.NewURN(vol.URN().String() + "/disk0")
	img := vol.NewImageStream(streamURN, image.Options{ChunkSize: 32, ChunksInSegment: 4})
	payload := bytes.Repeat([]byte("evidence-bytes-"), 50)
	_, err = img.Write(payload)
	require.NoError(t, err)
	require.NoError(t, img.Close())
	require.NoError(t, vol.Close())

	vol2, err := Open(path, Options{})
	require.NoError(t, err)
	defer vol2.Close()

	reader, err := vol2.OpenStream(streamURN)
	require.NoError(t, err)
	defer vol2.Resolver().CacheReturn(streamURN)

	buf := make([]byte, len(payload))
	n, err := reader.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestVolumeMapStreamOverTwoImageTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.aff4")

	vol, err := Create(path, aff4rdf.URN(""), Options{})
	require.NoError(t, err)

	diskA := aff4rdf.NewURN(vol.URN().String() + "/diskA")
	diskB := aff4rdf.NewURN(vol.URN().String() + "/diskB")
	imgA := vol.NewImageStream(diskA, image.Options{ChunkSize: 16})
	imgB := vol.NewImageStream(diskB, image.Options{ChunkSize: 16})

	partA := bytes.Repeat([]byte{0xAA}, 32)
	partB := bytes.Repeat([]byte{0xBB}, 32)
	_, err = imgA.Write(partA)
	require.NoError(t, err)
	require.NoError(t, imgA.Close())
	_, err = imgB.Write(partB)
	require.NoError(t, err)
	require.NoError(t, imgB.Close())

	mapURN := aff4rdf.NewURN(vol.URN().String() + "/combined")
	m := vol.NewMapStream(mapURN)
	m.AddPoint(0, 0, diskA)
	m.AddPoint(32, 0, diskB)
	m.SetSize(64)
	require.NoError(t, m.Close())
	require.NoError(t, vol.Close())

	vol2, err := Open(path, Options{})
	require.NoError(t, err)
	defer vol2.Close()

	reader, err := vol2.OpenStream(mapURN)
	require.NoError(t, err)
	defer vol2.Resolver().CacheReturn(mapURN)

	buf := make([]byte, 64)
	n, err := reader.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, partA, buf[:32])
	assert.Equal(t, partB, buf[32:n])
}

func TestVolumeCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.aff4")
	vol, err := Create(path, aff4rdf.URN(""), Options{})
	require.NoError(t, err)
	require.NoError(t, vol.Close())
	require.NoError(t, vol.Close())
}

func TestVolumeStatementsExposesManifestForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.aff4")
	vol, err := Create(path, aff4rdf.URN(""), Options{})
	require.NoError(t, err)
	defer vol.Close()

	streamURN := aff4rdf.NewURN(vol.URN().String() + "/disk0")
	img := vol.NewImageStream(streamURN, image.Options{})
	_, err = img.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, img.Close())

	body := vol.Statements(streamURN)
	assert.Contains(t, string(body), "aff4:size")
}
