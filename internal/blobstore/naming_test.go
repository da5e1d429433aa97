package blobstore_test

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/seaward-systems/streamsift/internal/blobstore"
)

func TestContainerName(t *testing.T) {
	now := time.Date(2026, 8, 6, 14, 30, 0, 0, time.UTC)
	name := blobstore.ContainerName("openschema", now)

	sum := md5.Sum([]byte("2026-08-06-14"))
	prefix := hex.EncodeToString(sum[:])[:5]
	assert.Equal(t, prefix+"-openschema-2026-08-06-14", name)
}

func TestContainerName_HourGranularity(t *testing.T) {
	base := time.Date(2026, 8, 6, 14, 0, 0, 0, time.UTC)
	sameHour := blobstore.ContainerName("c", base.Add(59*time.Minute))
	assert.Equal(t, blobstore.ContainerName("c", base), sameHour)

	nextHour := blobstore.ContainerName("c", base.Add(time.Hour))
	assert.NotEqual(t, blobstore.ContainerName("c", base), nextHour)
}

func TestBlobName(t *testing.T) {
	now := time.Date(2026, 8, 6, 14, 30, 45, 0, time.UTC)
	newID := func() string { return "11111111-2222-3333-4444-555555555555" }

	plain := blobstore.BlobName("Log", false, now, newID)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555_2026-08-06-14-30-45_Log.json", plain)

	compressed := blobstore.BlobName("Interactions", true, now, newID)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555_2026-08-06-14-30-45_Interactions.json.gz", compressed)
}

func TestBlobName_Shape(t *testing.T) {
	name := blobstore.BlobName("Log", false, time.Now(), func() string { return "id" })
	assert.Regexp(t, regexp.MustCompile(`^id_\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2}_Log\.json$`), name)
}
