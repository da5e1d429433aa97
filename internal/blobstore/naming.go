// Package blobstore uploads flushed buffers to Azure blob storage across a
// pool of accounts, with container/blob naming and read-SAS generation.
package blobstore

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	dateKeyLayout  = "2006-01-02-15"
	blobTimeLayout = "2006-01-02-15-04-05"
)

// ContainerName derives the hourly container for a flush:
// "<first 5 hex chars of MD5(dateKey)>-<base>-<dateKey>". The hash prefix
// spreads containers across the storage service's partition ranges.
func ContainerName(base string, now time.Time) string {
	dateKey := now.UTC().Format(dateKeyLayout)
	sum := md5.Sum([]byte(dateKey))
	return fmt.Sprintf("%s-%s-%s", hex.EncodeToString(sum[:])[:5], base, dateKey)
}

// BlobName builds the unique blob name for one flushed payload:
// "<uuid>_<timestamp>_<schemaName>.<ext>".
func BlobName(schemaName string, compressed bool, now time.Time, newID func() string) string {
	ext := "json"
	if compressed {
		ext = "json.gz"
	}
	return fmt.Sprintf("%s_%s_%s.%s", newID(), now.UTC().Format(blobTimeLayout), schemaName, ext)
}
