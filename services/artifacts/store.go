// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifacts provides a content-addressed store for pipeline outputs.
//
// Every artifact a pipeline step produces (original images, annotated
// overlays, PDF reports, JSON manifests) is written once, verified by
// SHA-256 on every read, and referenced by an opaque identifier. Artifacts
// are grouped into a fixed set of buckets and are immutable: there is no
// update operation, and identifiers are never reused.
//
// The production implementation is backed by BadgerDB for low-latency
// embedded storage. An in-memory mode is available for tests.
package artifacts

import (
	"context"
	"errors"
	"time"
)

// Bucket is the artifact category. The set is closed; Put rejects
// anything else.
type Bucket string

const (
	// BucketRaw holds original uploaded images.
	BucketRaw Bucket = "raw"

	// BucketAnnotated holds detector-annotated image overlays.
	BucketAnnotated Bucket = "annotated"

	// BucketReports holds rendered report documents.
	BucketReports Bucket = "reports"

	// BucketManifests holds JSON manifests (detections, triage, report
	// metadata).
	BucketManifests Bucket = "manifests"
)

// Valid reports whether b is one of the known buckets.
func (b Bucket) Valid() bool {
	switch b {
	case BucketRaw, BucketAnnotated, BucketReports, BucketManifests:
		return true
	}
	return false
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates no artifact exists for the given id.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidBucket indicates an unknown bucket name.
	ErrInvalidBucket = errors.New("invalid artifact bucket")

	// ErrEmptyContent indicates a Put with no payload.
	ErrEmptyContent = errors.New("artifact content is empty")

	// ErrIntegrity indicates stored content no longer matches its
	// recorded SHA-256 digest.
	ErrIntegrity = errors.New("artifact integrity check failed")

	// ErrSigningDisabled indicates the store has no signing secret.
	ErrSigningDisabled = errors.New("artifact URL signing is not configured")
)

// Artifact is the metadata record kept alongside each stored blob.
type Artifact struct {
	// ID is the opaque artifact identifier. Consumers must not parse it.
	ID string `json:"id"`

	// Bucket is the artifact category.
	Bucket Bucket `json:"bucket"`

	// SHA256 is the hex digest of the content, recorded at write time.
	SHA256 string `json:"sha256"`

	// Size is the content length in bytes.
	Size int64 `json:"size"`

	// ContentType is inferred from the file extension at write time.
	ContentType string `json:"content_type"`

	// CreatedAt is the write timestamp (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes store contents per bucket.
type Stats struct {
	// Counts maps bucket name to number of artifacts.
	Counts map[Bucket]int `json:"counts"`

	// TotalBytes is the sum of all artifact sizes.
	TotalBytes int64 `json:"total_bytes"`
}

// Store is the artifact persistence contract used by pipeline stages and
// the HTTP file handler.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes content into a bucket and returns its metadata.
	// The extension (e.g. ".png", ".json") drives content-type
	// inference; it may be empty.
	Put(ctx context.Context, bucket Bucket, content []byte, ext string) (Artifact, error)

	// Get returns the content and metadata for an artifact, verifying
	// the recorded digest before returning.
	Get(ctx context.Context, id string) ([]byte, Artifact, error)

	// Stat returns metadata without loading the content.
	Stat(ctx context.Context, id string) (Artifact, error)

	// Delete removes an artifact. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// SignedURL returns a self-validating URL path for an artifact,
	// valid for the given duration. Returns ErrSigningDisabled when no
	// signing secret is configured.
	SignedURL(id string, ttl time.Duration) (string, error)

	// VerifyToken checks a token produced by SignedURL for the given
	// artifact id.
	VerifyToken(id, token string) bool

	// Stats returns per-bucket artifact counts and total size.
	Stats(ctx context.Context) (Stats, error)
}

// contentTypes maps file extensions to MIME types for Put.
var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".json": "application/json",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
}

// ContentTypeFor returns the MIME type for a file extension, defaulting
// to application/octet-stream.
func ContentTypeFor(ext string) string {
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
