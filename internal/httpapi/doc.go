// Package httpapi exposes the worker over HTTP: deployment listing, NDJSON
// streaming generation, token counting, embeddings, lifecycle operations,
// health probes and Prometheus metrics.
package httpapi
