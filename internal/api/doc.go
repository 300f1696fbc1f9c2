// Package api hosts the read-only HTTP server for the article collection.
// Notable routes:
//   - GET /healthz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/articles?medium=&topic=&published_after=&published_before=&limit=&offset=
//   - GET /v1/topic-counts?medium=&published_after=&published_before=
package api
