// Package main hosts the catalog harvester CLI.
//
// Architecture overview:
//   - Discovery: internal/catalog walks the category listing page by page (or an explicit item id range) and
//     yields item references lazily, in listing order. A listing page that cannot be fetched is skipped and counted.
//   - Per-item pipeline: internal/worker parses the detail page, acquires the text document and then the cover
//     through internal/assets, and records the book. A redirect on the detail page or the document endpoint means
//     the item does not exist; such items are skipped without leaving files behind.
//   - Scheduling: internal/dispatcher feeds a bounded queue to a fixed worker pool (crawler.concurrency, default 1)
//     and restores discovery order before the manifest is written.
//   - Output: covers and documents land under output.images_dir and output.books_dir; files already present are
//     never downloaded again. internal/manifest writes books.json atomically, optionally mirrored to GCS. A run
//     summary is indexed in Postgres when db.dsn is set and announced on Pub/Sub when pubsub.topic_name is set.
//   - Configuration & plumbing: Viper merges defaults, an optional YAML file, HARVESTER_* env vars and flags; zap
//     provides structured logging; Prometheus collectors are served by the optional status server.
//
// Quick checklist:
//   - Run locally: go run ./cmd/harvester harvest --start-page 1 --end-page 3 --dest-folder media
//   - Resume a harvest: re-run the same command; existing covers and documents are kept as they are.
//   - Watch progress: --serve exposes /v1/progress, /metrics and health endpoints on server.port.
package main
