// Package crawler defines the domain types, collaborator interfaces and error
// taxonomy shared by the catalog harvester: the paginator, the item parser,
// the asset acquirer, the per-item worker and the manifest writer.
package crawler
