// Package nft defines the domain types, collaborator interfaces, and error
// sentinels shared by the metadata indexing pipeline: chains are read by the
// contract reader, token URIs are resolved and fetched by the metadata
// fetcher, and the resulting records land in the indexing store.
package nft
