// Package scylla provides a Scylla-backed durable tier for client records.
//
// This package implements the cacheaside.DurableTier interface over a
// wide-column table. The row under client_id is the authoritative client
// registration; the cache tier in front of it is only an accelerator.
//
// # Table Schema
//
//	CREATE TABLE grantauth.clients (
//	    client_id                text PRIMARY KEY,
//	    client_secret            text,
//	    redirect_uri             text,
//	    additional_redirect_uris list<text>,
//	    scopes                   text
//	);
//
// A null client_secret marks a public client; any value marks the client
// confidential. The scopes column holds the space-delimited default scope.
//
// # Configuration
//
//	durable, err := scylla.New(scylla.Config{
//	    Hosts:    []string{"127.0.0.1:9042"},
//	    Keyspace: "grantauth",
//	    Table:    "clients",
//	})
//
// INSERTs overwrite by primary key, so re-registering a client id replaces
// the previous record without a separate update path.
package scylla
