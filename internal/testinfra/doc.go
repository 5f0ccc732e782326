// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

// Package testinfra starts Docker containers for integration tests with
// testcontainers-go.
//
// The helpers only build with the integration tag:
//
//	go test -tags integration ./internal/eventstore/...
//
// Tests call SkipIfNoDocker first so the suite degrades to a skip on hosts
// without a Docker daemon:
//
//	func TestPostgres(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    pg, err := testinfra.NewPostgresContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, pg)
//	    store, err := eventstore.OpenPostgres(ctx, pg.DSN, nil)
//	    ...
//	}
package testinfra
