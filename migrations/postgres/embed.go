// Package migrations embeds SQL migration files.
package migrations

import "embed"

// HubFS contains the migrations for the hub database.
//
//go:embed hub/*.sql
var HubFS embed.FS

// HubDir is the directory within HubFS where migrations live.
const HubDir = "hub"
