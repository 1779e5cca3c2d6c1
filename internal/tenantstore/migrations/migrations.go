// Package migrations embeds the control-plane schema. Per-tenant schemas are
// provisioned dynamically by the gateway and are not managed by goose.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
