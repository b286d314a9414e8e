// Package migrations embeds the SQL migrations for the admin schema this
// module owns. Project schemas themselves (the per-project "<shortname>"
// schema holding images, annotations, and this module's workflow/
// workflowhistory/cnnstate tables) are provisioned by AIDE's project
// creation flow, outside this module's scope; only the shared admin
// schema is migrated here.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
