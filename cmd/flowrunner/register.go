package main

import (
	"github.com/c360studio/flowrunner/operation"
	"github.com/c360studio/flowrunner/ops/dnsquery"
	"github.com/c360studio/flowrunner/ops/gitrepo"
	"github.com/c360studio/flowrunner/ops/httprequest"
	"github.com/c360studio/flowrunner/ops/httpserver"
	"github.com/c360studio/flowrunner/ops/kvstore"
	"github.com/c360studio/flowrunner/ops/natsio"
	"github.com/c360studio/flowrunner/ops/patch"
	"github.com/c360studio/flowrunner/ops/shellcmd"
	"github.com/c360studio/flowrunner/ops/sqlquery"
	"github.com/c360studio/flowrunner/ops/templatefile"
)

// registerOperations wires every compiled-in operation into the
// registry. Flows reference these by plugin name.
func registerOperations(reg *operation.Registry) {
	dnsquery.Register(reg)
	gitrepo.Register(reg)
	httprequest.Register(reg)
	httpserver.Register(reg)
	httpserver.RegisterWebhook(reg)
	kvstore.Register(reg)
	natsio.Register(reg)
	patch.Register(reg)
	shellcmd.Register(reg)
	sqlquery.Register(reg)
	templatefile.Register(reg)
}
