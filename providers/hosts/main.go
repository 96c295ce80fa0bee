// Command hosts is a provider managing /etc/hosts entries.
//
// The host runs it as
//
//	host.prov ral_action=<action>
//
// with the request on stdin. RAL_HOSTS_ROOT, when set, is the directory
// /etc/hosts is resolved against.
package main

import (
	"os"

	"github.com/openfroyo/ral/pkg/dispatch"
	"github.com/openfroyo/ral/pkg/provider"
	"github.com/openfroyo/ral/pkg/tree/memtree"
)

func newDispatcher(root string) *dispatch.Dispatcher {
	var opts []memtree.Option
	if root != "" {
		opts = append(opts, memtree.WithRoot(root))
	}
	h := &hosts{}
	return dispatch.New("host", h.capabilities(), provider.WithOpener(memtree.Opener(opts...)))
}

func main() {
	os.Exit(newDispatcher(os.Getenv("RAL_HOSTS_ROOT")).Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
