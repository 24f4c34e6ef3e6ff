package topology

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zxhio/telemetry-int/cmd/telemetryctl/util"
	"github.com/zxhio/telemetry-int/internal/api"
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/pkg/utils"
)

var group = &cobra.Group{ID: "topology", Title: "Topology Commands:"}

var topologyCmd = &cobra.Command{
	Use:     "topology",
	Short:   "Show the topology known to telemetryd",
	Aliases: []string{"topo"},
	GroupID: group.ID,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var interfacesCmd = &cobra.Command{
	Use:     "interfaces",
	Short:   "List interfaces",
	Aliases: []string{"intf"},
	Args:    cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		query := url.Values{}
		if switchID != "" {
			query.Set("switch", switchID)
		}
		if proxyPortOnly {
			query.Set("proxy_port", "true")
		}
		intfs, _, err := util.List[*model.Interface](api.APIPathQueryInterfaces, intfFlags, query.Encode())
		utils.CheckErrorAndExit(err, "Query interfaces failed")

		data := [][]any{}
		for _, intf := range intfs {
			pp := "-"
			if port, ok := intf.ProxyPortNumber(); ok {
				pp = strconv.FormatUint(uint64(port), 10)
			}
			data = append(data, []any{intf.ID, intf.Name, intf.Status, pp, orDash(intf.Link)})
		}
		util.Display([]any{"ID", "Name", "Status", "Proxy Port", "Link"}, data)
	},
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "List links",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		links, _, err := util.List[*model.Link](api.APIPathQueryLinks, linkFlags)
		utils.CheckErrorAndExit(err, "Query links failed")

		data := [][]any{}
		for _, l := range links {
			data = append(data, []any{l.ID, l.EndpointA, l.EndpointB, l.Status, orDash(strings.Join(l.StatusReason, ","))})
		}
		util.Display([]any{"ID", "Endpoint A", "Endpoint B", "Status", "Reason"}, data)
	},
}

var (
	switchID      string
	proxyPortOnly bool
	intfFlags     util.PageFlags
	linkFlags     util.PageFlags
)

func init() {
	interfacesCmd.Flags().StringVarP(&switchID, "switch", "s", "", "Only interfaces of the switch")
	interfacesCmd.Flags().BoolVarP(&proxyPortOnly, "proxy-port", "p", false, "Only interfaces with proxy_port metadata")
	intfFlags.Bind(interfacesCmd, "interfaces")
	linkFlags.Bind(linksCmd, "links")
}

func Export(parent *cobra.Command) {
	util.DisableSortFlags(interfacesCmd, linksCmd)

	parent.AddGroup(group)
	parent.AddCommand(topologyCmd)
	topologyCmd.AddCommand(interfacesCmd, linksCmd)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
