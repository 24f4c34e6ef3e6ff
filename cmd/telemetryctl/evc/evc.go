package evc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zxhio/telemetry-int/cmd/telemetryctl/util"
	"github.com/zxhio/telemetry-int/internal/api"
	"github.com/zxhio/telemetry-int/internal/manager"
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/internal/service"
	"github.com/zxhio/telemetry-int/pkg/utils"
)

var group = &cobra.Group{ID: "evc", Title: "EVC Telemetry Commands:"}

var evcCmd = &cobra.Command{
	Use:     "evc",
	Short:   "Manage INT telemetry of EVCs",
	GroupID: group.ID,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var enableCmd = &cobra.Command{
	Use:     "enable [evc_id...]",
	Short:   "Enable INT on EVCs, all EVCs without INT when no id is given",
	GroupID: group.ID,
	Run: func(cmd *cobra.Command, args []string) {
		ids, err := postEVCs(api.APIPathEnableINT, http.MethodPost, args, force)
		utils.CheckErrorAndExit(err, "Enable INT failed")
		fmt.Printf("INT enabled on %d EVC(s)\n", len(ids))
		utils.VerbosePrintln("%s", strings.Join(ids, "\n"))
	},
}

var disableCmd = &cobra.Command{
	Use:     "disable [evc_id...]",
	Short:   "Disable INT on EVCs, all EVCs with INT when no id is given",
	GroupID: group.ID,
	Run: func(cmd *cobra.Command, args []string) {
		ids, err := postEVCs(api.APIPathDisableINT, http.MethodPost, args, force)
		utils.CheckErrorAndExit(err, "Disable INT failed")
		fmt.Printf("INT disabled on %d EVC(s)\n", len(ids))
		utils.VerbosePrintln("%s", strings.Join(ids, "\n"))
	},
}

var redeployCmd = &cobra.Command{
	Use:     "redeploy [evc_id...]",
	Short:   "Redeploy INT rules of EVCs with INT",
	GroupID: group.ID,
	Run: func(cmd *cobra.Command, args []string) {
		ids, err := postEVCs(api.APIPathRedeployINT, http.MethodPatch, args, false)
		utils.CheckErrorAndExit(err, "Redeploy INT failed")
		fmt.Printf("INT redeployed on %d EVC(s)\n", len(ids))
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List EVCs with INT enabled",
	Aliases: []string{"ls"},
	GroupID: group.ID,
	Args:    cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		circuits, _, err := util.List[*model.Circuit](api.APIPathQueryEVCs, listFlags)
		utils.CheckErrorAndExit(err, "Query EVCs failed")

		data := [][]any{}
		for _, c := range circuits {
			md := model.TelemetryMetadata{}
			if c.Metadata.Telemetry != nil {
				md = *c.Metadata.Telemetry
			}
			data = append(data, []any{c.ID, c.Name, c.UNIA.InterfaceID, c.UNIZ.InterfaceID, c.Active, md.Status, joinReasons(md.StatusReason), md.StatusUpdatedAt})
		}
		util.Display([]any{"ID", "Name", "UNI A", "UNI Z", "Active", "Status", "Reason", "Updated"}, data)
	},
}

var compareCmd = &cobra.Command{
	Use:     "compare",
	Short:   "Compare INT metadata of EVCs against the stored INT rules",
	GroupID: group.ID,
	Args:    cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		results, err := utils.NewHTTPRequestMessage[[]service.CompareResult](api.APIPathCompareEVCs,
			api.GetBodyData[[]service.CompareResult],
			utils.WithReqAddr(api.DefaultAPIAddr),
		)
		utils.CheckErrorAndExit(err, "Compare EVCs failed")

		data := [][]any{}
		for _, r := range *results {
			data = append(data, []any{r.ID, r.Name, strings.Join(r.CompareReason, ",")})
		}
		util.Display([]any{"ID", "Name", "Reason"}, data)
	},
}

var proxyPortCmd = &cobra.Command{
	Use:     "proxy-ports",
	Short:   "List proxy ports in use and their EVCs",
	Aliases: []string{"pp"},
	GroupID: group.ID,
	Args:    cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		pps, err := utils.NewHTTPRequestMessage[[]manager.ProxyPortInfo](api.APIPathQueryProxyPorts,
			api.GetBodyData[[]manager.ProxyPortInfo],
			utils.WithReqAddr(api.DefaultAPIAddr),
		)
		utils.CheckErrorAndExit(err, "Query proxy ports failed")

		data := [][]any{}
		for _, pp := range *pps {
			data = append(data, []any{pp.Source, pp.Destination, pp.Status, strings.Join(pp.EVCIDs, ",")})
		}
		util.Display([]any{"Source", "Destination", "Status", "EVCs"}, data)
	},
}

var (
	force     bool
	listFlags util.PageFlags
)

func init() {
	evcCmd.AddGroup(group)

	enableCmd.Flags().BoolVarP(&force, "force", "f", false, "Skip INT and proxy port status checks")
	disableCmd.Flags().BoolVarP(&force, "force", "f", false, "Ignore missing EVCs and proxy ports")
	listFlags.Bind(listCmd, "EVCs")
}

func Export(parent *cobra.Command) {
	cmds := []*cobra.Command{enableCmd, disableCmd, redeployCmd, listCmd, compareCmd, proxyPortCmd}
	util.DisableSortFlags(cmds...)

	parent.AddGroup(group)
	parent.AddCommand(evcCmd)
	evcCmd.AddCommand(cmds...)
}

func postEVCs(uri, method string, ids []string, force bool) ([]string, error) {
	data, err := json.Marshal(api.EVCsReq{EVCIDs: ids, Force: force})
	if err != nil {
		return nil, err
	}
	resp, err := utils.NewHTTPRequestMessage[[]string](uri, api.GetBodyData[[]string],
		utils.WithReqAddr(api.DefaultAPIAddr),
		utils.WithReqMethod(method),
		utils.WithReqBody(bytes.NewBuffer(data)),
	)
	if err != nil {
		return nil, err
	}
	return *resp, nil
}

func joinReasons(reasons []model.StatusReason) string {
	s := make([]string, 0, len(reasons))
	for _, r := range reasons {
		s = append(s, string(r))
	}
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ",")
}
