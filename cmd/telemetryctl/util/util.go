package util

import (
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/zxhio/telemetry-int/internal/api"
	"github.com/zxhio/telemetry-int/pkg/utils"
)

func DisableSortFlags(cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		cmd.InheritedFlags().SortFlags = false
		cmd.PersistentFlags().SortFlags = false
		cmd.Flags().SortFlags = false
	}
}

// PageFlags are the list flags shared by every list command.
type PageFlags struct {
	Page  int
	Limit int
	All   bool
}

func (f *PageFlags) Bind(cmd *cobra.Command, what string) {
	cmd.Flags().IntVar(&f.Page, "page", 1, "Page number to list")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "Limit size per page")
	cmd.Flags().BoolVarP(&f.All, "all", "a", false, "List all "+what)
}

// List queries uri page by page, stopping after the first page unless all is set.
func List[T any](uri string, f PageFlags, query ...string) ([]T, int, error) {
	var (
		items []T
		total int
	)

	page, limit := f.Page, f.Limit
	if f.All {
		page, limit = 1, 100
	}
	for {
		opts := []utils.ReqOpt{
			utils.WithReqAddr(api.DefaultAPIAddr),
			utils.WithReqQuery(api.QueryPage{Page: page, Limit: limit}.ToQuery()),
		}
		for _, q := range query {
			if q != "" {
				opts = append(opts, utils.WithReqQuery(q))
			}
		}
		resp, err := utils.NewHTTPRequestMessage[api.QueryPageResp[T]](uri, api.GetBodyData[api.QueryPageResp[T]], opts...)
		if err != nil {
			return nil, 0, err
		}

		items = append(items, resp.Data...)
		total = resp.Total
		if len(items) >= total || len(resp.Data) == 0 || !f.All {
			break
		}
		page++
	}
	return items, total, nil
}

func Display(header []any, data [][]any) {
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.SeparatorsNone,
				Lines:      tw.LinesNone,
			},
		})),
		tablewriter.WithRowAlignment(tw.AlignCenter),
	)
	table.Header(header...)
	table.Bulk(data)
	table.Render()
}
