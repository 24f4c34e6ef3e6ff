package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/zxhio/telemetry-int/cmd/telemetryctl/util"
	"github.com/zxhio/telemetry-int/internal/api"
	"github.com/zxhio/telemetry-int/internal/event"
	"github.com/zxhio/telemetry-int/pkg/utils"
)

var group = &cobra.Group{ID: "event", Title: "Event Commands:"}

var eventCmd = &cobra.Command{
	Use:     "event",
	Short:   "Publish controller events to telemetryd",
	GroupID: group.ID,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <topic>",
	Short: "Publish an event, the content is read from --data, --file or stdin",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		content, err := readContent()
		utils.CheckErrorAndExit(err, "Read event content failed")

		topic, err := utils.NewHTTPRequestMessage[string](api.InstantiateEventAPIURL(args[0]),
			api.GetBodyData[string],
			utils.WithReqAddr(api.DefaultAPIAddr),
			utils.WithReqMethod(http.MethodPost),
			utils.WithReqBody(bytes.NewReader(content)),
		)
		utils.CheckErrorAndExit(err, "Publish event failed")
		utils.VerbosePrintln("Published %s", *topic)
	},
}

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List accepted topics",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		for _, topic := range event.Topics {
			fmt.Println(topic)
		}
	},
}

var (
	data string
	file string
)

func init() {
	publishCmd.Flags().StringVarP(&data, "data", "d", "", "Event content in JSON")
	publishCmd.Flags().StringVarP(&file, "file", "f", "", "File with the event content, - for stdin")
	publishCmd.MarkFlagsMutuallyExclusive("data", "file")
}

func Export(parent *cobra.Command) {
	util.DisableSortFlags(publishCmd)

	parent.AddGroup(group)
	parent.AddCommand(eventCmd)
	eventCmd.AddCommand(publishCmd, topicsCmd)
}

func readContent() ([]byte, error) {
	var (
		content []byte
		err     error
	)
	switch file {
	case "":
		content = []byte(data)
	case "-":
		content, err = io.ReadAll(os.Stdin)
	default:
		content, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, err
	}
	if len(content) > 0 && !json.Valid(content) {
		return nil, errors.New("content is not valid JSON")
	}
	return content, nil
}
