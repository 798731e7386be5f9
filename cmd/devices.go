package cmd

import (
	"fmt"

	"github.com/AxelFr971/vocaline-local/internal/capture"
	"github.com/AxelFr971/vocaline-local/internal/ui"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List microphones and the stored permission marker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(baseOptions())
		if err != nil {
			return err
		}

		inputs := capture.ListAudioInputs()
		items := make([]ui.DeviceTableItem, len(inputs))
		for i, d := range inputs {
			items[i] = ui.DeviceTableItem{Index: i + 1, Label: d.Label, ID: d.ID}
		}
		fmt.Println()
		ui.RenderDeviceTable(items)

		grants := capture.NewFileGrantStore(cfg.DataDir)
		state := grants.Load()
		fmt.Println()
		switch state {
		case capture.PermissionGranted:
			ui.PrintSuccessf("Microphone previously granted (%s)", grants.Path())
		case capture.PermissionDenied:
			ui.PrintWarningf("Microphone previously denied (%s)", grants.Path())
		default:
			ui.PrintInfo("No stored microphone permission; the first call will ask for it")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
