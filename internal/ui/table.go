package ui

import (
	"fmt"
	"time"

	"github.com/AxelFr971/vocaline-local/internal/utils"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// DeviceTableItem is one microphone in the devices listing.
type DeviceTableItem struct {
	Index int
	Label string
	ID    string
}

func DeviceTableView(items []DeviceTableItem) string {
	if len(items) == 0 {
		return MutedStyle.Render("No audio inputs found")
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			fmt.Sprintf("%d", item.Index),
			utils.TruncateString(item.Label, 40),
			utils.TruncateString(item.ID, 30),
		})
	}
	return newTable([]string{"#", "Microphone", "Device ID"}, rows).Render()
}

func RenderDeviceTable(items []DeviceTableItem) {
	fmt.Println(DeviceTableView(items))
}

// CallSummary is printed after the call screen exits.
type CallSummary struct {
	Status    string
	RoomID    string
	Partner   string
	Role      string
	Partners  int
	Connected time.Duration
	Muted     bool
}

func CallSummaryView(summary CallSummary) string {
	mic := "live"
	if summary.Muted {
		mic = "muted"
	}
	rows := [][]string{
		{"Status", summary.Status},
		{"Last Room", orDash(summary.RoomID)},
		{"Last Partner", orDash(utils.TruncateString(summary.Partner, 30))},
		{"Role", orDash(summary.Role)},
		{"Partners", fmt.Sprintf("%d", summary.Partners)},
		{"Talk Time", utils.FormatTimeDuration(summary.Connected)},
		{"Microphone", mic},
	}
	return newTable([]string{"Metric", "Value"}, rows).Render()
}

func RenderCallSummary(summary CallSummary) {
	fmt.Println(CallSummaryView(summary))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
