package reporter

import (
	"bot-orchestrator/internal/models"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Summary 汇总所有机器人的运行状态
type Summary struct {
	Total      int
	Running    int
	Paused     int
	Stopped    int
	Errored    int
	RiskActive int // 风控状态不为 ok 的机器人数量
	Breaches   int
}

// Summarize counts bots by status and risk.
func Summarize(states []models.BotState) Summary {
	var s Summary
	for _, st := range states {
		s.Total++
		switch st.Status {
		case models.StatusRunning:
			s.Running++
		case models.StatusPaused:
			s.Paused++
		case models.StatusError:
			s.Errored++
		default:
			s.Stopped++
		}
		if st.Risk.Status != "" && st.Risk.Status != models.RiskOK {
			s.RiskActive++
		}
		s.Breaches += len(st.Risk.Breaches)
	}
	return s
}

// RenderBots 生成机器人状态表格
func RenderBots(states []models.BotState) string {
	t := table.NewWriter()
	style := table.StyleLight
	style.Format.Footer = text.FormatDefault
	t.SetStyle(style)
	t.AppendHeader(table.Row{"Bot", "Status", "Run", "Market", "Venue", "Schedule", "Last Price", "Risk", "Breaches"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Last Price", Align: text.AlignRight},
		{Name: "Breaches", Align: text.AlignRight},
	})

	for _, st := range states {
		schedule := "active"
		if !st.ScheduleActive {
			schedule = "inactive"
		}
		price := "-"
		if st.LastPrice > 0 {
			price = strconv.FormatFloat(st.LastPrice, 'f', -1, 64)
		}
		risk := string(st.Risk.Status)
		if st.Risk.HardStop != nil {
			risk += " (" + st.Risk.HardStop.Reason + ")"
		}
		t.AppendRow(table.Row{
			st.BotID, st.Status, dash(st.RunID), dash(st.Market), dash(st.Venue),
			schedule, price, dash(risk), len(st.Risk.Breaches),
		})
	}

	sum := Summarize(states)
	t.AppendFooter(table.Row{
		"Total", sum.Total, "", "", "", "",
		fmt.Sprintf("%d running", sum.Running), fmt.Sprintf("%d guarded", sum.RiskActive), sum.Breaches,
	})
	return t.Render()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
