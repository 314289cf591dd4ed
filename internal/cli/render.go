package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/goalpath/internal/domain"
	"github.com/ashureev/goalpath/internal/planning"
)

var (
	colorGreen  = lipgloss.Color("#8ec07c")
	colorYellow = lipgloss.Color("#fabd2f")
	colorRed    = lipgloss.Color("#fb4934")
	colorBlue   = lipgloss.Color("#83a598")
	colorDim    = lipgloss.Color("#928374")
	colorHeader = lipgloss.Color("#fe8019")
)

var (
	styleHeader   = lipgloss.NewStyle().Foreground(colorHeader).Bold(true)
	styleDim      = lipgloss.NewStyle().Foreground(colorDim)
	styleQuestion = lipgloss.NewStyle().Foreground(colorBlue)
	styleGood     = lipgloss.NewStyle().Foreground(colorGreen)
	styleWarn     = lipgloss.NewStyle().Foreground(colorYellow)
	styleErr      = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	styleBox      = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
)

var phaseLabels = map[domain.PhaseTag]string{
	domain.PhaseDefineGoal:       "1/4 Define goal",
	domain.PhaseGetPrerequisites: "2/4 Prerequisites",
	domain.PhaseRefinePhases:     "3/4 Plan phases",
	domain.PhaseGenerateDailies:  "4/4 Daily tasks",
	domain.PhaseGoalCompleted:    "Done",
}

func header(text string) string {
	upper := strings.ToUpper(text)
	return fmt.Sprintf("%s\n%s", styleHeader.Render(upper), styleDim.Render(strings.Repeat("─", len(upper))))
}

// renderDisplayable renders a planner answer for the terminal.
func renderDisplayable(d planning.Displayable) string {
	label := phaseLabels[d.Phase]
	if label == "" {
		label = string(d.Phase)
	}
	return header(label) + "\n" + renderResult(d.Payload)
}

func renderResult(res domain.Result) string {
	switch r := res.(type) {
	case domain.FollowUp:
		return styleQuestion.Render(r.Question)
	case domain.GoalDefinition:
		return styleBox.Render(strings.Join([]string{
			"Goal:     " + r.Title,
			"Metric:   " + r.Metric,
			"Purpose:  " + r.Purpose,
			"Deadline: " + r.Deadline.String(),
		}, "\n")) + "\n" + styleDim.Render("/confirm to accept, or describe what to change")
	case domain.PrerequisiteSet:
		return styleBox.Render(renderPrerequisites(r))
	case domain.PhasePlan:
		lines := make([]string, 0, len(r.Phases))
		for i, ph := range r.Phases {
			lines = append(lines, fmt.Sprintf("%d. %s  %s",
				i+1, styleGood.Render(ph.Title), styleDim.Render(ph.StartDate.String()+" → "+ph.EndDate.String())))
			if ph.Description != "" {
				lines = append(lines, "   "+ph.Description)
			}
		}
		return styleBox.Render(strings.Join(lines, "\n")) + "\n" +
			styleDim.Render("/confirm to schedule daily tasks, or describe what to change")
	case domain.DailyTaskBatch:
		return renderBatch(r)
	case domain.Completion:
		return styleGood.Render(fmt.Sprintf("Plan saved: goal %s, %d phases, %d tasks.", r.GoalID, r.PhaseCount, r.TaskCount))
	case nil:
		return styleDim.Render("(nothing yet)")
	default:
		return fmt.Sprintf("%v", r)
	}
}

func renderPrerequisites(p domain.PrerequisiteSet) string {
	lines := []string{
		"Skill level:  " + p.CurrentState.SkillLevel,
		fmt.Sprintf("Hours/week:   %g", p.FixedResources.TimeCommitmentPerWeekHours),
	}
	if p.FixedResources.Budget > 0 {
		lines = append(lines, fmt.Sprintf("Budget:       %g", p.FixedResources.Budget))
	}
	if blocks := p.Constraints.AvailableTimeBlocks; len(blocks) > 0 {
		lines = append(lines, "Available:    "+strings.Join(blocks, ", "))
	}
	return strings.Join(lines, "\n")
}

func renderBatch(b domain.DailyTaskBatch) string {
	var sb strings.Builder
	if len(b.GoalPhases) > 0 {
		parts := make([]string, len(b.GoalPhases))
		for i, title := range b.GoalPhases {
			if title == b.CurrPhase {
				parts[i] = styleWarn.Render("● " + title)
			} else {
				parts[i] = styleDim.Render("○ " + title)
			}
		}
		sb.WriteString(strings.Join(parts, "  "))
		sb.WriteString("\n")
	}
	if len(b.Dailies) == 0 {
		sb.WriteString(styleDim.Render("No tasks for this phase."))
	}
	for _, t := range b.Dailies {
		when := t.Date.String()
		if t.StartTime != "" {
			when += " " + t.StartTime
		}
		fmt.Fprintf(&sb, "%s  %s %s\n", styleDim.Render(when), t.Description,
			styleDim.Render(fmt.Sprintf("(%d min)", t.EstimatedMinutes)))
	}
	sb.WriteString(styleDim.Render("/confirm to accept this phase's tasks, or describe what to change"))
	return sb.String()
}

func renderProgress(p planning.Progress) string {
	return styleDim.Render(fmt.Sprintf("  … %s: window %d from %s, %d tasks so far",
		p.PlanPhase, p.Call, p.WindowStart, p.Total))
}

func renderError(err error) string {
	return styleErr.Render("error: ") + err.Error()
}
