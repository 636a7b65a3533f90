package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	"completed": ":white_check_mark:",
	"failed":    ":x:",
	"stale":     ":hourglass:",
}

var statusLabel = map[string]string{
	"completed": "Job Complete",
	"failed":    "Job Failed",
	"stale":     "Job Stalled",
}

func jobURL(jobID, dashboardURL string) string {
	return fmt.Sprintf("%s/jobs/%s", dashboardURL, jobID)
}

// BuildStartedMessage creates Block Kit blocks for a job start notification.
func BuildStartedMessage(jobID, pipelineType, dashboardURL string) []goslack.Block {
	url := jobURL(jobID, dashboardURL)
	text := fmt.Sprintf(":arrows_counterclockwise: *Pipeline %s job started* — this may take a few minutes.\n<%s|View job>", pipelineType, url)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// BuildTerminalMessage creates Block Kit blocks for a terminal job
// notification, summarizing the item counters.
func BuildTerminalMessage(input JobCompletedInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Job " + input.Status
	}

	headerText := fmt.Sprintf("%s *%s* (pipeline %s)", emoji, label, input.PipelineType)
	countsText := fmt.Sprintf("%d/%d items succeeded, %d failed", input.SuccessCount, input.TotalCount, input.FailedCount)

	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
		nil, nil,
	))
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, countsText, false, false),
		nil, nil,
	))
	if input.Status != "completed" && input.ErrorSummary != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Error summary:*\n%s", truncateForSlack(input.ErrorSummary)), false, false),
			nil, nil,
		))
	}

	url := jobURL(input.JobID, dashboardURL)
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Job", false, false))
	btn.URL = url
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — view full job in dashboard)_"
}
