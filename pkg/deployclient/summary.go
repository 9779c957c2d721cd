package deployclient

import (
	"fmt"
	"os"
	"time"

	"github.com/aymerick/raymond"
)

const summaryTemplate = `## Deployment verification

* Deployment: {{{deployment}}}
{{#if trace}}* Detailed trace: {{{trace}}}
{{/if}}{{#if build}}* Build: {{{build}}}
{{/if}}{{#if logs}}* Logs: [{{{deployment}}}]({{{logs}}})
{{/if}}{{#if regions}}
| Region | Instances | Converged after |
|---|---|---|
{{#each regions}}| {{{name}}} | {{count}} | {{elapsed}} |
{{/each}}
{{/if}}{{#if unconverged}}* Not converged: {{{unconverged}}}
{{/if}}* Finished at: {{finished}}
* Outcome: *{{outcome}}*
`

type RegionSummary struct {
	Name    string
	Count   int
	Elapsed time.Duration
}

// Summary collects the outcome of a run for the GitHub Actions step summary.
type Summary struct {
	Deployment  string
	TraceID     string
	Build       string
	LogsURL     string
	Regions     []RegionSummary
	Unconverged []string
	Outcome     string
	Finished    time.Time
}

func (s *Summary) Render() (string, error) {
	regions := make([]map[string]any, 0, len(s.Regions))
	for _, r := range s.Regions {
		regions = append(regions, map[string]any{
			"name":    r.Name,
			"count":   r.Count,
			"elapsed": r.Elapsed.Truncate(time.Second).String(),
		})
	}

	unconverged := ""
	for i, region := range s.Unconverged {
		if i > 0 {
			unconverged += ", "
		}
		unconverged += region
	}

	return raymond.Render(summaryTemplate, map[string]any{
		"deployment":  s.Deployment,
		"trace":       s.TraceID,
		"build":       s.Build,
		"logs":        s.LogsURL,
		"regions":     regions,
		"unconverged": unconverged,
		"finished":    s.Finished.Local().Truncate(time.Second).Format(time.RFC3339),
		"outcome":     s.Outcome,
	})
}

// Append renders the summary and appends it to the file at path.
func (s *Summary) Append(path string) error {
	rendered, err := s.Render()
	if err != nil {
		return fmt.Errorf("render summary: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(rendered)
	return err
}
