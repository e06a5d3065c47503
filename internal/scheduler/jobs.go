package scheduler

import (
	"fmt"

	"github.com/TobiSchelling/socialshares/internal/config"
	"github.com/TobiSchelling/socialshares/internal/pipeline"
)

// JobSelection turns a configured job into a pipeline selection, filling
// days_back and limit from the pipeline defaults when the job leaves them
// unset.
func JobSelection(job config.Job, defaults config.Pipeline) (pipeline.Selection, error) {
	mode, err := pipeline.ParseMode(job.Mode)
	if err != nil {
		return pipeline.Selection{}, fmt.Errorf("job %s: %w", job.Name, err)
	}

	sel := pipeline.Selection{Mode: mode}
	switch mode {
	case pipeline.ModeRecent:
		sel.DaysBack = job.DaysBack
		if sel.DaysBack == 0 {
			sel.DaysBack = defaults.DaysBack
		}
	case pipeline.ModeMissing:
		sel.Limit = job.Limit
		if sel.Limit == 0 {
			sel.Limit = defaults.Limit
		}
		sel.ClientID = job.ClientID
	case pipeline.ModeIDs:
		return pipeline.Selection{}, fmt.Errorf("job %s: ids mode cannot be scheduled", job.Name)
	}

	if err := sel.Validate(); err != nil {
		return pipeline.Selection{}, fmt.Errorf("job %s: %w", job.Name, err)
	}
	return sel, nil
}
