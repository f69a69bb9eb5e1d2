package clips

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Project is the approved-clip list handed over by the review step.
type Project struct {
	Video string  `json:"video"`
	Clips []*Clip `json:"clips"`
}

// LoadProject reads and validates a project file. Clips without an ID get
// one assigned so logs and results can reference them stably.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}

	var proj Project
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("parse project: %w", err)
	}

	if proj.Video == "" {
		return nil, fmt.Errorf("project has no source video")
	}
	if len(proj.Clips) == 0 {
		return nil, fmt.Errorf("project has no clips")
	}

	for _, c := range proj.Clips {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	return &proj, nil
}
