// Package deps reports the availability of the external binaries the
// conversion pipeline shells out to. Missing tools degrade video support
// instead of failing startup.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"uwrangler/internal/config"
)

// Requirement defines one external binary the daemon may need.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the external tools for the configured pipeline. Image
// decoding is in-process, so both entries are optional: without them only
// video sources fail.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "ffmpeg",
			Command:     cfg.Convert.FFmpegPath,
			Description: "video frame extraction",
			Optional:    true,
		},
		{
			Name:        "ffprobe",
			Command:     cfg.Convert.FFprobePath,
			Description: "video stream probing",
			Optional:    true,
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
