package compiler

import (
	"encoding/json"
)

// Sanitize forces a frontmatter mapping through a JSON round trip so only
// plain serializable data reaches consumers. Any failure — cycles,
// non-serializable values — drops the whole mapping: partial metadata is
// worse than none, and the next revision can always recompile.
func (c *Compiler) Sanitize(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return map[string]any{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		c.cfg.Logger.Warn("compiler: frontmatter failed JSON round trip, replaced with empty mapping", "error", err)
		return map[string]any{}
	}
	var clean map[string]any
	if err := json.Unmarshal(data, &clean); err != nil {
		c.cfg.Logger.Warn("compiler: frontmatter failed JSON round trip, replaced with empty mapping", "error", err)
		return map[string]any{}
	}
	return clean
}
