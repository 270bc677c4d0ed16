package ops

import "deepfall/server/internal/stage"

// Frame converts a stage notification into the JSON shape spectators
// receive. Unknown notifications map to nil and are not published.
func Frame(runID string, n stage.Notification) map[string]any {
	switch v := n.(type) {
	case stage.Moved:
		return map[string]any{
			"type": "moved", "run_id": runID, "id": v.ID,
			"x": v.Tr.Pos.X, "y": v.Tr.Pos.Y, "dir": v.Tr.Dir.String(),
		}
	case stage.Hit:
		return map[string]any{
			"type": "hit", "run_id": runID,
			"attacker": v.Attacker, "defender": v.Defender, "health_left": v.HealthLeft,
		}
	case stage.Miss:
		return map[string]any{
			"type": "miss", "run_id": runID,
			"attacker": v.Attacker, "defender": v.Defender,
		}
	case stage.Died:
		return map[string]any{"type": "dead", "run_id": runID, "id": v.ID}
	case stage.EscapedNotice:
		return map[string]any{"type": "escaped", "run_id": runID, "id": v.ID}
	case stage.Charging:
		return map[string]any{"type": "charging", "run_id": runID, "id": v.ID}
	default:
		return nil
	}
}
