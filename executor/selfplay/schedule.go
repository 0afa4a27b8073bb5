package selfplay

// TemperatureSchedule sets the move-sampling temperature by ply: Initial for
// the first Plies plies of a game, Final afterwards. A Final of 0 plays the
// most visited move.
type TemperatureSchedule struct {
	Initial float64 `yaml:"initial"`
	Final   float64 `yaml:"final"`
	Plies   int     `yaml:"plies"`
}

func DefaultSchedule() TemperatureSchedule {
	return TemperatureSchedule{Initial: 1, Final: 0, Plies: 30}
}

// At returns the temperature for the ply-th move of the game, counting from 0.
func (s TemperatureSchedule) At(ply int) float64 {
	if ply < s.Plies {
		return s.Initial
	}
	return s.Final
}
