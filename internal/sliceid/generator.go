package sliceid

// seed is one step before the first issued identifier: the trailing '`'
// precedes 'a' in ASCII, so the first Next() yields "aaaaaaaaaa".
const seed = "aaaaaaaaa`"

// Generator issues slice identifiers for one upload sequence. It is not
// safe for concurrent use; each job's upload loop owns its own Generator.
type Generator struct {
	state []byte
}

// NewGenerator returns a Generator positioned before the first identifier.
func NewGenerator() *Generator {
	return &Generator{state: []byte(seed)}
}

// Next advances the odometer and returns the new identifier. Every call
// returns a distinct value, strictly increasing in odometer order, and the
// sequence is deterministic for a given number of calls.
func (g *Generator) Next() string {
	for j := len(g.state) - 1; j >= 0; j-- {
		if g.state[j] != 'z' {
			g.state[j]++
			break
		}
		g.state[j] = 'a'
	}
	return string(g.state)
}
