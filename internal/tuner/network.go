package tuner

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/viterin/vek"
)

// Layer sizes of the predictor network.
const (
	Inputs  = 7
	Hidden  = 5
	Outputs = 3
)

// WeightLimit bounds every weight and bias.
const WeightLimit = 10.0

// initScale is the half-width of the uniform range fresh weights are drawn from.
const initScale = 0.5

// Network is a 7-5-3 feed-forward network with sigmoid activations trained
// by single-step gradient descent.
type Network struct {
	w1 [][]float64 // Hidden rows of Inputs weights
	b1 []float64
	w2 [][]float64 // Outputs rows of Hidden weights
	b2 []float64
}

// NetworkState is the serializable form of a Network.
type NetworkState struct {
	W1 [][]float64 `json:"w1" yaml:"w1"`
	B1 []float64   `json:"b1" yaml:"b1"`
	W2 [][]float64 `json:"w2" yaml:"w2"`
	B2 []float64   `json:"b2" yaml:"b2"`
}

// NewNetwork returns a network with small random weights drawn from rng.
func NewNetwork(rng *rand.Rand) *Network {
	n := &Network{
		w1: matrix(Hidden, Inputs),
		b1: make([]float64, Hidden),
		w2: matrix(Outputs, Hidden),
		b2: make([]float64, Outputs),
	}
	for _, row := range n.w1 {
		randomize(rng, row)
	}
	for _, row := range n.w2 {
		randomize(rng, row)
	}
	randomize(rng, n.b1)
	randomize(rng, n.b2)
	return n
}

func matrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func randomize(rng *rand.Rand, v []float64) {
	for i := range v {
		v[i] = (rng.Float64()*2 - 1) * initScale
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Forward returns the hidden and output activations for x.
func (n *Network) Forward(x []float64) (hidden, out []float64) {
	hidden = make([]float64, Hidden)
	for j, row := range n.w1 {
		hidden[j] = sigmoid(vek.Dot(row, x) + n.b1[j])
	}
	out = make([]float64, Outputs)
	for k, row := range n.w2 {
		out[k] = sigmoid(vek.Dot(row, hidden) + n.b2[k])
	}
	return hidden, out
}

// Train runs one forward and backward pass towards target and returns the
// mean squared error measured before the update.
func (n *Network) Train(x, target []float64, rate float64) float64 {
	hidden, out := n.Forward(x)

	outDelta := make([]float64, Outputs)
	loss := 0.0
	for k := range out {
		diff := target[k] - out[k]
		loss += diff * diff
		outDelta[k] = diff * out[k] * (1 - out[k])
	}

	hiddenDelta := make([]float64, Hidden)
	for j := range hidden {
		sum := 0.0
		for k := range outDelta {
			sum += n.w2[k][j] * outDelta[k]
		}
		hiddenDelta[j] = sum * hidden[j] * (1 - hidden[j])
	}

	for k, row := range n.w2 {
		vek.Add_Inplace(row, vek.MulNumber(hidden, rate*outDelta[k]))
		n.b2[k] += rate * outDelta[k]
	}
	for j, row := range n.w1 {
		vek.Add_Inplace(row, vek.MulNumber(x, rate*hiddenDelta[j]))
		n.b1[j] += rate * hiddenDelta[j]
	}
	n.clamp()

	return loss / Outputs
}

func (n *Network) clamp() {
	for _, row := range n.w1 {
		clampSlice(row)
	}
	for _, row := range n.w2 {
		clampSlice(row)
	}
	clampSlice(n.b1)
	clampSlice(n.b2)
}

func clampSlice(v []float64) {
	for i, x := range v {
		switch {
		case math.IsNaN(x):
			v[i] = 0
		case x > WeightLimit:
			v[i] = WeightLimit
		case x < -WeightLimit:
			v[i] = -WeightLimit
		}
	}
}

// State returns a deep copy of the weights.
func (n *Network) State() NetworkState {
	return NetworkState{W1: n.w1, B1: n.b1, W2: n.w2, B2: n.b2}.clone()
}

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Validate checks the layer shapes and that every value is finite and within
// WeightLimit.
func (s NetworkState) Validate() error {
	if err := checkMatrix("w1", s.W1, Hidden, Inputs); err != nil {
		return err
	}
	if err := checkMatrix("w2", s.W2, Outputs, Hidden); err != nil {
		return err
	}
	if err := checkVector("b1", s.B1, Hidden); err != nil {
		return err
	}
	return checkVector("b2", s.B2, Outputs)
}

func checkMatrix(name string, m [][]float64, rows, cols int) error {
	if len(m) != rows {
		return fmt.Errorf("%s: expected %d rows, got %d", name, rows, len(m))
	}
	for i, row := range m {
		if err := checkVector(fmt.Sprintf("%s[%d]", name, i), row, cols); err != nil {
			return err
		}
	}
	return nil
}

func checkVector(name string, v []float64, size int) error {
	if len(v) != size {
		return fmt.Errorf("%s: expected %d values, got %d", name, size, len(v))
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) > WeightLimit {
			return fmt.Errorf("%s[%d]: value %v out of range", name, i, x)
		}
	}
	return nil
}

// networkFromState builds a Network from a validated state.
func networkFromState(s NetworkState) (*Network, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	c := s.clone()
	return &Network{w1: c.W1, b1: c.B1, w2: c.W2, b2: c.B2}, nil
}

func (s NetworkState) clone() NetworkState {
	return NetworkState{
		W1: cloneMatrix(s.W1),
		B1: append([]float64(nil), s.B1...),
		W2: cloneMatrix(s.W2),
		B2: append([]float64(nil), s.B2...),
	}
}
