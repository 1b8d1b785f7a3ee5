package model

import (
	"fmt"

	"github.com/kshedden/gonpy"
)

// LoadWeights reads the flat pretrained parameter vector from a .npy file
// and installs it into the network. The file stores every layer's weights
// and biases concatenated in the fixed architecture order; a length
// mismatch is an error.
func (n *Network) LoadWeights(path string) error {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return fmt.Errorf("cannot open weights file %s: %w", path, err)
	}

	var params []float64
	switch r.Dtype {
	case "f4":
		raw, err := r.GetFloat32()
		if err != nil {
			return fmt.Errorf("cannot read weights from %s: %w", path, err)
		}
		params = make([]float64, len(raw))
		for i, v := range raw {
			params[i] = float64(v)
		}
	case "f8":
		params, err = r.GetFloat64()
		if err != nil {
			return fmt.Errorf("cannot read weights from %s: %w", path, err)
		}
	default:
		return fmt.Errorf("weights file %s has unsupported dtype %s", path, r.Dtype)
	}

	if err := n.SetParameters(params); err != nil {
		return fmt.Errorf("weights file %s: %w", path, err)
	}
	return nil
}
