package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/procsight/baseline-monitor/internal/domain/baseline"
)

// loadProcessModel reads a mined process-model document from disk. A missing
// file is not an error; the miner may not have produced one yet.
func loadProcessModel(path string) (baseline.ProcessModel, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return baseline.ProcessModel{}, false, nil
		}
		return baseline.ProcessModel{}, false, fmt.Errorf("reading process model %s: %w", path, err)
	}

	var model baseline.ProcessModel
	if err := json.Unmarshal(data, &model); err != nil {
		return baseline.ProcessModel{}, false, fmt.Errorf("decoding process model %s: %w", path, err)
	}
	return model, true, nil
}
