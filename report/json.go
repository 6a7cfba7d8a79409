package report

import (
	"fmt"
	"io"

	"github.com/MCPJam/inspector-sub001/model"
	"github.com/bytedance/sonic"
)

// WriteJSON renders the suite outcome as an indented JSON document.
func WriteJSON(w io.Writer, outcome model.SuiteOutcome) error {
	encoded, err := sonic.ConfigDefault.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON report: %w", err)
	}
	if _, err := w.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	return nil
}
