package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"efile/internal/document"
	"efile/internal/optimizer"
	"efile/internal/pipeline"
	"efile/internal/submission/models"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type resultView struct {
	SubmissionID string                     `json:"submission_id,omitempty"`
	Status       models.Status              `json:"status,omitempty"`
	Errors       []pipeline.ErrorDetail     `json:"errors,omitempty"`
	Outcome      document.ValidationOutcome `json:"outcome"`
}

func viewResult(res pipeline.Result) resultView {
	v := resultView{Status: res.Status, Errors: res.Errors, Outcome: res.Outcome}
	if !res.SubmissionID.IsNil() {
		v.SubmissionID = res.SubmissionID.String()
	}
	return v
}

// errNotFiled makes the exit status non-zero after the results are printed.
var errNotFiled = errors.New("one or more returns were not filed")

// readReturnFile reads a serialized return, decompressing gzip input.
func readReturnFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if optimizer.IsCompressed(data) {
		if data, err = optimizer.Decompress(data); err != nil {
			return nil, fmt.Errorf("decompress %s: %w", path, err)
		}
	}
	return data, nil
}
