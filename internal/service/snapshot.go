package service

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/course-programme-api/internal/models"
)

// EncodeSnapshot serialises a module tree into the opaque blob stored on a
// change request. The encoding is plain JSON of the same shape GetData
// returns, oldvalue included: protected-change detection on acceptance runs
// against the then-current live values, not the values at snapshot time.
func EncodeSnapshot(modules []models.Module) ([]byte, error) {
	if modules == nil {
		modules = []models.Module{}
	}
	payload, err := json.Marshal(modules)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return payload, nil
}

// DecodeSnapshot parses a stored snapshot back into a module tree. Any parse
// failure, or a top-level value that is not an array, is a decode error; the
// caller treats it as "no usable snapshot" rather than propagating a panic.
func DecodeSnapshot(snapshot []byte) ([]models.Module, error) {
	trimmed := bytes.TrimSpace(snapshot)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode snapshot: empty payload")
	}
	if trimmed[0] != '[' {
		return nil, fmt.Errorf("decode snapshot: top-level value is not an array")
	}
	var modules []models.Module
	if err := json.Unmarshal(trimmed, &modules); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return modules, nil
}
